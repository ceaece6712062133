/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package metrics_test

import (
	"net/http"
	"net/http/httptest"

	ginsdk "github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ncbi-psg/gateway-core/internal/metrics"
)

var _ = Describe("Metrics", func() {
	It("serves exposition over the plain net/http handler", func() {
		m := metrics.New()
		m.IncConnOpened()
		m.SetConnActive("below", 3)

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := httptest.NewRecorder()
		m.Handler().ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring("gateway_connections_opened_total 1"))
		Expect(w.Body.String()).To(ContainSubstring(`gateway_connections_active{band="below"} 3`))
	})

	It("serves exposition through a gin handler", func() {
		m := metrics.New()
		m.IncThrottleClose("user_agent")

		engine := ginsdk.New()
		engine.GET("/metrics", m.ExposeGin)

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`gateway_throttle_closes_total{reason="user_agent"} 1`))
	})

	It("tracks backlog and running depth per worker", func() {
		m := metrics.New()
		m.SetBacklogDepth("0", 2)
		m.SetRunningDepth("0", 1)

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := httptest.NewRecorder()
		m.Handler().ServeHTTP(w, req)

		Expect(w.Body.String()).To(ContainSubstring(`gateway_backlog_depth{worker="0"} 2`))
		Expect(w.Body.String()).To(ContainSubstring(`gateway_running_requests{worker="0"} 1`))
	})

	It("flips the shutdown gauge", func() {
		m := metrics.New()
		m.SetShutdownInProgress(true)

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := httptest.NewRecorder()
		m.Handler().ServeHTTP(w, req)

		Expect(w.Body.String()).To(ContainSubstring("gateway_shutdown_in_progress 1"))
	})
})
