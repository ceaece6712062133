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

package zhealth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"time"

	ginsdk "github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ncbi-psg/gateway-core/internal/zhealth"
)

func portOf(server *httptest.Server) int {
	u, _ := url.Parse(server.URL)
	p, _ := strconv.Atoi(u.Port())
	return p
}

var _ = Describe("Engine", func() {
	var upstream *httptest.Server

	BeforeEach(func() {
		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/probe/cassandra":
				w.WriteHeader(http.StatusOK)
			case "/probe/lmdb":
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("lmdb down"))
			case "/probe/wgs":
				time.Sleep(200 * time.Millisecond)
				w.WriteHeader(http.StatusOK)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
	})

	AfterEach(func() {
		upstream.Close()
	})

	newEngine := func(critical map[zhealth.CheckID]bool) *zhealth.Engine {
		return zhealth.New(zhealth.Config{
			Port: portOf(upstream),
			Checks: map[zhealth.CheckID]zhealth.CheckConfig{
				zhealth.Cassandra: {Name: "Cassandra", Command: "/probe/cassandra", Timeout: time.Second},
				zhealth.LMDB:      {Name: "LMDB", Command: "/probe/lmdb", Timeout: time.Second},
				zhealth.WGS:       {Name: "WGS", Command: "/probe/wgs", Timeout: 50 * time.Millisecond},
			},
			CriticalSources: critical,
		})
	}

	It("reports a successful probe as 200", func() {
		e := newEngine(map[zhealth.CheckID]bool{zhealth.Cassandra: true})
		result, ok := e.RunOne(context.Background(), zhealth.Cassandra)
		Expect(ok).To(BeTrue())
		Expect(result.HTTPStatus).To(Equal(http.StatusOK))
	})

	It("reports an unknown check id", func() {
		e := newEngine(nil)
		_, ok := e.RunOne(context.Background(), zhealth.CheckID("unknown"))
		Expect(ok).To(BeFalse())
	})

	It("maps a timeout to 504", func() {
		e := newEngine(map[zhealth.CheckID]bool{zhealth.WGS: true})
		result, ok := e.RunOne(context.Background(), zhealth.WGS)
		Expect(ok).To(BeTrue())
		Expect(result.HTTPStatus).To(Equal(http.StatusGatewayTimeout))
	})

	It("aggregates over critical checks when any ran", func() {
		e := newEngine(map[zhealth.CheckID]bool{zhealth.Cassandra: true, zhealth.LMDB: true})
		status, results := e.RunAll(context.Background(), false, nil)
		Expect(status).To(Equal(http.StatusInternalServerError))
		Expect(results).To(HaveLen(2))
	})

	It("falls back to the non-critical max when no critical check ran", func() {
		e := newEngine(map[zhealth.CheckID]bool{})
		status, results := e.RunAll(context.Background(), true, nil)
		Expect(status).To(Equal(http.StatusGatewayTimeout))
		Expect(results).To(HaveLen(3))
	})

	It("honors exclude_checks", func() {
		e := newEngine(map[zhealth.CheckID]bool{zhealth.Cassandra: true, zhealth.LMDB: true})
		status, results := e.RunAll(context.Background(), false, []string{"lmdb"})
		Expect(status).To(Equal(http.StatusOK))
		Expect(results).To(HaveLen(1))
	})

	It("returns 200 when nothing ran", func() {
		e := newEngine(map[zhealth.CheckID]bool{})
		status, results := e.RunAll(context.Background(), false, nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(results).To(BeEmpty())
	})

	Describe("HTTP routes", func() {
		var engine *ginsdk.Engine

		BeforeEach(func() {
			e := newEngine(map[zhealth.CheckID]bool{zhealth.Cassandra: true, zhealth.LMDB: true})
			engine = ginsdk.New()
			e.Register(engine)
		})

		It("always answers /livez with 200", func() {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/livez", nil)
			engine.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusOK))
		})

		It("answers /readyz with the aggregate status", func() {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/readyz", nil)
			engine.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})

		It("answers /readyz/:source with a single-check result", func() {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/readyz/cassandra", nil)
			engine.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusOK))
		})

		It("404s /readyz/:source for an unknown id", func() {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/readyz/bogus", nil)
			engine.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})
})
