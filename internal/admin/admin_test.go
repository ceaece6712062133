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

package admin_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	ginsdk "github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ncbi-psg/gateway-core/internal/admin"
	"github.com/ncbi-psg/gateway-core/internal/connslot"
)

type fakeWorker struct {
	id    int
	slots []*connslot.Slot
}

func (w *fakeWorker) ID() int { return w.id }

func (w *fakeWorker) Connected(f func(*connslot.Slot) bool) {
	for _, s := range w.slots {
		if !f(s) {
			return
		}
	}
}

func newSlot(peerIP, userAgent string, openedAgo time.Duration) *connslot.Slot {
	s := connslot.NewSlot(peerIP, 1, 4, 4)
	s.OpenTimestamp = time.Now().Add(-openedAgo)
	if userAgent != "" {
		s.PeerUserAgent.Observe(userAgent)
	}
	return s
}

var _ = Describe("Engine", func() {
	It("lists every connection across every worker", func() {
		w0 := &fakeWorker{id: 0, slots: []*connslot.Slot{
			newSlot("10.0.0.1:1000", "curl/8", time.Minute),
		}}
		w1 := &fakeWorker{id: 1, slots: []*connslot.Slot{
			newSlot("10.0.0.2:2000", "", time.Minute),
		}}

		e := admin.New(nil, []admin.WorkerView{w0, w1})
		snap := e.Snapshot("", time.Now())

		Expect(snap).To(HaveLen(2))
		Expect(snap[0].UserAgent).To(Equal("curl/8"))
		Expect(snap[1].UserAgent).To(BeEmpty())
	})

	It("elides the probing connection itself when opened under 10ms ago", func() {
		w0 := &fakeWorker{id: 0, slots: []*connslot.Slot{
			newSlot("10.0.0.9:9999", "", time.Millisecond),
			newSlot("10.0.0.1:1", "", time.Minute),
		}}

		e := admin.New(nil, []admin.WorkerView{w0})
		snap := e.Snapshot("10.0.0.9:9999", time.Now())

		Expect(snap).To(HaveLen(1))
		Expect(snap[0].PeerIP).To(Equal("10.0.0.1:1"))
	})

	Describe("HTTP route", func() {
		var engine *ginsdk.Engine

		BeforeEach(func() {
			w0 := &fakeWorker{id: 0, slots: []*connslot.Slot{
				newSlot("10.0.0.1:1", "", time.Minute),
			}}
			e := admin.New([]string{"nst-client"}, []admin.WorkerView{w0})
			engine = ginsdk.New()
			e.Register(engine)
		})

		It("rejects a request with no auth cookie", func() {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/ADMIN/connections_status", nil)
			engine.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusForbidden))
		})

		It("rejects a request with an unrecognized client name", func() {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/ADMIN/connections_status", nil)
			req.AddCookie(&http.Cookie{Name: admin.AuthCookieName, Value: "intruder"})
			engine.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusForbidden))
		})

		It("returns the connection snapshot for a recognized client", func() {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/ADMIN/connections_status", nil)
			req.AddCookie(&http.Cookie{Name: admin.AuthCookieName, Value: "nst-client"})
			engine.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))

			var snap []admin.ConnectionStatus
			Expect(json.Unmarshal(w.Body.Bytes(), &snap)).To(Succeed())
			Expect(snap).To(HaveLen(1))
			Expect(snap[0].PeerIP).To(Equal("10.0.0.1:1"))
		})

		It("rejects an error_registry request with no auth cookie", func() {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/ADMIN/error_registry", nil)
			engine.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusForbidden))
		})

		It("returns the registered error codes for a recognized client", func() {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/ADMIN/error_registry", nil)
			req.AddCookie(&http.Cookie{Name: admin.AuthCookieName, Value: "nst-client"})
			engine.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))

			var reg []admin.ErrorRegistryEntry
			Expect(json.Unmarshal(w.Body.Bytes(), &reg)).To(Succeed())
			Expect(reg).ToNot(BeEmpty())

			var found bool
			for _, e := range reg {
				if e.Code == uint16(admin.ErrorAuthMissing) {
					found = true
					Expect(e.Message).To(Equal("missing admin auth token cookie"))
				}
			}
			Expect(found).To(BeTrue())
		})
	})
})
