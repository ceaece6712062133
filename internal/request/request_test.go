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

package request_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ncbi-psg/gateway-core/internal/request"
)

func newReq(target string) *http.Request {
	return httptest.NewRequest(http.MethodGet, target, nil)
}

var _ = Describe("Request", func() {
	It("parses simple query parameters", func() {
		r := request.New(newReq("/resolve?seq_id=NC_000001&fmt=json"))
		Expect(r.ParamCount()).To(Equal(2))

		v, ok := r.Param("seq_id")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("NC_000001"))

		v, ok = r.Param("fmt")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("json"))
	})

	It("percent-decodes names and values", func() {
		r := request.New(newReq("/resolve?a%20b=c%2Fd"))
		v, ok := r.Param("a b")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("c/d"))
	})

	It("collects repeated parameters in order", func() {
		r := request.New(newReq("/resolve?tag=a&tag=b&tag=c"))
		Expect(r.MultiParam("tag")).To(Equal([]string{"a", "b", "c"}))
	})

	It("is idempotent across repeated calls", func() {
		r := request.New(newReq("/resolve?x=1"))
		first := r.Params()
		second := r.Params()
		Expect(first).To(Equal(second))
	})

	It("drops parameters past MaxQueryParams and counts the overflow", func() {
		var parts []string
		for i := 0; i < request.MaxQueryParams+5; i++ {
			parts = append(parts, fmt.Sprintf("p%d=%d", i, i))
		}
		r := request.New(newReq("/resolve?" + strings.Join(parts, "&")))

		Expect(r.ParamCount()).To(Equal(request.MaxQueryParams))
		Expect(r.Overflow()).To(Equal(5))
	})

	It("reports missing parameters as not found", func() {
		r := request.New(newReq("/resolve?a=1"))
		_, ok := r.Param("nope")
		Expect(ok).To(BeFalse())
	})

	It("prefers X-Forwarded-For only when the caller trusts it", func() {
		req := newReq("/resolve")
		req.RemoteAddr = "10.0.0.5:1234"
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		r := request.New(req)

		Expect(r.PeerIP(false)).To(Equal("10.0.0.5"))
		Expect(r.PeerIP(true)).To(Equal("203.0.113.7"))
	})

	It("falls back to RemoteAddr when there is no forwarded header", func() {
		req := newReq("/resolve")
		req.RemoteAddr = "192.0.2.9:55555"
		r := request.New(req)

		Expect(r.PeerIP(true)).To(Equal("192.0.2.9"))
	})

	It("reads the admin auth token and WebCubbyUser cookies", func() {
		req := newReq("/resolve")
		req.AddCookie(&http.Cookie{Name: request.AdminAuthTokenCookie, Value: "s3cr3t"})
		req.AddCookie(&http.Cookie{Name: request.WebCubbyUserCookie, Value: "jdoe"})
		r := request.New(req)

		tok, ok := r.AdminAuthToken()
		Expect(ok).To(BeTrue())
		Expect(tok).To(Equal("s3cr3t"))

		user, ok := r.WebCubbyUser()
		Expect(ok).To(BeTrue())
		Expect(user).To(Equal("jdoe"))
	})

	It("reports missing cookies as not found", func() {
		r := request.New(newReq("/resolve"))
		_, ok := r.AdminAuthToken()
		Expect(ok).To(BeFalse())
	})
})
