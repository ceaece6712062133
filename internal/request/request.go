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

// Package request wraps one inbound *http.Request with the lazy,
// bounded-size query-parameter parsing, peer-IP extraction, and cookie
// reading the gateway needs before handing the request to a processor.
package request

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	liblog "github.com/ncbi-psg/gateway-core/internal/logger"
)

// MaxQueryParams bounds how many name/value pairs Parse will keep; extra
// pairs are counted and dropped rather than growing the array.
const MaxQueryParams = 64

// RawBufSize is the budget for the concatenated, percent-decoded bytes of
// every kept parameter name and value.
const RawBufSize = 2048

// WebCubbyUserCookie and AdminAuthTokenCookie name the two cookies the
// gateway reads directly rather than through generic header/cookie
// accessors.
const (
	WebCubbyUserCookie   = "WebCubbyUser"
	AdminAuthTokenCookie = "AdminAuthToken"
)

// Param is one parsed query-string name/value pair.
type Param struct {
	Name  string
	Value string
}

// Request lazily parses its *http.Request's query string into a bounded
// array of Param on first access, mirroring the fixed-size
// array-over-a-fixed-raw-buffer parsing the gateway has always done
// instead of letting an attacker-sized query string grow unbounded
// allocations.
type Request struct {
	raw *http.Request

	once      sync.Once
	params    []Param
	overflow  int
	rawBufLen int
}

// New wraps r. Parsing is deferred until the first call that needs it.
func New(r *http.Request) *Request {
	return &Request{raw: r}
}

// Raw returns the underlying *http.Request.
func (q *Request) Raw() *http.Request {
	return q.raw
}

func (q *Request) parse() {
	q.once.Do(func() {
		query := q.raw.URL.RawQuery
		if query == "" {
			return
		}

		for _, pair := range strings.Split(query, "&") {
			if pair == "" {
				continue
			}

			name, value, _ := strings.Cut(pair, "=")

			dn, err1 := url.QueryUnescape(name)
			dv, err2 := url.QueryUnescape(value)
			if err1 != nil {
				dn = name
			}
			if err2 != nil {
				dv = value
			}

			if len(q.params) >= MaxQueryParams {
				q.overflow++
				continue
			}

			if q.rawBufLen+len(dn)+len(dv) > RawBufSize {
				q.overflow++
				continue
			}

			q.rawBufLen += len(dn) + len(dv)
			q.params = append(q.params, Param{Name: dn, Value: dv})
		}

		if q.overflow > 0 {
			liblog.WarnLevel.Logf("request: dropped %d query parameter(s) past the %d-parameter / %d-byte budget", q.overflow, MaxQueryParams, RawBufSize)
		}
	})
}

// ParamCount returns the number of parameters actually kept (capped at
// MaxQueryParams).
func (q *Request) ParamCount() int {
	q.parse()
	return len(q.params)
}

// Overflow reports how many parameters were dropped because the parser
// ran past MaxQueryParams or RawBufSize.
func (q *Request) Overflow() int {
	q.parse()
	return q.overflow
}

// Param returns the first value bound to name, if any.
func (q *Request) Param(name string) (string, bool) {
	q.parse()
	for _, p := range q.params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// MultiParam returns every value bound to name, preserving order of
// appearance in the query string.
func (q *Request) MultiParam(name string) []string {
	q.parse()
	var out []string
	for _, p := range q.params {
		if p.Name == name {
			out = append(out, p.Value)
		}
	}
	return out
}

// Params returns every parsed parameter, in query-string order.
func (q *Request) Params() []Param {
	q.parse()
	out := make([]Param, len(q.params))
	copy(out, q.params)
	return out
}

// PeerIP resolves the connecting peer's address: the gateway trusts the
// framework's forwarded-client-IP header only when the caller says the
// connection arrived through a reverse proxy (trustForwarded), matching
// the source's distinction between a raw accept()'d peer and a
// framework-observed override.
func (q *Request) PeerIP(trustForwarded bool) string {
	if trustForwarded {
		if xff := q.raw.Header.Get("X-Forwarded-For"); xff != "" {
			if first, _, ok := strings.Cut(xff, ","); ok {
				return strings.TrimSpace(first)
			}
			return strings.TrimSpace(xff)
		}
		if xri := q.raw.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	host, _, err := net.SplitHostPort(q.raw.RemoteAddr)
	if err != nil {
		return q.raw.RemoteAddr
	}
	return host
}

// WebCubbyUser reads the WebCubbyUser cookie, if present.
func (q *Request) WebCubbyUser() (string, bool) {
	return q.cookie(WebCubbyUserCookie)
}

// AdminAuthToken reads the admin auth token cookie, if present.
func (q *Request) AdminAuthToken() (string, bool) {
	return q.cookie(AdminAuthTokenCookie)
}

func (q *Request) cookie(name string) (string, bool) {
	c, err := q.raw.Cookie(name)
	if err != nil || c == nil {
		return "", false
	}
	return c.Value, true
}
