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

// Package admin implements the /ADMIN/connections_status introspection
// endpoint (spec.md §6): a JSON snapshot of every connection's runtime
// properties across every worker, immune to throttling and gated by an
// admin auth token cookie checked against the configured client-name
// list.
package admin

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ncbi-psg/gateway-core/internal/connslot"
	errors "github.com/ncbi-psg/gateway-core/internal/xerror"
)

// rootPackage is stripped from the file paths GetCodePackages returns so
// /ADMIN/error_registry reports paths relative to the module root instead
// of the build machine's GOPATH/module cache layout.
const rootPackage = "github.com/ncbi-psg/gateway-core"

// AuthCookieName is the cookie spec.md's Request type reads to identify
// the calling admin client.
const AuthCookieName = "admin_token"

// selfSkipWindow: a connection that issued the very probe it appears in
// is elided if it was opened less than this long ago (spec.md §6 and
// end-to-end scenario 6).
const selfSkipWindow = 10 * time.Millisecond

// WorkerView is the minimal capability admin needs from a worker: its id
// and the ability to iterate its connected slots, matching
// internal/worker.Worker's existing Connected method (and the same
// structural interface internal/throttle.WorkerView already uses).
type WorkerView interface {
	ID() int
	Connected(f func(*connslot.Slot) bool)
}

// ConnectionStatus is one element of the JSON array
// /ADMIN/connections_status returns.
type ConnectionStatus struct {
	ID                uint64    `json:"id"`
	Worker            int       `json:"worker"`
	OpenedAt          time.Time `json:"opened_at"`
	LastActivity      time.Time `json:"last_activity"`
	RequestsInitiated uint64    `json:"requests_initiated"`
	PeerIP            string    `json:"peer_ip"`
	PeerID            string    `json:"peer_id,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	AboveSoftLimit    bool      `json:"above_soft_limit"`
}

// Engine answers admin introspection requests against a fixed set of
// workers and a fixed set of authorized client names.
type Engine struct {
	clientNames map[string]bool
	workers     []WorkerView
}

// New builds an Engine. clientNames is the semicolon/comma-separated
// admin_client_names configuration value, already split and, if
// encrypted, already decrypted by the configuration layer — this
// package only ever compares plaintext names.
func New(clientNames []string, workers []WorkerView) *Engine {
	names := make(map[string]bool, len(clientNames))
	for _, n := range clientNames {
		n = strings.TrimSpace(n)
		if n != "" {
			names[n] = true
		}
	}
	return &Engine{clientNames: names, workers: workers}
}

// Snapshot builds the connection list across every worker, eliding the
// connection matching selfPeerIP if it was opened less than
// selfSkipWindow before now (spec.md §6's self-skip rule). Matching by
// peer address is this port's stand-in for the original's exact
// connection-object identity, since the HTTP layer here does not thread
// the accepting connslot.Slot through the request context — see
// DESIGN.md.
func (e *Engine) Snapshot(selfPeerIP string, now time.Time) []ConnectionStatus {
	var out []ConnectionStatus

	for _, w := range e.workers {
		w.Connected(func(s *connslot.Slot) bool {
			peerIP := s.PeerIPValue()
			openedAt := s.OpenedAt()

			if peerIP == selfPeerIP && now.Sub(openedAt) < selfSkipWindow {
				return true
			}

			status := ConnectionStatus{
				ID:                uint64(s.ID),
				Worker:            w.ID(),
				OpenedAt:          openedAt,
				LastActivity:      s.LastActivity(),
				RequestsInitiated: s.NumRequestsInitiated(),
				PeerIP:            peerIP,
				AboveSoftLimit:    s.AboveSoftLimit(),
			}

			if id, ok := s.PeerIDValue(); ok {
				status.PeerID = id
			}
			if ua, ok := s.UserAgentValue(); ok {
				status.UserAgent = ua
			}

			out = append(out, status)
			return true
		})
	}

	return out
}

// ErrorRegistryEntry is one element of the JSON array
// /ADMIN/error_registry returns: a registered error code, the message it
// currently resolves to, and the source file that registered it.
type ErrorRegistryEntry struct {
	Code    uint16 `json:"code"`
	Message string `json:"message"`
	File    string `json:"file"`
}

// ErrorRegistry reports every CodeError every package's init() has
// registered via errors.RegisterIdFctMessage, sorted ascending by code.
// It exists so an operator can tell, without reading source, which
// MinPkgXxx range (internal/xerror's package-code-range registry) a code
// surfaced in a PSG error response actually belongs to.
func (e *Engine) ErrorRegistry() []ErrorRegistryEntry {
	files := errors.GetCodePackages(rootPackage)

	out := make([]ErrorRegistryEntry, 0, len(files))
	for code, file := range files {
		out = append(out, ErrorRegistryEntry{
			Code:    code.Uint16(),
			Message: code.Message(),
			File:    file,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// authorized reports whether r carries a valid admin auth token cookie.
func (e *Engine) authorized(c *gin.Context) bool {
	cookie, err := c.Cookie(AuthCookieName)
	if err != nil || cookie == "" {
		return false
	}
	return e.clientNames[cookie]
}

// Register wires GET /ADMIN/connections_status and GET
// /ADMIN/error_registry onto engine, both behind the same admin_token
// cookie check.
func (e *Engine) Register(engine *gin.Engine) {
	engine.GET("/ADMIN/connections_status", func(c *gin.Context) {
		if !e.authorized(c) {
			c.Status(http.StatusForbidden)
			return
		}

		peerIP := c.ClientIP()
		c.JSON(http.StatusOK, e.Snapshot(peerIP, time.Now()))
	})

	engine.GET("/ADMIN/error_registry", func(c *gin.Context) {
		if !e.authorized(c) {
			c.Status(http.StatusForbidden)
			return
		}

		c.JSON(http.StatusOK, e.ErrorRegistry())
	})
}
