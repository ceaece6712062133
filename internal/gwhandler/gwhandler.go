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

// Package gwhandler is the single net/http entry point a worker serves
// every connection through: it recovers the accepting net.Conn from the
// request context, looks up that connection's admission controller, and
// hands the request to it, completing the chain from
// internal/httpengine's raw HTTP stack down to internal/admission's
// per-connection policy (spec.md §4.4).
package gwhandler

import (
	"net"
	"net/http"
	"strings"

	"github.com/ncbi-psg/gateway-core/internal/admission"
	"github.com/ncbi-psg/gateway-core/internal/httpengine"
	liblog "github.com/ncbi-psg/gateway-core/internal/logger"
	"github.com/ncbi-psg/gateway-core/internal/reply"
	"github.com/ncbi-psg/gateway-core/internal/request"
)

// ControllerLookup resolves the admission controller bound to an accepted
// connection. *internal/worker.Worker's Controller method satisfies this.
type ControllerLookup func(conn net.Conn) (*admission.Controller, bool)

// Handler bridges net/http to the admission controller bound to each
// connection, via the net.Conn httpengine's ConnContext hook stashes on
// every request's context.
type Handler struct {
	lookup      ControllerLookup
	beforeAdmit func(requestID uint64, rep *reply.Reply)
}

// New builds a Handler around a worker's controller lookup. beforeAdmit,
// if non-nil, runs after the Reply is built but before the admission
// controller ever sees it — the hook a concrete dispatcher implementation
// that needs to associate a request id with a reply ahead of
// DispatchRequest (e.g. internal/dispatch/echoproc.Dispatcher.Register)
// is wired through.
func New(lookup ControllerLookup, beforeAdmit func(requestID uint64, rep *reply.Reply)) *Handler {
	return &Handler{lookup: lookup, beforeAdmit: beforeAdmit}
}

// ServeHTTP implements http.Handler. A request whose connection cannot be
// resolved to a controller (should not happen: every connection this
// process accepts is registered by the worker before net/http ever calls
// into this handler) gets a 503 and is dropped.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, ok := httpengine.ConnFromContext(r.Context())
	if !ok {
		liblog.ErrorLevel.Logf("gwhandler: request context carries no net.Conn")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	ctrl, ok := h.lookup(conn)
	if !ok {
		liblog.ErrorLevel.Logf("gwhandler: no admission controller for connection from %s", r.RemoteAddr)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	requestID := admission.NextRequestID()
	rep := reply.New(w, requestID)
	req := request.New(r)

	if h.beforeAdmit != nil {
		h.beforeAdmit(requestID, rep)
	}

	ctrl.Admit(requestID, rep, preliminaryNames(r), req)
}

// preliminaryNames derives the candidate processor name(s) for a request
// from its URL path, the one piece of routing information every PSG
// request carries regardless of which concrete processors are wired into
// the dispatcher.
func preliminaryNames(r *http.Request) []string {
	trimmed := strings.Trim(r.URL.Path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
