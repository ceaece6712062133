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

// Package reply implements the Reply finite state machine (spec.md §4.5):
// Initialized -> Started -> Finished, PSG chunk emission, and the
// Send4xx/5xx error helper family.
package reply

import (
	"net/http"
	"sync"
	"time"

	liblog "github.com/ncbi-psg/gateway-core/internal/logger"
	"github.com/ncbi-psg/gateway-core/internal/psgframe"
)

// State is one of the three Reply states.
type State uint8

const (
	Initialized State = iota
	Started
	Finished
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Started:
		return "started"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// Reply is one request's PSG-framed HTTP response. It satisfies
// connslot.Canceler and dispatch/echoproc.Completer.
type Reply struct {
	mu sync.Mutex

	w       http.ResponseWriter
	flusher http.Flusher

	requestID uint64
	state     State

	outputIsReady  bool
	outputFinished bool
	postponed      bool
	canceled       bool
	completed      bool

	started time.Time
	extra   map[string]interface{}

	// onFinished fires exactly once, the moment the reply reaches
	// Finished, whichever path got it there. Admission wires this to
	// dispatch.Dispatcher.NotifyRequestFinished.
	onFinished   func()
	finishedOnce sync.Once

	// onDisposed fires at most once, from Dispose, mirroring the spec's
	// generator disposal hook. No code in this module registers it or
	// calls Dispose, so it does not fire when a request ends.
	onDisposed   func()
	disposedOnce sync.Once
}

// New builds a Reply wrapping w for requestID.
func New(w http.ResponseWriter, requestID uint64) *Reply {
	r := &Reply{w: w, requestID: requestID, state: Initialized, started: time.Now()}
	if f, ok := w.(http.Flusher); ok {
		r.flusher = f
	}
	return r
}

// OnFinished registers the callback fired exactly once on transition to
// Finished.
func (r *Reply) OnFinished(fn func()) {
	r.mu.Lock()
	r.onFinished = fn
	r.mu.Unlock()
}

// OnDisposed registers the generator-disposal hook (dispatcher
// OnGeneratorDisposed), fired exactly once from Dispose.
func (r *Reply) OnDisposed(fn func()) {
	r.mu.Lock()
	r.onDisposed = fn
	r.mu.Unlock()
}

// MarkPostponed flags the reply as postponed while still Initialized — the
// admission controller's prerequisite for starting a request (spec.md
// §4.4 step 1).
func (r *Reply) MarkPostponed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Initialized {
		return false
	}
	r.postponed = true
	return true
}

// SetExtra attaches a diagnostic key/value pair (e.g. backlog-wait
// microseconds) that rides along on the next reply-completion chunk.
func (r *Reply) SetExtra(key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.extra == nil {
		r.extra = make(map[string]interface{})
	}
	r.extra[key] = value
}

// RequestID returns the request id this reply was created for.
func (r *Reply) RequestID() uint64 {
	return r.requestID
}

// State returns the current FSM state.
func (r *Reply) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// WriteChunk emits one data chunk. The first call sets the HTTP status and
// transitions Initialized -> Started; later calls stay in Started. A write
// after Finished is a no-op (pending data silently discarded, matching
// spec.md §4.5's "if the connection is already closed").
func (r *Reply) WriteChunk(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Finished {
		return nil
	}

	if r.state == Initialized {
		r.w.Header().Set("Content-Type", "application/x-ncbi-psg")
		r.w.WriteHeader(http.StatusOK)
		r.state = Started
		r.outputIsReady = true
	}

	if _, err := r.w.Write(psgframe.Data(p)); err != nil {
		return err
	}

	if r.flusher != nil {
		r.flusher.Flush()
	}

	return nil
}

// Complete transitions Started (or Initialized, with zero chunks written)
// to Finished: it emits the reply-completion chunk carrying status and
// elapsed wall time, then fires onFinished exactly once.
func (r *Reply) Complete(status int) {
	r.mu.Lock()

	if r.state == Finished {
		r.mu.Unlock()
		return
	}

	if r.state == Initialized {
		r.w.Header().Set("Content-Type", "application/x-ncbi-psg")
		r.w.WriteHeader(status)
	}

	elapsed := time.Since(r.started).Milliseconds()
	_, _ = r.w.Write(psgframe.CompletionWithExtra(status, elapsed, r.extra))
	if r.flusher != nil {
		r.flusher.Flush()
	}

	r.state = Finished
	r.completed = true
	r.mu.Unlock()

	r.fireFinished()
}

// Cancel implements connslot.Canceler: the connection is closing. If the
// reply has not finished, it is forced to Finished without attempting any
// further writes to a dead socket.
func (r *Reply) Cancel() {
	r.mu.Lock()
	if r.state == Finished {
		r.mu.Unlock()
		return
	}
	r.canceled = true
	r.state = Finished
	r.mu.Unlock()

	r.fireFinished()
}

// Stop models the HTTP-library "socket stop callback" (spec.md §4.5): it
// clears no generator callbacks of its own (net/http has none to clear)
// but marks output_finished and, unless already Finished, cancels.
func (r *Reply) Stop() {
	r.mu.Lock()
	r.outputFinished = true
	already := r.state == Finished
	r.mu.Unlock()

	if !already {
		r.Cancel()
	}
}

// Dispose runs the generator-disposal hook exactly once, matching
// spec.md's OnLibh2oFinished contract (renamed OnGeneratorDisposed).
func (r *Reply) Dispose() {
	r.disposedOnce.Do(func() {
		r.mu.Lock()
		fn := r.onDisposed
		r.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

func (r *Reply) fireFinished() {
	r.finishedOnce.Do(func() {
		r.mu.Lock()
		fn := r.onFinished
		r.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// sendError is the shared body of the Send4xx/5xx helpers: if Initialized,
// write the PSG error envelope and a completion chunk, then finish;
// otherwise just Cancel the stream (spec.md §4.5's "else they close the
// stream with an error send-state").
func (r *Reply) sendError(status int, code int, severity psgframe.Severity, message string) {
	r.mu.Lock()
	if r.state != Initialized {
		r.mu.Unlock()
		liblog.WarnLevel.Logf("reply %d: error helper called outside Initialized state (%s)", r.requestID, r.state)
		r.Cancel()
		return
	}

	r.w.Header().Set("Content-Type", "application/x-ncbi-psg")
	r.w.WriteHeader(status)
	_, _ = r.w.Write(psgframe.Message(status, code, severity, message))
	elapsed := time.Since(r.started).Milliseconds()
	_, _ = r.w.Write(psgframe.Completion(status, elapsed))
	if r.flusher != nil {
		r.flusher.Flush()
	}
	r.state = Finished
	r.mu.Unlock()

	r.fireFinished()
}

func (r *Reply) Send400(code int, message string) {
	r.sendError(http.StatusBadRequest, code, psgframe.SeverityError, message)
}

func (r *Reply) Send401(message string) {
	r.sendError(http.StatusUnauthorized, int(UnknownError), psgframe.SeverityError, message)
}

func (r *Reply) Send404(message string) {
	r.sendError(http.StatusNotFound, int(UnknownError), psgframe.SeverityError, message)
}

func (r *Reply) Send409(message string) {
	r.sendError(http.StatusConflict, int(UnknownError), psgframe.SeverityError, message)
}

func (r *Reply) Send500(message string) {
	r.sendError(http.StatusInternalServerError, int(UnknownError), psgframe.SeverityCritical, message)
}

func (r *Reply) Send502(message string) {
	r.sendError(http.StatusBadGateway, int(UnknownError), psgframe.SeverityCritical, message)
}

func (r *Reply) Send503(code int, message string) {
	r.sendError(http.StatusServiceUnavailable, code, psgframe.SeverityError, message)
}
