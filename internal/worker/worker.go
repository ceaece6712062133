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

// Package worker implements one gateway worker (spec.md §4.2, component C):
// a free-list/connected-list pair of connection slots fed by an exported
// listener, an HTTP engine bound to that listener, and the accept-time
// connection-limit enforcement that used to happen inline in the acceptor.
package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ncbi-psg/gateway-core/internal/admission"
	"github.com/ncbi-psg/gateway-core/internal/connlimits"
	"github.com/ncbi-psg/gateway-core/internal/connslot"
	"github.com/ncbi-psg/gateway-core/internal/dispatch"
	"github.com/ncbi-psg/gateway-core/internal/httpengine"
	liblog "github.com/ncbi-psg/gateway-core/internal/logger"
	"github.com/ncbi-psg/gateway-core/internal/psgframe"
	"github.com/ncbi-psg/gateway-core/internal/throttle"
	"github.com/ncbi-psg/gateway-core/internal/workerloop"
)

const keepAlivePeriod = 120 * time.Second

// Worker owns one exported listener, one HTTP engine, and the free/connected
// slot lists for every connection net/http ever hands it through ConnState.
type Worker struct {
	id         int
	ln         *exportedListener
	engine     *httpengine.Engine
	limits     *connlimits.Tracker
	dispatcher dispatch.Dispatcher
	throttle   *throttle.Engine
	handler    http.Handler

	maxRunning int
	maxBacklog int

	loop *workerloop.Loop

	mu          sync.Mutex
	free        *connslot.List
	connected   *connslot.List
	slots       map[net.Conn]*connslot.Slot
	bad         map[net.Conn]bool
	controllers map[net.Conn]*admission.Controller
}

// New builds a Worker. addr/backlog describe the exported listener fed by
// the acceptor's round-robin Submit calls; engine and limits are shared
// infrastructure the acceptor wires in (engine is per-worker, limits is
// process-wide). dispatcher is handed to one admission.Controller per
// connection (spec.md §4.4): the controller, not the slot, owns the
// connection-close cancellation ordering, so it must outlive every
// individual request on that connection.
func New(id int, addr net.Addr, backlog int, engine *httpengine.Engine, limits *connlimits.Tracker, dispatcher dispatch.Dispatcher, maxRunning, maxBacklog int, handler http.Handler) *Worker {
	return &Worker{
		id:          id,
		ln:          newExportedListener(addr, backlog),
		engine:      engine,
		limits:      limits,
		dispatcher:  dispatcher,
		handler:     handler,
		maxRunning:  maxRunning,
		maxBacklog:  maxBacklog,
		free:        &connslot.List{},
		connected:   &connslot.List{},
		slots:       make(map[net.Conn]*connslot.Slot),
		bad:         make(map[net.Conn]bool),
		controllers: make(map[net.Conn]*admission.Controller),
	}
}

// ID returns this worker's index, used for logging and diagnostics.
func (w *Worker) ID() int { return w.id }

// SetThrottle attaches the process-wide throttling engine, applied to
// every admission.Controller this worker builds from this call onward.
// Set once at start-up, after the engine has been built from the full
// worker list (internal/throttle.WorkerView is satisfied by *Worker
// itself, so the engine cannot exist before the workers do).
func (w *Worker) SetThrottle(engine *throttle.Engine) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.throttle = engine
}

// Serve runs this worker's HTTP engine against its exported listener until
// ctx is canceled or the listener is closed. It also starts this worker's
// maintain loop (internal/workerloop), the 1 Hz tick that drains any
// backlog left stalled since its last running slot freed and drives the
// throttling engine's idle-connection sweep on connections that never see
// another request (spec.md §4.4's "or when a scheduled maintain timer
// fires", §4.7's idle-timeout close).
func (w *Worker) Serve(ctx context.Context) error {
	w.mu.Lock()
	w.loop = workerloop.New(ctx, 0)
	loop := w.loop
	w.mu.Unlock()

	go loop.Run(w.onMaintainTick)
	defer loop.Close()

	err := w.engine.Serve(ctx, w.ln, w.handler, w.onConnState)
	if err != nil {
		return err
	}
	return nil
}

// Close shuts down the exported listener, unblocking Serve, and stops this
// worker's maintain loop.
func (w *Worker) Close() {
	_ = w.ln.Close()

	w.mu.Lock()
	loop := w.loop
	w.mu.Unlock()
	if loop != nil {
		loop.Close()
	}
}

// onMaintainTick runs on the maintain loop's own goroutine once a second:
// a throttle probe with no connection of its own (only the idle sweep can
// fire) followed by a backlog drain on every connection this worker
// currently owns, then a sweep of this worker's own slots for any
// RequestClose signal the throttle engine left on their CloseCh
// (spec.md §4.7's asynchronous idle-connection close).
func (w *Worker) onMaintainTick() {
	if w.throttle != nil {
		w.throttle.Check(nil)
	}

	w.mu.Lock()
	ctrls := make([]*admission.Controller, 0, len(w.controllers))
	for _, c := range w.controllers {
		ctrls = append(ctrls, c)
	}
	conns := make(map[net.Conn]*connslot.Slot, len(w.slots))
	for c, s := range w.slots {
		conns[c] = s
	}
	w.mu.Unlock()

	for _, c := range ctrls {
		c.DrainBacklog()
	}

	for conn, slot := range conns {
		w.closeIfRequested(conn, slot)
	}
}

// closeIfRequested drains slot's CloseCh non-blockingly and, if a close was
// pending, tears down conn. net/http notices the closed socket on its own
// and runs onConnState -> releaseSlot through the normal StateClosed path,
// so this only has to sever the connection itself, not touch the slot maps.
func (w *Worker) closeIfRequested(conn net.Conn, slot *connslot.Slot) {
	select {
	case <-slot.CloseCh:
	default:
		return
	}

	liblog.InfoLevel.Logf("worker %d: closing idle connection from %s (throttle)", w.id, conn.RemoteAddr())
	closeIdle(conn)
}

// closeIdle picks socket-close vs. graceful stream shutdown by the
// connection's own protocol: a TLS connection's Close sends close_notify
// per crypto/tls, so a plain Close already is the graceful path; a bare TCP
// connection instead gets a half-close (CloseWrite) so the peer sees a
// clean EOF on its next read instead of a reset mid-stream.
func closeIdle(conn net.Conn) {
	if _, ok := conn.(*tls.Conn); ok {
		_ = conn.Close()
		return
	}
	if wc, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = wc.CloseWrite()
		return
	}
	_ = conn.Close()
}

// Submit is the acceptor's round-robin handoff (spec.md §4.2 "On accept"):
// it tunes the socket, applies the connection-population limits, and either
// hands the connection to net/http via the exported listener or refuses it
// with a PSG 503 and closes it synchronously.
func (w *Worker) Submit(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(keepAlivePeriod)
	}

	decision, badConn := w.limits.Admit()
	if decision == connlimits.Refuse {
		refuse(conn, 503, ErrorTooManyConnections.PSGCode(), "too many connections")
		return
	}

	slot := w.allocSlot(conn.RemoteAddr().String(), w.limits.Total(), badConn)

	w.mu.Lock()
	w.slots[conn] = slot
	w.bad[conn] = badConn
	ctrl := admission.New(slot, w.dispatcher)
	if w.throttle != nil {
		ctrl = ctrl.WithThrottle(w.throttle)
	}
	w.controllers[conn] = ctrl
	w.connected.PushBack(slot)
	w.mu.Unlock()

	if !w.ln.deliver(conn) {
		liblog.WarnLevel.Logf("worker %d: exported listener backlog full, refusing connection from %s", w.id, conn.RemoteAddr())
		w.releaseSlot(conn)
		refuse(conn, 503, ErrorTooManyConnections.PSGCode(), "too many pending connections")
	}
}

func (w *Worker) allocSlot(peerIP string, connCount int64, bad bool) *connslot.Slot {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.free.PopFront()
	if s == nil {
		s = connslot.NewSlot(peerIP, connCount, w.maxRunning, w.maxBacklog)
	} else {
		s.ResetForReuse()
		s.PeerIP = peerIP
		s.ConnCountAtOpen = connCount
		s.MaxRunning = w.maxRunning
		s.MaxBacklog = w.maxBacklog
	}
	s.ExceedSoftLimit = bad
	s.HTTPCtxInitialized = true
	return s
}

// Slot looks up the connection slot bound to conn, if any.
func (w *Worker) Slot(conn net.Conn) (*connslot.Slot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.slots[conn]
	return s, ok
}

// Controller looks up the admission controller bound to conn, if any —
// the HTTP handler's entry point for every inbound request.
func (w *Worker) Controller(conn net.Conn) (*admission.Controller, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.controllers[conn]
	return c, ok
}

// onConnState is wired into httpengine.Engine.Serve as the ConnStateFunc:
// on close/hijack it closes the slot, releases its connlimits accounting,
// and recycles it onto the free list (spec.md §4.2 "ResetForReuse").
func (w *Worker) onConnState(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateClosed, http.StateHijacked:
		w.releaseSlot(conn)
	}
}

func (w *Worker) releaseSlot(conn net.Conn) {
	w.mu.Lock()
	s, ok := w.slots[conn]
	if !ok {
		w.mu.Unlock()
		return
	}
	badConn := w.bad[conn]
	c := w.controllers[conn]
	delete(w.slots, conn)
	delete(w.bad, conn)
	delete(w.controllers, conn)
	w.connected.Remove(s)
	w.mu.Unlock()

	if c != nil {
		c.CancelConnection()
	} else {
		s.Close()
	}
	w.limits.Release(badConn)

	w.mu.Lock()
	w.free.PushBack(s)
	w.mu.Unlock()
}

// Connected exposes the connected-list for internal/throttle's idle scan.
func (w *Worker) Connected(f func(*connslot.Slot) bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected.Each(f)
}

func refuse(conn net.Conn, status int, code int, message string) {
	defer conn.Close()

	body := psgframe.Message(status, code, psgframe.SeverityError, message)
	body = append(body, psgframe.Completion(status, 0)...)

	header := fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: application/x-ncbi-psg\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		status, http.StatusText(status), len(body),
	)

	_, _ = conn.Write([]byte(header))
	_, _ = conn.Write(body)
}
