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

// Package connslot models the per-connection bookkeeping a worker keeps for
// every accepted net.Conn: identity, open/last-activity timestamps, the
// running and backlogged request tuples, and the connection-limit flags a
// worker consults before admitting a new request.
package connslot

import (
	"sync"
	"sync/atomic"
	"time"

	liberr "github.com/ncbi-psg/gateway-core/internal/xerror"
)

// ID is a ConnectionId: a monotonically increasing identifier allocated on
// each accepted connection. The teacher's equivalent counters (request ids,
// correlation ids) are allocated the same way, under an atomic add rather
// than the spec's spinlock — sync/atomic is the idiomatic Go substitute for
// a single-word spinlock-protected counter.
type ID uint64

var nextID atomic.Uint64

// NextID allocates the next ConnectionId.
func NextID() ID {
	return ID(nextID.Add(1))
}

// PeerField is an optional observed value (peer id, user agent) that
// becomes "mutated" once two different non-empty values have been seen on
// the same connection — the proxy case described in spec.md §3.
type PeerField struct {
	Value   string
	Set     bool
	Mutated bool
}

// Observe records v, flagging Mutated if a different non-empty value was
// already recorded.
func (p *PeerField) Observe(v string) {
	if v == "" {
		return
	}
	if p.Set && p.Value != v {
		p.Mutated = true
	}
	p.Value = v
	p.Set = true
}

// Canceler is the minimal capability connslot needs from a Reply: enough to
// ask a running or backlogged request to stop without importing
// internal/reply, so any type with a Cancel method can sit in a slot.
type Canceler interface {
	Cancel()
}

// RunningEntry is one (Request, Reply, processor_list) tuple actively being
// served on this connection.
type RunningEntry struct {
	Request    interface{}
	Reply      Canceler
	Processors []string
}

// BacklogEntry is one (Request, Reply, processor_names, backlog_start)
// tuple waiting for admission.
type BacklogEntry struct {
	Request        interface{}
	Reply          Canceler
	ProcessorNames []string
	BacklogStart   time.Time
}

// Slot is one ConnectionSlot: spec.md §3, one per accepted TCP connection.
// All mutation happens on the owning worker's goroutine by convention
// (spec.md §5); the mutex here only guards fields read cross-goroutine by
// internal/throttle, internal/zhealth and internal/admin (idle scan,
// connection listing).
type Slot struct {
	mu sync.Mutex

	ID ID

	OpenTimestamp         time.Time
	LastRequestTimestamp  time.Time
	ConnCountAtOpen       int64

	NumInitiatedRequests   uint64
	NumFinishedRequests    uint64
	RejectedDueToSoftLimit uint64

	PeerIP        string
	PeerID        PeerField
	PeerUserAgent PeerField

	ExceedSoftLimit    bool
	MovedFromBadToGood bool

	IsClosed           bool
	TimersStopped      bool
	HTTPCtxInitialized bool

	MaxRunning int
	MaxBacklog int

	running []RunningEntry
	backlog []BacklogEntry

	// CloseCh is the async-close signal internal/throttle and
	// internal/admission deliver to the owning worker (spec.md §4.7's
	// async_close, §4.4's connection-close cancellation ordering).
	CloseCh chan struct{}

	next, prev *Slot // intrusive list pointers, owned by List
	inList     *List
}

// NewSlot allocates a fresh slot for a newly accepted connection.
func NewSlot(peerIP string, connCountAtOpen int64, maxRunning, maxBacklog int) *Slot {
	return &Slot{
		ID:              NextID(),
		OpenTimestamp:   time.Now(),
		ConnCountAtOpen: connCountAtOpen,
		PeerIP:          peerIP,
		MaxRunning:      maxRunning,
		MaxBacklog:      maxBacklog,
		CloseCh:         make(chan struct{}, 1),
	}
}

// ResetForReuse clears per-connection state so the slot can be returned to
// a worker's free list and handed to the next accepted connection, instead
// of being garbage-collected and re-allocated (spec.md §4.2's slot-recycling
// contract).
func (s *Slot) ResetForReuse() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ID = NextID()
	s.OpenTimestamp = time.Now()
	s.LastRequestTimestamp = time.Time{}
	s.ConnCountAtOpen = 0
	s.NumInitiatedRequests = 0
	s.NumFinishedRequests = 0
	s.RejectedDueToSoftLimit = 0
	s.PeerIP = ""
	s.PeerID = PeerField{}
	s.PeerUserAgent = PeerField{}
	s.ExceedSoftLimit = false
	s.MovedFromBadToGood = false
	s.IsClosed = false
	s.TimersStopped = false
	s.HTTPCtxInitialized = false
	s.running = s.running[:0]
	s.backlog = s.backlog[:0]

	select {
	case <-s.CloseCh:
	default:
	}
}

// PeerIPValue returns the connection's peer address, guarded for the
// cross-goroutine readers (internal/throttle, internal/zhealth).
func (s *Slot) PeerIPValue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PeerIP
}

// PeerIDValue returns the observed peer-id PeerField's value and whether
// one has ever been recorded.
func (s *Slot) PeerIDValue() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PeerID.Value, s.PeerID.Set
}

// UserAgentValue returns the observed user-agent PeerField's value and
// whether one has ever been recorded.
func (s *Slot) UserAgentValue() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PeerUserAgent.Value, s.PeerUserAgent.Set
}

// NumRequestsInitiated returns the count of requests this connection has
// ever admitted into running or backlog, or rejected at the soft limit —
// internal/throttle's "already
// served more than one initiated request" test (spec.md §4.7 step 2).
func (s *Slot) NumRequestsInitiated() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.NumInitiatedRequests
}

// LastActivity returns the last-request timestamp, falling back to the
// open timestamp for a connection that has never initiated a request
// (spec.md §4.7's idle-connection test).
func (s *Slot) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LastRequestTimestamp.IsZero() {
		return s.OpenTimestamp
	}
	return s.LastRequestTimestamp
}

// OpenedAt returns the connection's open timestamp, guarded for the
// cross-goroutine readers (internal/zhealth, internal/admin).
func (s *Slot) OpenedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OpenTimestamp
}

// AboveSoftLimit reports whether this connection was accepted while the
// connection count was already above the configured soft limit —
// internal/admin's introspection snapshot flag (spec.md §6).
func (s *Slot) AboveSoftLimit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ExceedSoftLimit
}

// NumRunning returns |running|.
func (s *Slot) NumRunning() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// NumBacklogged returns |backlog|.
func (s *Slot) NumBacklogged() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.backlog)
}

// PushRunning admits e directly into the running set. Callers (the
// admission controller) are responsible for enforcing the two-phase start
// protocol before calling this.
func (s *Slot) PushRunning(e RunningEntry) liberr.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.IsClosed {
		return ErrorSlotClosed.Error(nil)
	}
	if len(s.running) >= s.MaxRunning {
		return ErrorRunningFull.Error(nil)
	}

	s.running = append(s.running, e)
	s.NumInitiatedRequests++
	s.LastRequestTimestamp = time.Now()
	return nil
}

// PushBacklog appends e to the FIFO backlog.
func (s *Slot) PushBacklog(e BacklogEntry) liberr.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.IsClosed {
		return ErrorSlotClosed.Error(nil)
	}
	if len(s.backlog) >= s.MaxBacklog {
		return ErrorBacklogFull.Error(nil)
	}

	s.backlog = append(s.backlog, e)
	s.NumInitiatedRequests++
	return nil
}

// PopBacklogFIFO removes and returns the oldest backlog entry, or false if
// the backlog is empty. Transitioning a popped entry to running is the
// caller's (internal/admission) responsibility, preserving FIFO ordering
// per spec.md §3.
func (s *Slot) PopBacklogFIFO() (BacklogEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.backlog) == 0 {
		return BacklogEntry{}, false
	}

	e := s.backlog[0]
	s.backlog = s.backlog[1:]
	return e, true
}

// FinishRunning removes a completed running entry, locating it by pointer
// identity of its Reply.
func (s *Slot) FinishRunning(reply Canceler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.running {
		if e.Reply == reply {
			s.running = append(s.running[:i], s.running[i+1:]...)
			s.NumFinishedRequests++
			return true
		}
	}
	return false
}

// RejectSoftLimit records a request turned away by the soft-limit check
// without ever entering running or backlog.
func (s *Slot) RejectSoftLimit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RejectedDueToSoftLimit++
	s.NumInitiatedRequests++
}

// DrainRunning removes and returns every running entry. Unlike Close, it
// leaves IsClosed untouched — internal/admission's connection-close path
// uses this to reach each entry's processor set (not just its Reply)
// before finally calling Close.
func (s *Slot) DrainRunning() []RunningEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]RunningEntry(nil), s.running...)
	s.running = s.running[:0]
	return out
}

// Close marks the slot closed, cancels every running reply, and drops every
// backlog entry — spec.md §3's "when is_closed is true" invariant.
func (s *Slot) Close() {
	s.mu.Lock()
	running := append([]RunningEntry(nil), s.running...)
	s.backlog = s.backlog[:0]
	s.IsClosed = true
	s.mu.Unlock()

	for _, e := range running {
		if e.Reply != nil {
			e.Reply.Cancel()
		}
	}
}

// RequestClose asks the owning worker to close this connection
// asynchronously (internal/throttle's cross-worker close path).
func (s *Slot) RequestClose() {
	select {
	case s.CloseCh <- struct{}{}:
	default:
	}
}

// Quiescent reports whether the slot is at a quiescent point (nothing
// running, nothing backlogged) and spec.md §3's accounting invariant holds
// there: initiated = finished + running + backlog + rejected.
func (s *Slot) Quiescent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.running) != 0 || len(s.backlog) != 0 {
		return false
	}
	return s.NumInitiatedRequests == s.NumFinishedRequests+s.RejectedDueToSoftLimit
}
