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

// Package admission implements the per-connection admission controller
// (spec.md §4.4, component H): start immediately, enqueue to a bounded
// backlog, or reject with a PSG 503, plus the two-phase processor start
// protocol and the connection-close cancellation ordering.
package admission

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ncbi-psg/gateway-core/internal/connslot"
	"github.com/ncbi-psg/gateway-core/internal/dispatch"
	liblog "github.com/ncbi-psg/gateway-core/internal/logger"
	"github.com/ncbi-psg/gateway-core/internal/reply"
	"github.com/ncbi-psg/gateway-core/internal/throttle"
)

var nextRequestID atomic.Uint64

// NextRequestID allocates a process-wide unique request id, independent of
// the connection ids internal/connslot hands out.
func NextRequestID() uint64 {
	return nextRequestID.Add(1)
}

type tracked struct {
	requestID  uint64
	processors []dispatch.Processor
}

// Controller runs the admission policy for one connection slot.
type Controller struct {
	slot       *connslot.Slot
	dispatcher dispatch.Dispatcher
	throttle   *throttle.Engine

	mu      sync.Mutex
	running map[*reply.Reply]tracked
}

// New builds a Controller bound to one connection's slot, with no
// throttling engine attached (see WithThrottle).
func New(slot *connslot.Slot, dispatcher dispatch.Dispatcher) *Controller {
	return &Controller{
		slot:       slot,
		dispatcher: dispatcher,
		running:    make(map[*reply.Reply]tracked),
	}
}

// WithThrottle attaches the process-wide throttling engine (spec.md
// §4.7): Admit runs engine.Check against this connection's slot before
// the three-way admission decision. On CloseThis it answers the request
// with a PSG 503 and skips admission; it does not close the connection.
func (c *Controller) WithThrottle(engine *throttle.Engine) *Controller {
	c.throttle = engine
	return c
}

// Admit runs spec.md §4.4's three-way decision for one arriving request:
// start immediately if under max_running, enqueue if under max_backlog,
// else reject with a PSG 503 "too many pending requests".
func (c *Controller) Admit(requestID uint64, r *reply.Reply, preliminaryNames []string, req interface{}) {
	if !r.MarkPostponed() {
		liblog.WarnLevel.Logf("admission: request %d not Initialized at arrival, dropping", requestID)
		return
	}

	if c.throttle != nil && c.throttle.Check(c.slot) == throttle.CloseThis {
		r.Send503(reply.TooManyRequests.PSGCode(), "connection throttled")
		return
	}

	if c.slot.NumRunning() < c.slot.MaxRunning {
		c.start(requestID, r, preliminaryNames)
		return
	}

	if c.slot.NumBacklogged() < c.slot.MaxBacklog {
		if err := c.slot.PushBacklog(connslot.BacklogEntry{
			Request:        req,
			Reply:          r,
			ProcessorNames: preliminaryNames,
			BacklogStart:   time.Now(),
		}); err != nil {
			r.Send503(reply.TooManyRequests.PSGCode(), "too many pending requests")
		}
		return
	}

	c.slot.RejectSoftLimit()
	r.Send503(reply.TooManyRequests.PSGCode(), "too many pending requests")
}

// start runs the two-phase dispatch protocol: every processor receives
// SendProcessorStartMessage before any processor receives Start, so a
// processor that synchronously cancels its siblings during its start
// message never races a sibling's Start.
func (c *Controller) start(requestID uint64, r *reply.Reply, preliminaryNames []string) {
	processors := c.dispatcher.DispatchRequest(requestID, preliminaryNames)
	if len(processors) == 0 {
		// The dispatcher has already written the terminal error into r.
		return
	}

	if err := c.slot.PushRunning(connslot.RunningEntry{Reply: r, Processors: preliminaryNames}); err != nil {
		r.Send503(reply.TooManyRequests.PSGCode(), "too many pending requests")
		return
	}

	c.mu.Lock()
	c.running[r] = tracked{requestID: requestID, processors: processors}
	c.mu.Unlock()

	r.OnFinished(func() { c.onFinished(r) })

	for _, p := range processors {
		p.SendProcessorStartMessage()
	}

	c.dispatcher.StartRequestTimer(requestID)

	for _, p := range processors {
		p.Start()
	}
}

func (c *Controller) onFinished(r *reply.Reply) {
	c.mu.Lock()
	t, ok := c.running[r]
	delete(c.running, r)
	c.mu.Unlock()

	if !ok {
		return
	}

	c.slot.FinishRunning(r)
	c.dispatcher.NotifyRequestFinished(t.requestID)
	c.DrainBacklog()
}

// DrainBacklog starts backlogged requests strictly FIFO while running has
// spare capacity (spec.md §4.4: called "whenever a running slot frees or
// when a scheduled maintain timer fires").
func (c *Controller) DrainBacklog() {
	for c.slot.NumRunning() < c.slot.MaxRunning {
		entry, ok := c.slot.PopBacklogFIFO()
		if !ok {
			return
		}

		r, ok := entry.Reply.(*reply.Reply)
		if !ok {
			continue
		}

		r.SetExtra("backlog_wait_us", time.Since(entry.BacklogStart).Microseconds())
		c.start(r.RequestID(), r, entry.ProcessorNames)
	}
}

// CancelConnection runs spec.md §4.4's connection-close ordering: backlog
// first (a request that never started has no processor group to notify),
// then each running reply gets a processor ConnectionCancel followed by a
// Peek so the processor can emit a final chunk before the stream tears
// down.
func (c *Controller) CancelConnection() {
	for {
		entry, ok := c.slot.PopBacklogFIFO()
		if !ok {
			break
		}
		if entry.Reply != nil {
			entry.Reply.Cancel()
		}
	}

	for _, entry := range c.slot.DrainRunning() {
		// Look the processors up before Cancel: Cancel finishes the reply,
		// and its onFinished hook removes the entry from c.running.
		r, isReply := entry.Reply.(*reply.Reply)
		var t tracked
		var found bool
		if isReply {
			c.mu.Lock()
			t, found = c.running[r]
			c.mu.Unlock()
		}

		entry.Reply.Cancel()

		if isReply {
			c.mu.Lock()
			delete(c.running, r)
			c.mu.Unlock()
		}
		if found {
			for _, p := range t.processors {
				p.ConnectionCancel()
				p.Peek(false)
			}
		}
	}

	c.slot.Close()
}
