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

package admission_test

import (
	"net/http/httptest"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ncbi-psg/gateway-core/internal/admission"
	"github.com/ncbi-psg/gateway-core/internal/connslot"
	"github.com/ncbi-psg/gateway-core/internal/dispatch"
	"github.com/ncbi-psg/gateway-core/internal/dispatch/echoproc"
	"github.com/ncbi-psg/gateway-core/internal/reply"
	"github.com/ncbi-psg/gateway-core/internal/throttle"
)

// fakeWorkerView satisfies throttle.WorkerView around a fixed slot set.
type fakeWorkerView struct {
	id    int
	slots []*connslot.Slot
}

func (f *fakeWorkerView) ID() int { return f.id }
func (f *fakeWorkerView) Connected(fn func(*connslot.Slot) bool) {
	for _, s := range f.slots {
		fn(s)
	}
}

// fakeProcessor records every lifecycle call it receives, for the
// connection-close cancellation ordering test.
type fakeProcessor struct {
	mu                sync.Mutex
	started           bool
	connectionCancels int
	peeks             []bool
}

func (p *fakeProcessor) SendProcessorStartMessage() {}
func (p *fakeProcessor) Start() {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
}
func (p *fakeProcessor) Peek(dataReady bool) {
	p.mu.Lock()
	p.peeks = append(p.peeks, dataReady)
	p.mu.Unlock()
}
func (p *fakeProcessor) ConnectionCancel() {
	p.mu.Lock()
	p.connectionCancels++
	p.mu.Unlock()
}

type fakeDispatcher struct {
	mu         sync.Mutex
	processors map[uint64][]*fakeProcessor
	finished   []uint64
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{processors: make(map[uint64][]*fakeProcessor)}
}

func (d *fakeDispatcher) withProcessors(requestID uint64, n int) []*fakeProcessor {
	d.mu.Lock()
	defer d.mu.Unlock()
	procs := make([]*fakeProcessor, n)
	for i := range procs {
		procs[i] = &fakeProcessor{}
	}
	d.processors[requestID] = procs
	return procs
}

func (d *fakeDispatcher) DispatchRequest(requestID uint64, _ []string) []dispatch.Processor {
	d.mu.Lock()
	defer d.mu.Unlock()
	procs := d.processors[requestID]
	out := make([]dispatch.Processor, len(procs))
	for i, p := range procs {
		out[i] = p
	}
	return out
}

func (d *fakeDispatcher) StartRequestTimer(uint64) {}
func (d *fakeDispatcher) NotifyRequestFinished(requestID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finished = append(d.finished, requestID)
}
func (d *fakeDispatcher) OnGeneratorDisposed(uint64) {}

var _ = Describe("Controller", func() {
	It("starts a request immediately when under max_running", func() {
		slot := connslot.NewSlot("198.51.100.1", 1, 2, 2)
		d := newFakeDispatcher()
		c := admission.New(slot, d)

		rid := admission.NextRequestID()
		d.withProcessors(rid, 1)

		r := reply.New(httptest.NewRecorder(), rid)
		c.Admit(rid, r, []string{"resolve"}, nil)

		Expect(slot.NumRunning()).To(Equal(1))
	})

	It("backlogs once max_running is reached and drains FIFO on completion", func() {
		slot := connslot.NewSlot("198.51.100.2", 1, 1, 2)
		d := newFakeDispatcher()
		c := admission.New(slot, d)

		rid1 := admission.NextRequestID()
		procs1 := d.withProcessors(rid1, 1)
		r1 := reply.New(httptest.NewRecorder(), rid1)
		c.Admit(rid1, r1, nil, nil)
		Expect(slot.NumRunning()).To(Equal(1))

		rid2 := admission.NextRequestID()
		d.withProcessors(rid2, 1)
		r2 := reply.New(httptest.NewRecorder(), rid2)
		c.Admit(rid2, r2, nil, nil)

		Expect(slot.NumRunning()).To(Equal(1))
		Expect(slot.NumBacklogged()).To(Equal(1))
		Expect(procs1[0].started).To(BeTrue())

		r1.Complete(200)

		Expect(slot.NumRunning()).To(Equal(1))
		Expect(slot.NumBacklogged()).To(Equal(0))
		Expect(r2.State()).To(Equal(reply.Initialized))
	})

	It("rejects with a PSG 503 once both running and backlog are full", func() {
		slot := connslot.NewSlot("198.51.100.3", 1, 1, 0)
		d := newFakeDispatcher()
		c := admission.New(slot, d)

		rid1 := admission.NextRequestID()
		d.withProcessors(rid1, 1)
		rec1 := httptest.NewRecorder()
		r1 := reply.New(rec1, rid1)
		c.Admit(rid1, r1, nil, nil)

		rid2 := admission.NextRequestID()
		rec2 := httptest.NewRecorder()
		r2 := reply.New(rec2, rid2)
		c.Admit(rid2, r2, nil, nil)

		Expect(rec2.Code).To(Equal(503))
		Expect(r2.State()).To(Equal(reply.Finished))
	})

	It("cancels backlog first then running processors on connection close", func() {
		slot := connslot.NewSlot("198.51.100.4", 1, 1, 2)
		d := newFakeDispatcher()
		c := admission.New(slot, d)

		rid1 := admission.NextRequestID()
		procs1 := d.withProcessors(rid1, 1)
		r1 := reply.New(httptest.NewRecorder(), rid1)
		c.Admit(rid1, r1, nil, nil)

		rid2 := admission.NextRequestID()
		r2 := reply.New(httptest.NewRecorder(), rid2)
		c.Admit(rid2, r2, nil, nil)

		Expect(slot.NumBacklogged()).To(Equal(1))

		c.CancelConnection()

		Expect(r2.State()).To(Equal(reply.Finished))
		Expect(r1.State()).To(Equal(reply.Finished))
		Expect(procs1[0].connectionCancels).To(Equal(1))
		Expect(procs1[0].peeks).To(Equal([]bool{false}))
	})

	It("interoperates with the echo dispatcher", func() {
		slot := connslot.NewSlot("198.51.100.5", 1, 2, 2)
		d := echoproc.New()
		c := admission.New(slot, d)

		rid := admission.NextRequestID()
		rec := httptest.NewRecorder()
		r := reply.New(rec, rid)
		d.Register(rid, r)

		c.Admit(rid, r, nil, nil)

		Expect(r.State()).To(Equal(reply.Finished))
		Expect(rec.Body.String()).To(ContainSubstring("echo"))
	})

	It("rejects with a 503 when the throttling engine flags this connection over limit", func() {
		victim := connslot.NewSlot("203.0.113.9:5000", 1, 4, 4)
		other := connslot.NewSlot("203.0.113.9:5001", 2, 4, 4)

		engine := throttle.New(throttle.Config{ByHostLimit: 1}, []throttle.WorkerView{
			&fakeWorkerView{id: 1, slots: []*connslot.Slot{victim, other}},
		})

		d := newFakeDispatcher()
		c := admission.New(victim, d).WithThrottle(engine)

		rid := admission.NextRequestID()
		rec := httptest.NewRecorder()
		r := reply.New(rec, rid)

		c.Admit(rid, r, nil, nil)

		Expect(r.State()).To(Equal(reply.Finished))
		Expect(rec.Code).To(Equal(503))
	})
})
