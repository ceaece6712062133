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

package throttle_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ncbi-psg/gateway-core/internal/connslot"
	"github.com/ncbi-psg/gateway-core/internal/throttle"
)

// fakeWorker hands a fixed set of slots to the engine and counts how many
// times Connected was called, so tests can assert snapshot caching.
type fakeWorker struct {
	id    int
	mu    sync.Mutex
	slots []*connslot.Slot
	scans int
}

func (w *fakeWorker) ID() int { return w.id }

func (w *fakeWorker) Connected(f func(*connslot.Slot) bool) {
	w.mu.Lock()
	w.scans++
	slots := append([]*connslot.Slot(nil), w.slots...)
	w.mu.Unlock()

	for _, s := range slots {
		if !f(s) {
			return
		}
	}
}

func (w *fakeWorker) scanCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scans
}

func idleSlot(peerIP, userAgent string, age time.Duration) *connslot.Slot {
	s := connslot.NewSlot(peerIP, 1, 4, 4)
	s.PeerUserAgent.Observe(userAgent)
	_ = s.PushRunning(connslot.RunningEntry{Reply: noopCanceler{}})
	s.LastRequestTimestamp = time.Now().Add(-age)
	return s
}

type noopCanceler struct{}

func (noopCanceler) Cancel() {}

var _ = Describe("Engine", func() {
	It("picks the oldest idle over-limit connection and leaves the request to continue", func() {
		older := idleSlot("198.51.100.1:1", "BadAgent", 2*time.Hour)
		newer := idleSlot("198.51.100.2:1", "BadAgent", 1*time.Hour)
		third := idleSlot("198.51.100.3:1", "BadAgent", 30*time.Minute)

		w := &fakeWorker{id: 1, slots: []*connslot.Slot{older, newer, third}}

		self := connslot.NewSlot("203.0.113.9:2", 1, 4, 4)
		self.PeerUserAgent.Observe("GoodAgent")
		_ = self.PushRunning(connslot.RunningEntry{Reply: noopCanceler{}})

		e := throttle.New(throttle.Config{
			ValidFor:         time.Minute,
			IdleTimeout:      time.Minute,
			ByUserAgentLimit: 2,
		}, []throttle.WorkerView{w})

		decision := e.Check(self)
		Expect(decision).To(Equal(throttle.OtherClosed))

		select {
		case <-older.CloseCh:
		default:
			Fail("expected the oldest idle over-limit connection to receive a close request")
		}

		select {
		case <-newer.CloseCh:
			Fail("did not expect a second connection to be closed on the same check")
		default:
		}
	})

	It("closes the current connection when its own attribute is over limit and nothing idle qualifies", func() {
		other := connslot.NewSlot("198.51.100.1:1", 1, 4, 4)
		other.PeerUserAgent.Observe("X")
		_ = other.PushRunning(connslot.RunningEntry{Reply: noopCanceler{}})

		self := connslot.NewSlot("198.51.100.2:2", 1, 4, 4)
		self.PeerUserAgent.Observe("X")
		_ = self.PushRunning(connslot.RunningEntry{Reply: noopCanceler{}})

		w := &fakeWorker{id: 1, slots: []*connslot.Slot{other, self}}

		e := throttle.New(throttle.Config{
			ValidFor:         time.Minute,
			IdleTimeout:      time.Hour,
			ByUserAgentLimit: 1,
		}, []throttle.WorkerView{w})

		Expect(e.Check(self)).To(Equal(throttle.CloseThis))
	})

	It("never punishes a connection that has already served more than one request", func() {
		other := connslot.NewSlot("198.51.100.1:1", 1, 4, 4)
		other.PeerUserAgent.Observe("X")
		_ = other.PushRunning(connslot.RunningEntry{Reply: noopCanceler{}})

		self := connslot.NewSlot("198.51.100.2:2", 1, 4, 4)
		self.PeerUserAgent.Observe("X")
		_ = self.PushRunning(connslot.RunningEntry{Reply: noopCanceler{}})
		_ = self.PushRunning(connslot.RunningEntry{Reply: noopCanceler{}})

		w := &fakeWorker{id: 1, slots: []*connslot.Slot{other, self}}

		e := throttle.New(throttle.Config{
			ValidFor:         time.Minute,
			IdleTimeout:      time.Hour,
			ByUserAgentLimit: 1,
		}, []throttle.WorkerView{w})

		Expect(e.Check(self)).To(Equal(throttle.Continue))
	})

	It("reuses a cached snapshot within the validity window instead of rescanning", func() {
		self := connslot.NewSlot("198.51.100.9:1", 1, 4, 4)
		_ = self.PushRunning(connslot.RunningEntry{Reply: noopCanceler{}})

		w := &fakeWorker{id: 1, slots: []*connslot.Slot{self}}

		e := throttle.New(throttle.Config{
			ValidFor:    time.Minute,
			IdleTimeout: time.Hour,
		}, []throttle.WorkerView{w})

		Expect(e.Check(self)).To(Equal(throttle.Continue))
		Expect(e.Check(self)).To(Equal(throttle.Continue))
		Expect(w.scanCount()).To(Equal(1))
	})

	It("groups peer IPs into a /16 site and throttles by site", func() {
		a := idleSlot("10.1.2.3:1", "", time.Hour)
		b := idleSlot("10.1.9.9:1", "", 45*time.Minute)

		w := &fakeWorker{id: 1, slots: []*connslot.Slot{a, b}}

		self := connslot.NewSlot("198.51.100.1:1", 1, 4, 4)
		_ = self.PushRunning(connslot.RunningEntry{Reply: noopCanceler{}})

		e := throttle.New(throttle.Config{
			ValidFor:    time.Minute,
			IdleTimeout: time.Minute,
			BySiteLimit: 1,
		}, []throttle.WorkerView{w})

		Expect(e.Check(self)).To(Equal(throttle.OtherClosed))
	})
})
