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

package connslot_test

import (
	"github.com/ncbi-psg/gateway-core/internal/connslot"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeReply struct{ canceled bool }

func (f *fakeReply) Cancel() { f.canceled = true }

var _ = Describe("Slot", func() {
	var s *connslot.Slot

	BeforeEach(func() {
		s = connslot.NewSlot("198.51.100.7", 3, 2, 4)
	})

	It("starts quiescent", func() {
		Expect(s.Quiescent()).To(BeTrue())
		Expect(s.NumRunning()).To(Equal(0))
		Expect(s.NumBacklogged()).To(Equal(0))
	})

	It("admits up to MaxRunning entries and rejects the next", func() {
		Expect(s.PushRunning(connslot.RunningEntry{Reply: &fakeReply{}})).To(Succeed())
		Expect(s.PushRunning(connslot.RunningEntry{Reply: &fakeReply{}})).To(Succeed())
		Expect(s.PushRunning(connslot.RunningEntry{Reply: &fakeReply{}})).To(HaveOccurred())
		Expect(s.NumRunning()).To(Equal(2))
	})

	It("drains the backlog strictly FIFO", func() {
		Expect(s.PushBacklog(connslot.BacklogEntry{Request: 1})).To(Succeed())
		Expect(s.PushBacklog(connslot.BacklogEntry{Request: 2})).To(Succeed())

		e, ok := s.PopBacklogFIFO()
		Expect(ok).To(BeTrue())
		Expect(e.Request).To(Equal(1))

		e, ok = s.PopBacklogFIFO()
		Expect(ok).To(BeTrue())
		Expect(e.Request).To(Equal(2))

		_, ok = s.PopBacklogFIFO()
		Expect(ok).To(BeFalse())
	})

	It("keeps the quiescent invariant across initiate/finish/reject", func() {
		r1, r2 := &fakeReply{}, &fakeReply{}
		Expect(s.PushRunning(connslot.RunningEntry{Reply: r1})).To(Succeed())
		Expect(s.PushRunning(connslot.RunningEntry{Reply: r2})).To(Succeed())
		s.RejectSoftLimit()

		Expect(s.FinishRunning(r1)).To(BeTrue())
		Expect(s.Quiescent()).To(BeFalse()) // r2 still running

		Expect(s.FinishRunning(r2)).To(BeTrue())
		Expect(s.Quiescent()).To(BeTrue())
	})

	It("cancels every running reply and drops the backlog on Close", func() {
		r1 := &fakeReply{}
		Expect(s.PushRunning(connslot.RunningEntry{Reply: r1})).To(Succeed())
		Expect(s.PushBacklog(connslot.BacklogEntry{Request: 1})).To(Succeed())

		s.Close()

		Expect(r1.canceled).To(BeTrue())
		Expect(s.NumBacklogged()).To(Equal(0))
		Expect(s.IsClosed).To(BeTrue())

		Expect(s.PushRunning(connslot.RunningEntry{Reply: &fakeReply{}})).To(HaveOccurred())
	})

	It("drains running entries without marking the slot closed", func() {
		r1, r2 := &fakeReply{}, &fakeReply{}
		Expect(s.PushRunning(connslot.RunningEntry{Reply: r1})).To(Succeed())
		Expect(s.PushRunning(connslot.RunningEntry{Reply: r2})).To(Succeed())

		drained := s.DrainRunning()
		Expect(drained).To(HaveLen(2))
		Expect(s.NumRunning()).To(Equal(0))
		Expect(s.IsClosed).To(BeFalse())
		Expect(r1.canceled).To(BeFalse())
	})

	It("flags a peer field as mutated once two distinct values are observed", func() {
		var f connslot.PeerField
		f.Observe("agent-a")
		Expect(f.Mutated).To(BeFalse())
		f.Observe("agent-a")
		Expect(f.Mutated).To(BeFalse())
		f.Observe("agent-b")
		Expect(f.Mutated).To(BeTrue())
	})

	It("resets for reuse", func() {
		Expect(s.PushRunning(connslot.RunningEntry{Reply: &fakeReply{}})).To(Succeed())
		oldID := s.ID
		s.ResetForReuse()
		Expect(s.ID).NotTo(Equal(oldID))
		Expect(s.NumRunning()).To(Equal(0))
		Expect(s.IsClosed).To(BeFalse())
	})
})

var _ = Describe("List", func() {
	It("pushes to the tail and pops from the head, FIFO", func() {
		l := &connslot.List{}
		a := connslot.NewSlot("a", 0, 1, 1)
		b := connslot.NewSlot("b", 0, 1, 1)
		c := connslot.NewSlot("c", 0, 1, 1)

		l.PushBack(a)
		l.PushBack(b)
		l.PushBack(c)
		Expect(l.Len()).To(Equal(3))

		Expect(l.PopFront()).To(Equal(a))
		Expect(l.PopFront()).To(Equal(b))
		Expect(l.PopFront()).To(Equal(c))
		Expect(l.PopFront()).To(BeNil())
	})

	It("moves a slot between two lists without corrupting either", func() {
		free := &connslot.List{}
		connected := &connslot.List{}

		s := connslot.NewSlot("a", 0, 1, 1)
		free.PushBack(s)
		Expect(free.Len()).To(Equal(1))

		free.Remove(s)
		connected.PushBack(s)
		Expect(free.Len()).To(Equal(0))
		Expect(connected.Len()).To(Equal(1))
	})
})
