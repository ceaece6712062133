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

package connslot

// List is an intrusive doubly-linked list of *Slot, used by each worker as
// both its free list (recycled, unattached slots) and its connected list
// (slots currently bound to a live net.Conn). Intrusive because a slot only
// ever belongs to one list at a time — moving it between free and connected
// is an O(1) unlink/relink, matching the teacher's own list-reuse idiom
// (config/cptList.go) rather than reallocating a slice on every accept.
//
// Not safe for concurrent use; each worker owns its own List and touches it
// only from its own goroutine (spec.md §5).
type List struct {
	head, tail *Slot
	size       int
}

// Len returns the number of slots currently in the list.
func (l *List) Len() int { return l.size }

// PushBack appends s to the tail of the list.
func (l *List) PushBack(s *Slot) {
	if s.inList == l {
		return
	}
	if s.inList != nil {
		s.inList.remove(s)
	}

	s.prev, s.next = l.tail, nil
	if l.tail != nil {
		l.tail.next = s
	} else {
		l.head = s
	}
	l.tail = s
	s.inList = l
	l.size++
}

// PopFront removes and returns the head of the list, or nil if empty.
func (l *List) PopFront() *Slot {
	s := l.head
	if s == nil {
		return nil
	}
	l.remove(s)
	return s
}

// Remove unlinks s from the list, wherever it sits.
func (l *List) Remove(s *Slot) {
	if s.inList == l {
		l.remove(s)
	}
}

func (l *List) remove(s *Slot) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		l.head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		l.tail = s.prev
	}
	s.prev, s.next, s.inList = nil, nil, nil
	l.size--
}

// Each calls f for every slot from head to tail. f returning false stops
// the iteration early.
func (l *List) Each(f func(*Slot) bool) {
	for s := l.head; s != nil; {
		n := s.next
		if !f(s) {
			return
		}
		s = n
	}
}
