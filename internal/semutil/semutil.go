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

// Package semutil wraps golang.org/x/sync/semaphore.Weighted with the
// context-bound admission idiom used across the gateway workers: every
// caller that wants a worker slot asks for one through the same
// context that governs its own cancellation, instead of juggling a bare
// counting channel.
package semutil

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// MaxSimultaneous is used when New is called with nbrSimultaneous <= 0: the
// admission width then tracks GOMAXPROCS, matching the teacher's own
// "zero means auto" convention for worker-count style knobs.
func MaxSimultaneous() int64 {
	return int64(runtime.GOMAXPROCS(0))
}

// Semaphore bounds concurrent admission to a resource (the per-worker
// running-request slot count, the global admission width, ...).
type Semaphore interface {
	context.Context

	// NewWorker blocks until a slot is available or ctx is done.
	NewWorker() error
	// NewWorkerTry acquires a slot without blocking; false means none free.
	NewWorkerTry() bool
	// DeferWorker releases one previously acquired slot; meant to be used
	// as `defer sem.DeferWorker()`.
	DeferWorker()
	// DeferMain cancels the semaphore's own context, releasing every
	// blocked NewWorker call; meant to be used as `defer sem.DeferMain()`.
	DeferMain()
	// WaitAll blocks until every acquired slot has been released.
	WaitAll() error
	// Weighted exposes the underlying semaphore for callers that need the
	// raw Acquire/TryAcquire/Release primitives directly.
	Weighted() *semaphore.Weighted
	// Value returns the current configured width.
	Value() int64
	// SetSimultaneous changes the configured width for diagnostics; it does
	// not affect slots already acquired under the previous width.
	SetSimultaneous(n int64)
}

type sem struct {
	context.Context
	cnl context.CancelFunc
	wei *semaphore.Weighted
	n   atomic.Int64
}

// New builds a Semaphore bound to parent; nbrSimultaneous <= 0 uses
// MaxSimultaneous().
func New(parent context.Context, nbrSimultaneous int64) Semaphore {
	if nbrSimultaneous <= 0 {
		nbrSimultaneous = MaxSimultaneous()
	}

	ctx, cnl := context.WithCancel(parent)

	s := &sem{
		Context: ctx,
		cnl:     cnl,
		wei:     semaphore.NewWeighted(nbrSimultaneous),
	}
	s.n.Store(nbrSimultaneous)

	return s
}

func (s *sem) NewWorker() error {
	return s.wei.Acquire(s.Context, 1)
}

func (s *sem) NewWorkerTry() bool {
	return s.wei.TryAcquire(1)
}

func (s *sem) DeferWorker() {
	s.wei.Release(1)
}

func (s *sem) DeferMain() {
	s.cnl()
}

func (s *sem) WaitAll() error {
	return s.wei.Acquire(context.Background(), s.n.Load())
}

func (s *sem) Weighted() *semaphore.Weighted {
	return s.wei
}

func (s *sem) Value() int64 {
	return s.n.Load()
}

func (s *sem) SetSimultaneous(n int64) {
	if n <= 0 {
		n = MaxSimultaneous()
	}
	s.n.Store(n)
}
