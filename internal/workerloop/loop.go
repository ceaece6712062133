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

// Package workerloop is the Go-native stand-in for a libuv event-loop
// handle: one goroutine, a 1 Hz maintenance ticker, an async "stop"/"work"
// channel pair, and an admission semaphore (internal/semutil). Close()
// stops everything exactly once; Run drains pending work on its way out.
package workerloop

import (
	"context"
	"sync"
	"time"

	"github.com/ncbi-psg/gateway-core/internal/semutil"
)

const maintainTick = time.Second

// Work is one unit of async wakeup work handed to the loop (an accepted
// net.Conn to admit, a backlog slot to re-check, ...).
type Work func()

// Loop is one worker's private event loop.
type Loop struct {
	ctx context.Context
	cnl context.CancelFunc

	tick *time.Ticker
	work chan Work
	stop chan struct{}

	admission semutil.Semaphore

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a Loop bound to parent, with an admission semaphore width of
// maxConcurrent (<=0 means semutil.MaxSimultaneous()).
func New(parent context.Context, maxConcurrent int64) *Loop {
	ctx, cnl := context.WithCancel(parent)

	return &Loop{
		ctx:       ctx,
		cnl:       cnl,
		tick:      time.NewTicker(maintainTick),
		work:      make(chan Work, 64),
		stop:      make(chan struct{}),
		admission: semutil.New(ctx, maxConcurrent),
		closed:    make(chan struct{}),
	}
}

// Context returns the loop's lifetime context; canceled once Close runs.
func (l *Loop) Context() context.Context { return l.ctx }

// Admission returns the loop's admission semaphore.
func (l *Loop) Admission() semutil.Semaphore { return l.admission }

// Post enqueues fn to run on the loop's goroutine. It is the async "work"
// wakeup the spec's event loop uses to marshal cross-goroutine requests
// (an idle-connection close, a backlog re-check) onto the owning worker.
// Post drops fn and returns false if the loop is shutting down.
func (l *Loop) Post(fn Work) bool {
	select {
	case <-l.stop:
		return false
	default:
	}

	select {
	case l.work <- fn:
		return true
	case <-l.stop:
		return false
	}
}

// Run blocks, dispatching posted work and the 1 Hz maintain tick to onTick,
// until Close is called or parent is done.
func (l *Loop) Run(onTick func()) {
	defer close(l.closed)

	for {
		select {
		case <-l.stop:
			l.drain()
			return
		case <-l.ctx.Done():
			l.drain()
			return
		case fn := <-l.work:
			fn()
		case <-l.tick.C:
			if onTick != nil {
				onTick()
			}
		}
	}
}

func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.work:
			_ = fn
		default:
			return
		}
	}
}

// Close stops the ticker, closes the stop channel, cancels the context and
// calls the semaphore's DeferMain, exactly once (the work channel is left
// open) — safe to call multiple times, and from a goroutine other
// than Run's, matching the "guaranteed-release discipline" this loop
// stands in for.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.tick.Stop()
		close(l.stop)
		l.cnl()
		l.admission.DeferMain()
	})
}

// Done is closed once Run has returned after a Close/cancel; if Run was
// never started it is never closed.
func (l *Loop) Done() <-chan struct{} { return l.closed }
