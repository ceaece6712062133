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

// Package shutdown implements the graceful-shutdown watchdog (spec.md
// §4.8, component J): signal-driven shutdown requests, a deadline with a
// one-time 2-second extension, and the process-wide active-processor-group
// gate that decides when the main loop actually stops. This package
// assumes a POSIX host — SIGHUP/SIGUSR1/SIGUSR2/SIGWINCH/SIGPIPE have no
// Windows equivalent, matching the daemon model the original signal
// handling was built against.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	liblog "github.com/ncbi-psg/gateway-core/internal/logger"
)

// Action is what the owning main loop should do after one watchdog tick.
type Action int

const (
	// ActionNone: nothing to do this tick.
	ActionNone Action = iota
	// ActionStop: shutdown was requested and no processor group remains
	// active; the main loop should stop now.
	ActionStop
	// ActionBroadcastCancel: the deadline expired for the first time;
	// extend it by 2s and cancel every in-flight processor so it stops
	// writing to its reply.
	ActionBroadcastCancel
	// ActionExit: the (already-extended) deadline expired a second time;
	// the process must exit immediately.
	ActionExit
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStop:
		return "stop"
	case ActionBroadcastCancel:
		return "broadcast-cancel"
	case ActionExit:
		return "exit"
	}
	return "unknown"
}

const extendDeadlineBy = 2 * time.Second

// Watchdog is spec.md's process-wide ShutdownData singleton plus the
// signal-handling and 1Hz tick logic that drives it.
type Watchdog struct {
	mu         sync.Mutex
	requested  bool
	expired    time.Time
	cancelSent bool
}

// New builds an unarmed Watchdog: no shutdown requested, nothing to do
// until RequestImmediate/RequestGraceful is called (directly or via
// HandleSignals).
func New() *Watchdog {
	return &Watchdog{}
}

// RequestImmediate is the SIGINT handler: shutdown is requested, and
// unless an earlier request already set a deadline, the deadline is now —
// the very next tick extends it by 2s and broadcasts cancel.
func (w *Watchdog) RequestImmediate(now time.Time) {
	w.request(now)
}

// RequestGraceful is the SIGTERM handler: shutdown is requested with a
// 24-hour grace period, unless an earlier request (INT or TERM) already
// set a tighter deadline — the earlier deadline always wins.
func (w *Watchdog) RequestGraceful(now time.Time) {
	w.request(now.Add(24 * time.Hour))
}

func (w *Watchdog) request(deadline time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requested = true
	if w.expired.IsZero() {
		w.expired = deadline
	}
}

// Requested reports whether a shutdown has been requested.
func (w *Watchdog) Requested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requested
}

// Tick runs one watchdog evaluation (spec.md §4.8's 1Hz logic) given the
// current time and the number of active processor groups. It is pure and
// deterministic so tests can drive it without a real clock or a real
// ticker; Run wraps it for the production 1Hz loop.
func (w *Watchdog) Tick(now time.Time, activeGroups int64) Action {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.requested {
		return ActionNone
	}

	if activeGroups == 0 {
		return ActionStop
	}

	if now.Before(w.expired) {
		return ActionNone
	}

	if w.cancelSent {
		return ActionExit
	}

	w.cancelSent = true
	w.expired = now.Add(extendDeadlineBy)
	return ActionBroadcastCancel
}

// Run drives Tick on a real 1Hz ticker until ctx is done, ActionStop
// fires, or ActionExit calls exit (defaulting to os.Exit when exit is
// nil). onBroadcastCancel is invoked for every ActionBroadcastCancel tick.
func (w *Watchdog) Run(ctx context.Context, activeGroups func() int64, onBroadcastCancel func(), exit func(code int)) {
	if exit == nil {
		exit = os.Exit
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch w.Tick(time.Now(), activeGroups()) {
			case ActionStop:
				return
			case ActionBroadcastCancel:
				if onBroadcastCancel != nil {
					onBroadcastCancel()
				}
			case ActionExit:
				exit(0)
				return
			}
		}
	}
}

// HandleSignals installs the process-wide signal handlers (spec.md §4.8):
// SIGINT maps to RequestImmediate, SIGTERM to RequestGraceful,
// SIGHUP/SIGUSR1/SIGUSR2/SIGWINCH are logged and otherwise ignored, and
// SIGPIPE is ignored globally so a client that closes its read side never
// kills the process. It returns a stop function that deregisters the
// handlers; callers typically tie it to the process's top-level context
// instead.
func (w *Watchdog) HandleSignals(ctx context.Context) (stop func()) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGWINCH)
	signal.Ignore(syscall.SIGPIPE)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				signal.Stop(ch)
				return
			case sig := <-ch:
				w.handleOne(sig)
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		<-done
	}
}

func (w *Watchdog) handleOne(sig os.Signal) {
	now := time.Now()
	switch sig {
	case syscall.SIGINT:
		liblog.WarnLevel.Logf("shutdown: SIGINT received, requesting immediate shutdown")
		w.RequestImmediate(now)
	case syscall.SIGTERM:
		liblog.WarnLevel.Logf("shutdown: SIGTERM received, requesting graceful shutdown")
		w.RequestGraceful(now)
	default:
		liblog.InfoLevel.Logf("shutdown: ignoring signal %s", sig)
	}
}
