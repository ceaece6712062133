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

// Package connlimits tracks the process-wide live-connection population
// against the alert/soft/hard knobs and the below/above-soft-limit counter
// pair, independent of which worker owns a given connection.
package connlimits

import (
	"sync/atomic"

	"github.com/ncbi-psg/gateway-core/internal/atomicx"
	liblog "github.com/ncbi-psg/gateway-core/internal/logger"
)

// Decision is the outcome of an Admit check at accept time.
type Decision uint8

const (
	// Accept means the connection is below the hard limit; Bad reports
	// whether it landed above the soft limit.
	Accept Decision = iota
	// Refuse means the hard limit is reached; the caller must write PSG
	// 503 "too many connections" and close the socket asynchronously.
	Refuse
)

// Limits is the three-knob configuration from spec.md §4.6.
type Limits struct {
	Alert int64
	Soft  int64
	Hard  int64
}

// Tracker maintains the below-soft / above-soft counter pair and decides
// admission for each new accept.
type Tracker struct {
	limits Limits

	// belowSoft/aboveSoft need arithmetic increment/decrement, which
	// internal/atomicx's Value[T] does not provide (it is a typed
	// load/store/CAS cell, not a counter) — sync/atomic's typed
	// atomics remain the idiomatic choice for these two.
	belowSoft atomic.Int64
	aboveSoft atomic.Int64

	// alerted is a plain published flag with no arithmetic, the same
	// publish-once-read-many shape internal/throttle.Engine.snap uses,
	// so it goes through atomicx rather than atomic.Bool.
	alerted atomicx.Value[bool]
}

// NewTracker builds a Tracker for the given limits. A zero Hard/Soft value
// means "no limit" at that tier.
func NewTracker(l Limits) *Tracker {
	return &Tracker{limits: l, alerted: atomicx.NewValue[bool]()}
}

// Total returns the current live-connection count.
func (t *Tracker) Total() int64 {
	return t.belowSoft.Load() + t.aboveSoft.Load()
}

// Admit accounts for a newly accepted connection and returns whether it is
// admitted, and if so, whether it was admitted above the soft limit (bad).
func (t *Tracker) Admit() (Decision, bool) {
	total := t.Total() + 1

	if t.limits.Hard > 0 && total > t.limits.Hard {
		return Refuse, false
	}

	if t.limits.Alert > 0 && total >= t.limits.Alert && !t.alerted.Swap(true) {
		liblog.WarnLevel.Logf("connection population reached alert limit: %d/%d", total, t.limits.Alert)
	} else if t.limits.Alert == 0 || total < t.limits.Alert {
		t.alerted.Store(false)
	}

	bad := t.limits.Soft > 0 && total > t.limits.Soft
	if bad {
		t.aboveSoft.Add(1)
	} else {
		t.belowSoft.Add(1)
	}

	return Accept, bad
}

// Release decrements the counter a connection was admitted under — the
// caller must pass the same `bad` flag Admit returned (or the one a
// subsequent promotion/demotion changed it to).
func (t *Tracker) Release(bad bool) {
	if bad {
		t.aboveSoft.Add(-1)
	} else {
		t.belowSoft.Add(-1)
	}
}

// ResetExceedSoftLimitFlag promotes a previously-bad connection to good,
// moving it from the above-soft to the below-soft counter and reporting
// whether a move actually happened (the moved_from_bad_to_good flag).
func (t *Tracker) ResetExceedSoftLimitFlag(wasBad bool) (movedFromBadToGood bool) {
	if !wasBad {
		return false
	}

	t.aboveSoft.Add(-1)
	t.belowSoft.Add(1)
	return true
}

// BelowSoft and AboveSoft expose the counter pair for /metrics and zhealth.
func (t *Tracker) BelowSoft() int64 { return t.belowSoft.Load() }
func (t *Tracker) AboveSoft() int64 { return t.aboveSoft.Load() }
