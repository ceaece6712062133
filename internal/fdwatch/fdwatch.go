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

// Package fdwatch implements the FD-pressure check (spec.md §4.8): compare
// the process's open-descriptor count against its RLIMIT_NOFILE cap,
// signalling immediate or staged shutdown once the cap is reached.
// cmd/gateway runs Check once a second; it is not run per HTTP request.
package fdwatch

import (
	"os"
	"runtime"
)

// Pressure is the outcome of one Check call.
type Pressure int

const (
	// NoPressure means the process is comfortably under its FD cap.
	NoPressure Pressure = iota
	// ImmediateExit means the cap is reached and the configured policy
	// calls for an unconditional exit (spec.md's "newer HTTP library
	// versions" case, where a staged shutdown risks a core dump).
	ImmediateExit
	// StagedShutdown means the cap is reached but the safer path — a
	// 2-second graceful shutdown — is configured.
	StagedShutdown
)

func (p Pressure) String() string {
	switch p {
	case NoPressure:
		return "none"
	case ImmediateExit:
		return "immediate-exit"
	case StagedShutdown:
		return "staged-shutdown"
	}
	return "unknown"
}

// Watcher checks FD pressure against the process's current RLIMIT_NOFILE
// soft limit. immediateExit is the `shutdown_if_too_many_open_fd` config
// flag, passed in by cmd/gateway (spec.md §4.8's libh2o-version distinction, replaced here by an explicit
// flag since this stack has no HTTP-library-version split to key off).
type Watcher struct {
	immediateExit bool
}

// New builds a Watcher. immediateExit selects ImmediateExit over
// StagedShutdown when the cap is reached.
func New(immediateExit bool) *Watcher {
	return &Watcher{immediateExit: immediateExit}
}

// Check reports the current FD pressure. An unsupported platform (no
// /proc/self/fd) fails open: Check returns NoPressure rather than guessing.
func (w *Watcher) Check() Pressure {
	used, err := openFDCount()
	if err != nil {
		return NoPressure
	}

	max, _, err := rlimitNoFile()
	if err != nil || max <= 0 {
		return NoPressure
	}

	if used < max {
		return NoPressure
	}

	if w.immediateExit {
		return ImmediateExit
	}
	return StagedShutdown
}

// openFDCount counts this process's open file descriptors by reading
// /proc/self/fd, the only portable-enough source for this figure; any
// other platform returns errCountUnsupported.
func openFDCount() (int, error) {
	if runtime.GOOS != "linux" {
		return 0, errCountUnsupported
	}

	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
