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

// Package dispatch defines the boundary between the gateway core and the
// business-logic processors that actually resolve/get/getblob/annotate a
// request. The core only ever talks to a Dispatcher and to Processor;
// concrete processors live outside this module (echoproc provides a
// reference no-op implementation exercised by tests).
package dispatch

// Processor is the capability set a running or backlogged request's
// processor group exposes (spec.md §4.3).
type Processor interface {
	// SendProcessorStartMessage is delivered to every processor in the
	// group before any of them is Started, so a processor that
	// synchronously cancels a sibling never races that sibling's start.
	SendProcessorStartMessage()
	// Start begins the processor's work; called only after every
	// processor in the group has received SendProcessorStartMessage.
	Start()
	// Peek gives the processor one last chance to emit a final chunk
	// before the stream is torn down (called after ConnectionCancel).
	Peek(dataReady bool)
	// ConnectionCancel aborts the processor's work because the owning
	// connection is closing.
	ConnectionCancel()
}

// Dispatcher instantiates and tracks processor groups for the core
// (spec.md §4.3, four operations).
type Dispatcher interface {
	// DispatchRequest instantiates the processor group for req/reply. An
	// empty return means the dispatcher already wrote the final error into
	// reply — the caller must not treat this as "zero work to do".
	DispatchRequest(requestID uint64, preliminaryNames []string) []Processor
	// StartRequestTimer starts the per-request wall-clock timer used for
	// the reply-completion elapsed-time field.
	StartRequestTimer(requestID uint64)
	// NotifyRequestFinished is called exactly once per request, after its
	// reply has completed, releasing the reply/pending-operation cycle.
	NotifyRequestFinished(requestID uint64)
	// OnGeneratorDisposed is the Go-idiom rename of the spec's
	// OnLibh2oFinished, for the disposal of the net/http generator (the
	// ResponseWriter/request pair). Neither the HTTP handler nor the
	// admission controller calls it.
	OnGeneratorDisposed(requestID uint64)
}
