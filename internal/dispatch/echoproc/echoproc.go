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

// Package echoproc is a reference Dispatcher/Processor implementation: it
// immediately completes every request with a fixed reply, standing in for
// the resolve/get/getblob/annotate business logic that is out of scope for
// this module (spec.md Non-goals) while still giving the admission and
// reply state machines a real collaborator to run against in tests.
package echoproc

import (
	"sync"
	"time"

	"github.com/ncbi-psg/gateway-core/internal/dispatch"
)

// Completer is the minimal capability echoproc needs from a reply to
// deliver its echoed payload — satisfied by internal/reply.Reply.
type Completer interface {
	WriteChunk(p []byte) error
	Complete(status int)
}

// Dispatcher is an echoproc.Dispatcher: DispatchRequest always returns one
// Processor per registered request that, on Start, writes the body "echo"
// and completes with status 200.
type Dispatcher struct {
	mu      sync.Mutex
	timers  map[uint64]time.Time
	replies map[uint64]Completer
}

// New builds an echo Dispatcher. Register must be called (by the caller
// wiring a request into the dispatcher) before DispatchRequest.
func New() *Dispatcher {
	return &Dispatcher{
		timers:  make(map[uint64]time.Time),
		replies: make(map[uint64]Completer),
	}
}

// Register associates a reply with a request id so the returned Processor
// can write to it. The core calls this before DispatchRequest.
func (d *Dispatcher) Register(requestID uint64, reply Completer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies[requestID] = reply
}

// DispatchRequest returns nil for a request id with no registered reply;
// it has no reply to write an error into in that case.
func (d *Dispatcher) DispatchRequest(requestID uint64, _ []string) []dispatch.Processor {
	d.mu.Lock()
	reply, ok := d.replies[requestID]
	d.mu.Unlock()

	if !ok {
		return nil
	}

	return []dispatch.Processor{&echoProcessor{requestID: requestID, reply: reply}}
}

func (d *Dispatcher) StartRequestTimer(requestID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timers[requestID] = time.Now()
}

func (d *Dispatcher) NotifyRequestFinished(requestID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.timers, requestID)
	delete(d.replies, requestID)
}

func (d *Dispatcher) OnGeneratorDisposed(requestID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.replies, requestID)
}

type echoProcessor struct {
	requestID uint64
	reply     Completer
}

func (p *echoProcessor) SendProcessorStartMessage() {}

func (p *echoProcessor) Start() {
	_ = p.reply.WriteChunk([]byte("echo"))
	p.reply.Complete(200)
}

func (p *echoProcessor) Peek(bool) {}

func (p *echoProcessor) ConnectionCancel() {}
