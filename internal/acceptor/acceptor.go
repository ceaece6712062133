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

// Package acceptor implements the single binding listener that fans accept
// events out to N workers (spec.md §4.2, component B): one goroutine owns
// the real net.Listener and round-robins each accepted net.Conn into a
// worker's Submit, the Go-native substitute for importing a shared fd into
// N OS-thread event loops.
package acceptor

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ncbi-psg/gateway-core/internal/httpengine"
	liblog "github.com/ncbi-psg/gateway-core/internal/logger"
	liberr "github.com/ncbi-psg/gateway-core/internal/xerror"
)

// Submitter is the capability the acceptor needs from a worker: hand it a
// freshly accepted connection. Satisfied by *internal/worker.Worker.
type Submitter interface {
	Submit(conn net.Conn)
}

// Acceptor owns the bound listening socket and distributes every accepted
// connection across a fixed set of workers.
type Acceptor struct {
	ln      net.Listener
	workers []Submitter
	next    atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// New binds (network, address) and builds an Acceptor ready to fan accepts
// out to workers. At least one worker is required.
func New(network, address string, workers []Submitter) (*Acceptor, liberr.Error) {
	if len(workers) == 0 {
		return nil, ErrorNoWorkers.Error(nil)
	}

	if network == "tcp" || network == "tcp4" || network == "tcp6" {
		if e := httpengine.PortInUse(context.Background(), address); e != nil {
			return nil, ErrorListenFailed.Error(e)
		}
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, ErrorListenFailed.Error(err)
	}

	return &Acceptor{
		ln:      ln,
		workers: append([]Submitter(nil), workers...),
		done:    make(chan struct{}),
	}, nil
}

// Addr returns the bound listener's address.
func (a *Acceptor) Addr() net.Addr { return a.ln.Addr() }

// Run accepts connections until ctx is canceled or the listener is closed,
// handing each one to the next worker in round-robin order.
func (a *Acceptor) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		a.Close()
	}()

	for {
		conn, err := a.ln.Accept()
		if err != nil {
			select {
			case <-a.done:
				return
			default:
			}
			liblog.WarnLevel.Logf("acceptor: accept error: %v", err)
			continue
		}

		idx := a.next.Add(1) - 1
		w := a.workers[int(idx%uint64(len(a.workers)))]
		w.Submit(conn)
	}
}

// Close stops accepting new connections. Idempotent.
func (a *Acceptor) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		_ = a.ln.Close()
	})
}
