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

package worker

import (
	"net"
	"sync"
)

// exportedListener is the Go-native stand-in for spec.md §4.2's "listener
// exporter": instead of publishing the bound socket through an in-process
// pipe so N OS-thread workers can import the same fd, one goroutine accepts
// on the real net.Listener and round-robins each net.Conn into the matching
// worker's exportedListener, which net/http then Accept()s from exactly
// like a real listener.
type exportedListener struct {
	addr net.Addr
	conn chan net.Conn
	done chan struct{}
	once sync.Once
}

func newExportedListener(addr net.Addr, backlog int) *exportedListener {
	return &exportedListener{
		addr: addr,
		conn: make(chan net.Conn, backlog),
		done: make(chan struct{}),
	}
}

// deliver hands c to this listener's Accept loop. Returns false if the
// listener is closed or its backlog is full (caller must refuse the
// connection itself in that case).
func (l *exportedListener) deliver(c net.Conn) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.conn <- c:
		return true
	default:
		return false
	}
}

func (l *exportedListener) Accept() (net.Conn, error) {
	select {
	case c, ok := <-l.conn:
		if !ok {
			return nil, net.ErrClosed
		}
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *exportedListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *exportedListener) Addr() net.Addr { return l.addr }
