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

package acceptor_test

import (
	"context"
	"net"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ncbi-psg/gateway-core/internal/acceptor"
)

type recordingWorker struct {
	mu    sync.Mutex
	conns []net.Conn
}

func (r *recordingWorker) Submit(conn net.Conn) {
	r.mu.Lock()
	r.conns = append(r.conns, conn)
	r.mu.Unlock()
}

func (r *recordingWorker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

var _ = Describe("Acceptor", func() {
	It("refuses to build with zero workers", func() {
		_, err := acceptor.New("tcp", "127.0.0.1:0", nil)
		Expect(err).To(HaveOccurred())
	})

	It("round-robins accepted connections across workers", func() {
		w1 := &recordingWorker{}
		w2 := &recordingWorker{}

		a, err := acceptor.New("tcp", "127.0.0.1:0", []acceptor.Submitter{w1, w2})
		Expect(err).ToNot(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		go a.Run(ctx)
		defer cancel()

		const total = 4
		for i := 0; i < total; i++ {
			c, dialErr := net.Dial("tcp", a.Addr().String())
			Expect(dialErr).ToNot(HaveOccurred())
			defer c.Close()
		}

		Eventually(func() int { return w1.count() + w2.count() }).Should(Equal(total))
		Expect(w1.count()).To(Equal(w2.count()))
	})

	It("Close is idempotent and stops Run", func() {
		w := &recordingWorker{}
		a, err := acceptor.New("tcp", "127.0.0.1:0", []acceptor.Submitter{w})
		Expect(err).ToNot(HaveOccurred())

		done := make(chan struct{})
		go func() {
			a.Run(context.Background())
			close(done)
		}()

		a.Close()
		a.Close()

		Eventually(done).Should(BeClosed())
	})
})
