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

package worker_test

import (
	"bufio"
	"io"
	"net"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ncbi-psg/gateway-core/internal/connlimits"
	"github.com/ncbi-psg/gateway-core/internal/connslot"
	"github.com/ncbi-psg/gateway-core/internal/dispatch"
	"github.com/ncbi-psg/gateway-core/internal/worker"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:0" }

type nilDispatcher struct{}

func (nilDispatcher) DispatchRequest(uint64, []string) []dispatch.Processor { return nil }
func (nilDispatcher) StartRequestTimer(uint64)                              {}
func (nilDispatcher) NotifyRequestFinished(uint64)                          {}
func (nilDispatcher) OnGeneratorDisposed(uint64)                            {}

var _ = Describe("Worker", func() {
	It("allocates a slot on Submit and tracks it as connected", func() {
		limits := connlimits.NewTracker(connlimits.Limits{Hard: 10})
		w := worker.New(1, fakeAddr{}, 4, nil, limits, nilDispatcher{}, 8, 16, http.NotFoundHandler())

		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		go w.Submit(server)

		var found *connslot.Slot
		Eventually(func() bool {
			s, ok := w.Slot(server)
			found = s
			return ok
		}).Should(BeTrue())

		Expect(found).ToNot(BeNil())

		count := 0
		w.Connected(func(*connslot.Slot) bool { count++; return true })
		Expect(count).To(Equal(1))
	})

	It("refuses a connection with a PSG 503 once the hard limit is reached", func() {
		limits := connlimits.NewTracker(connlimits.Limits{Hard: 1})
		w := worker.New(2, fakeAddr{}, 4, nil, limits, nilDispatcher{}, 8, 16, http.NotFoundHandler())

		// First connection consumes the only hard-limit slot.
		limits.Admit()

		client, server := net.Pipe()
		defer server.Close()

		done := make(chan struct{})
		go func() {
			w.Submit(server)
			close(done)
		}()

		reader := bufio.NewReader(client)
		resp, err := http.ReadResponse(reader, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(503))
		// net.Pipe writes block until read: drain the PSG body so Submit returns.
		_, _ = io.ReadAll(resp.Body)

		Eventually(done).Should(BeClosed())
	})
})
