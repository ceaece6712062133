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

package workerloop_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ncbi-psg/gateway-core/internal/workerloop"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Loop", func() {
	It("runs posted work on its own goroutine and stops cleanly on Close", func() {
		l := workerloop.New(context.Background(), 4)

		var ran atomic.Int64
		go l.Run(func() {})

		for i := 0; i < 5; i++ {
			Expect(l.Post(func() { ran.Add(1) })).To(BeTrue())
		}

		Eventually(func() int64 { return ran.Load() }, time.Second).Should(Equal(int64(5)))

		l.Close()
		Eventually(l.Done(), time.Second).Should(BeClosed())
		Expect(l.Post(func() {})).To(BeFalse())
	})

	It("bounds admission through its semaphore", func() {
		l := workerloop.New(context.Background(), 1)
		defer l.Close()

		Expect(l.Admission().NewWorkerTry()).To(BeTrue())
		Expect(l.Admission().NewWorkerTry()).To(BeFalse())
		l.Admission().DeferWorker()
		Expect(l.Admission().NewWorkerTry()).To(BeTrue())
	})
})
