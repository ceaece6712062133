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

package shutdown_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ncbi-psg/gateway-core/internal/shutdown"
)

var _ = Describe("Watchdog", func() {
	It("does nothing before any shutdown is requested", func() {
		w := shutdown.New()
		Expect(w.Requested()).To(BeFalse())
		Expect(w.Tick(time.Now(), 3)).To(Equal(shutdown.ActionNone))
	})

	It("stops as soon as the active-group count reaches zero", func() {
		w := shutdown.New()
		now := time.Now()
		w.RequestGraceful(now)

		Expect(w.Tick(now, 2)).To(Equal(shutdown.ActionNone))
		Expect(w.Tick(now, 0)).To(Equal(shutdown.ActionStop))
	})

	It("extends the deadline once then exits on the next expiry", func() {
		w := shutdown.New()
		now := time.Now()
		w.RequestImmediate(now)

		Expect(w.Tick(now, 1)).To(Equal(shutdown.ActionBroadcastCancel))
		Expect(w.Tick(now, 1)).To(Equal(shutdown.ActionNone))
		Expect(w.Tick(now.Add(3*time.Second), 1)).To(Equal(shutdown.ActionExit))
	})

	It("keeps the earlier deadline when a later signal arrives", func() {
		w := shutdown.New()
		base := time.Now()
		w.RequestImmediate(base)
		w.RequestGraceful(base.Add(time.Hour))

		Expect(w.Tick(base, 1)).To(Equal(shutdown.ActionBroadcastCancel))
	})

	It("runs Tick on a real ticker and calls exit on ActionExit", func() {
		w := shutdown.New()
		w.RequestImmediate(time.Now())

		var broadcasts int32
		var exitCode int32 = -1
		exited := make(chan struct{})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		go w.Run(ctx, func() int64 { return 1 },
			func() { atomic.AddInt32(&broadcasts, 1) },
			func(code int) {
				atomic.StoreInt32(&exitCode, int32(code))
				close(exited)
			},
		)

		select {
		case <-exited:
		case <-time.After(8 * time.Second):
			Fail("expected Run to call exit before the test timeout")
		}

		Expect(atomic.LoadInt32(&broadcasts)).To(BeNumerically(">=", 1))
		Expect(atomic.LoadInt32(&exitCode)).To(Equal(int32(0)))
	})
})
