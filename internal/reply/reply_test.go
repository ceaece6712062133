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

package reply_test

import (
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ncbi-psg/gateway-core/internal/psgframe"
	"github.com/ncbi-psg/gateway-core/internal/reply"
)

var _ = Describe("Reply", func() {
	It("starts Initialized", func() {
		rec := httptest.NewRecorder()
		r := reply.New(rec, 1)
		Expect(r.State()).To(Equal(reply.Initialized))
	})

	It("transitions to Started on the first chunk and to Finished on Complete", func() {
		rec := httptest.NewRecorder()
		r := reply.New(rec, 2)

		Expect(r.WriteChunk([]byte("hello"))).To(Succeed())
		Expect(r.State()).To(Equal(reply.Started))

		r.Complete(200)
		Expect(r.State()).To(Equal(reply.Finished))
		Expect(rec.Code).To(Equal(200))
	})

	It("fires onFinished exactly once", func() {
		rec := httptest.NewRecorder()
		r := reply.New(rec, 3)

		count := 0
		r.OnFinished(func() { count++ })

		r.Complete(200)
		r.Complete(200)
		r.Cancel()

		Expect(count).To(Equal(1))
	})

	It("ignores WriteChunk after Finished", func() {
		rec := httptest.NewRecorder()
		r := reply.New(rec, 4)

		r.Complete(204)
		Expect(r.WriteChunk([]byte("late"))).To(Succeed())
		Expect(r.State()).To(Equal(reply.Finished))
	})

	It("Cancel forces Finished without a prior Complete", func() {
		rec := httptest.NewRecorder()
		r := reply.New(rec, 5)

		r.Cancel()
		Expect(r.State()).To(Equal(reply.Finished))
	})

	It("Dispose runs its hook exactly once", func() {
		rec := httptest.NewRecorder()
		r := reply.New(rec, 6)

		count := 0
		r.OnDisposed(func() { count++ })

		r.Dispose()
		r.Dispose()

		Expect(count).To(Equal(1))
	})

	It("MarkPostponed only succeeds while Initialized", func() {
		rec := httptest.NewRecorder()
		r := reply.New(rec, 7)

		Expect(r.MarkPostponed()).To(BeTrue())

		r.Complete(200)
		Expect(r.MarkPostponed()).To(BeFalse())
	})

	It("Send400 writes a PSG error envelope and finishes while Initialized", func() {
		rec := httptest.NewRecorder()
		r := reply.New(rec, 8)

		r.Send400(reply.MalformedParameter.PSGCode(), "bad query")

		Expect(r.State()).To(Equal(reply.Finished))
		Expect(rec.Code).To(Equal(400))

		env, _, _, err := psgframe.Decode(rec.Body.Bytes())
		Expect(err).ToNot(HaveOccurred())
		Expect(env.ItemType).To(Equal(psgframe.KindReplyMessage))
		Expect(env.Code).To(Equal(reply.MalformedParameter.PSGCode()))
	})

	It("Send503 after Started cancels instead of writing a second header", func() {
		rec := httptest.NewRecorder()
		r := reply.New(rec, 9)

		Expect(r.WriteChunk([]byte("x"))).To(Succeed())
		r.Send503(reply.TooManyRequests.PSGCode(), "overloaded")

		Expect(r.State()).To(Equal(reply.Finished))
	})

	It("Stop marks the reply Finished exactly once via Cancel", func() {
		rec := httptest.NewRecorder()
		r := reply.New(rec, 10)

		count := 0
		r.OnFinished(func() { count++ })

		r.Stop()
		r.Stop()

		Expect(r.State()).To(Equal(reply.Finished))
		Expect(count).To(Equal(1))
	})
})
