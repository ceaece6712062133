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

package fdwatch_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ncbi-psg/gateway-core/internal/fdwatch"
)

var _ = Describe("Watcher", func() {
	It("reports no pressure for a freshly started test process", func() {
		w := fdwatch.New(false)
		Expect(w.Check()).To(Equal(fdwatch.NoPressure))
	})

	It("stringifies every pressure value", func() {
		Expect(fdwatch.NoPressure.String()).To(Equal("none"))
		Expect(fdwatch.ImmediateExit.String()).To(Equal("immediate-exit"))
		Expect(fdwatch.StagedShutdown.String()).To(Equal("staged-shutdown"))
	})

	It("is safe to share between an immediate-exit and a staged-shutdown policy", func() {
		immediate := fdwatch.New(true)
		staged := fdwatch.New(false)

		Expect(immediate.Check()).To(Equal(fdwatch.NoPressure))
		Expect(staged.Check()).To(Equal(fdwatch.NoPressure))
	})
})
