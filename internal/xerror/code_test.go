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

package xerror_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errors "github.com/ncbi-psg/gateway-core/internal/xerror"
)

const testPSGCode errors.CodeError = errors.MinPkgReply + 900

var _ = Describe("CodeError PSG wiring", func() {
	BeforeEach(func() {
		if !errors.ExistInMapMessage(testPSGCode) {
			errors.RegisterIdFctMessage(testPSGCode, func(code errors.CodeError) string {
				if code == testPSGCode {
					return "test psg code"
				}
				return ""
			})
		}
	})

	It("PSGCode widens a CodeError to the plain int a PSG envelope carries", func() {
		Expect(testPSGCode.PSGCode()).To(Equal(testPSGCode.Int()))
		Expect(testPSGCode.PSGCode()).To(BeNumerically(">", 0))
	})

	It("GetCodePackages reports the file that registered a known code", func() {
		packages := errors.GetCodePackages("gateway-core")
		file, ok := packages[testPSGCode]
		Expect(ok).To(BeTrue())
		Expect(file).To(ContainSubstring("code_test.go"))
	})
})
