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

package reply

import errors "github.com/ncbi-psg/gateway-core/internal/xerror"

// Protocol-level PSG envelope codes, registered the same way every other
// package registers its CodeError range, but the five after ErrorParamsEmpty also double as
// the `code` field of a PSG reply-message envelope: internal/psgframe.
// Message's second argument is one of these, converted via PSGCode().
const (
	ErrorParamsEmpty errors.CodeError = iota + errors.MinPkgReply
	MalformedParameter
	InsufficientArguments
	TooManyRequests
	ShuttingDown
	UnknownError
)

var isCodeError = false

func IsCodeError() bool {
	return isCodeError
}

func init() {
	isCodeError = errors.ExistInMapMessage(ErrorParamsEmpty)
	errors.RegisterIdFctMessage(ErrorParamsEmpty, getMessage)
}

func getMessage(code errors.CodeError) (message string) {
	switch code {
	case errors.UNK_ERROR:
		return ""
	case ErrorParamsEmpty:
		return "given parameters is empty"
	case MalformedParameter:
		return "malformed parameter"
	case InsufficientArguments:
		return "insufficient arguments"
	case TooManyRequests:
		return "too many pending requests"
	case ShuttingDown:
		return "server is shutting down"
	case UnknownError:
		return "unknown error"
	}

	return ""
}
