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

package xerror

// Package-code ranges for the gateway core. Each package that registers
// errors owns a contiguous block of 20 codes, following the same
// registration idiom as errors.RegisterIdFctMessage: one MinPkgXxx constant
// iota-based per package, used as the base in that package's own error.go.
const (
	MinPkgCertificate = 300
	MinPkgHttpEngine  = 1300
	MinPkgConnSlot    = 1320
	MinPkgRequest     = 1340
	MinPkgReply       = 1360
	MinPkgAdmission   = 1380
	MinPkgThrottle    = 1400
	MinPkgShutdown    = 1420
	MinPkgZHealth     = 1440
	MinPkgDispatch    = 1460
	MinPkgGwConfig    = 1480
	MinPkgAcceptor    = 1500
	MinPkgWorker      = 1520
	MinPkgConnLimits  = 1540
	MinPkgAdmin       = 1560
	MinPkgMetrics     = 1580

	MinAvailable = 2000
)
