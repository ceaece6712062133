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

// Package zhealth implements the /readyz, /healthz and /livez family
// (spec.md §4.9, component K): a fixed check table bound at start-up to a
// health-probe command and timeout, verbose vs. critical-only selection,
// an exclude list, self-probes issued against localhost on the gateway's
// own port, and the max-over-critical-else-max-over-non-critical
// aggregation rule.
package zhealth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	liblog "github.com/ncbi-psg/gateway-core/internal/logger"
)

// CheckID is one of the fixed, start-up-bound health check identifiers.
type CheckID string

const (
	Cassandra CheckID = "cassandra"
	LMDB      CheckID = "lmdb"
	WGS       CheckID = "wgs"
	CDD       CheckID = "cdd"
	SNP       CheckID = "snp"
)

// AllChecks is the fixed check table, in table order; the same order the
// verbose JSON document lists results in.
var AllChecks = []CheckID{Cassandra, LMDB, WGS, CDD, SNP}

// CheckConfig binds one table entry to its probe command (a URL path
// issued against localhost:<own_port>) and its timeout.
type CheckConfig struct {
	Name        string
	Description string
	Command     string
	Timeout     time.Duration
}

// Config is the complete health surface read from the gateway's own
// configuration: one CheckConfig per table id plus the critical-sources
// list that governs non-verbose selection.
type Config struct {
	Port            int
	Checks          map[CheckID]CheckConfig
	CriticalSources map[CheckID]bool
}

// Result is one check's outcome, in the shape the verbose JSON document
// lists each entry.
type Result struct {
	ID          CheckID `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Command     string  `json:"health-command"`
	Status      int     `json:"status"`
	Message     string  `json:"message,omitempty"`
	HTTPStatus  int     `json:"http_status"`
}

// Engine runs checks against the local process and aggregates them.
type Engine struct {
	cfg    Config
	client *http.Client
}

// New builds an Engine issuing self-probes with a fixed 30-second timeout
// cap on the underlying http.Client (individual checks still enforce their own,
// typically shorter, per-check timeout via context).
func New(cfg Config) *Engine {
	return &Engine{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RunOne executes exactly one check (the /readyz/<source> variant),
// returning false if id is not in the configured table.
func (e *Engine) RunOne(ctx context.Context, id CheckID) (Result, bool) {
	cc, ok := e.cfg.Checks[id]
	if !ok {
		return Result{}, false
	}
	return e.run(ctx, id, cc), true
}

// RunAll executes the selected subset of the table (verbose runs
// everything not excluded; non-verbose runs only the critical subset not
// excluded) and returns the aggregate HTTP status alongside each result
// that actually ran, in table order.
func (e *Engine) RunAll(ctx context.Context, verbose bool, exclude []string) (int, []Result) {
	excluded := make(map[CheckID]bool, len(exclude))
	for _, id := range exclude {
		excluded[CheckID(strings.TrimSpace(id))] = true
	}

	var results []Result
	for _, id := range AllChecks {
		cc, bound := e.cfg.Checks[id]
		if !bound || excluded[id] {
			continue
		}
		if !verbose && !e.cfg.CriticalSources[id] {
			continue
		}
		results = append(results, e.run(ctx, id, cc))
	}

	return e.aggregate(results), results
}

// aggregate implements spec.md §4.9: the maximum HTTP status over every
// critical check that ran; if none ran, the maximum over every
// non-critical check that ran; if nothing ran at all, 200. The
// "no critical checks ran, a non-critical check failed" case is resolved
// in this module's favor of the non-critical max, with a logged warning —
// see DESIGN.md.
func (e *Engine) aggregate(results []Result) int {
	criticalMax := 0
	otherMax := 0
	sawCritical := false

	for _, r := range results {
		if e.cfg.CriticalSources[r.ID] {
			sawCritical = true
			if r.HTTPStatus > criticalMax {
				criticalMax = r.HTTPStatus
			}
		} else if r.HTTPStatus > otherMax {
			otherMax = r.HTTPStatus
		}
	}

	if sawCritical {
		return criticalMax
	}
	if otherMax > 0 {
		if otherMax >= 400 {
			liblog.WarnLevel.Logf("zhealth: no critical checks ran, aggregate status %d comes from non-critical checks only", otherMax)
		}
		return otherMax
	}
	return http.StatusOK
}

// run issues the self-probe for one check and classifies the reply per
// spec.md §4.9: success maps to 200, a timeout maps to 504, and any other
// outcome uses the reported HTTP status if it is >= 200, else 500.
func (e *Engine) run(ctx context.Context, id CheckID, cc CheckConfig) Result {
	res := Result{
		ID:          id,
		Name:        cc.Name,
		Description: cc.Description,
		Command:     cc.Command,
	}

	timeout := cc.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d%s", e.cfg.Port, cc.Command)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		res.Status = http.StatusInternalServerError
		res.HTTPStatus = http.StatusInternalServerError
		res.Message = err.Error()
		return res
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			res.Status = http.StatusGatewayTimeout
			res.HTTPStatus = http.StatusGatewayTimeout
			res.Message = "probe timed out"
			return res
		}
		res.Status = http.StatusInternalServerError
		res.HTTPStatus = http.StatusInternalServerError
		res.Message = err.Error()
		return res
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Status = http.StatusOK
		res.HTTPStatus = http.StatusOK
		return res
	}

	if resp.StatusCode >= 200 {
		res.HTTPStatus = resp.StatusCode
	} else {
		res.HTTPStatus = http.StatusInternalServerError
	}
	res.Status = res.HTTPStatus
	res.Message = strings.TrimSpace(string(body))
	return res
}
