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

// Package throttle implements the connection-population throttling engine
// (spec.md §4.7, component I): a periodically rebuilt snapshot of every
// worker's connected slots, four per-attribute over-limit lists, and the
// decision algorithm an accept-time or request-time check runs against it.
package throttle

import (
	"net"
	"sort"
	"strings"
	"time"

	"github.com/ncbi-psg/gateway-core/internal/atomicx"
	"github.com/ncbi-psg/gateway-core/internal/connslot"
)

// Decision is the outcome of one Check call.
type Decision int

const (
	// Continue admits the request without any throttling action.
	Continue Decision = iota
	// OtherClosed means some other, idle, over-limit connection was just
	// asked to close asynchronously; the current request proceeds.
	OtherClosed
	// CloseThis means the current connection itself matched an over-limit
	// attribute; the caller must emit a PSG 503 and close synchronously.
	CloseThis
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case OtherClosed:
		return "other-closed"
	case CloseThis:
		return "close-this"
	}
	return "unknown"
}

// Config carries the four per-attribute caps and the two timing knobs
// spec.md §6 names: conn_throttle_by_host/site/process/user_agent,
// conn_throttle_idle_timeout_ms, throttling_data_valid_sec. A zero cap
// disables throttling on that attribute.
type Config struct {
	ValidFor    time.Duration
	IdleTimeout time.Duration

	ByHostLimit      int
	BySiteLimit      int
	ByProcessLimit   int
	ByUserAgentLimit int
}

// WorkerView is the minimal capability the engine needs from a worker: an
// id for diagnostics and a way to enumerate its connected slots without
// importing internal/worker (which imports this package, so the import
// would be a cycle). internal/worker.Worker already satisfies
// this with its Connected method.
type WorkerView interface {
	ID() int
	Connected(f func(*connslot.Slot) bool)
}

type idleEntry struct {
	slot         *connslot.Slot
	lastActivity time.Time
	host         string
	site         string
	processID    string
	userAgent    string
	closeIssued  bool
}

// snapshot is spec.md's ThrottlingData: four count maps, four over-limit
// sets, and the idle-connection list sorted ascending by last activity.
type snapshot struct {
	builtAt time.Time

	totalConns int

	countByHost      map[string]int
	countBySite      map[string]int
	countByProcess   map[string]int
	countByUserAgent map[string]int

	overHost      map[string]bool
	overSite      map[string]bool
	overProcess   map[string]bool
	overUserAgent map[string]bool

	idle []*idleEntry
}

// Engine is the per-process throttling engine; one instance is shared by
// every worker.
type Engine struct {
	cfg     Config
	workers []WorkerView

	// snap/inProgress are the Go stand-in for the source's spinlock-
	// guarded (snapshot, timestamp, in_progress) triple: the standard
	// library has no user-space spinlock, and the teacher repo's own
	// atomic-wrapper package (internal/atomicx, generalised from it) is
	// the idiomatic replacement for a single-word flag published across
	// goroutines without a lock. A rebuilt snapshot is an immutable,
	// wholesale replacement — never mutated after publication — which is
	// exactly the publish-once-read-many shape atomicx.Value was built
	// for; concurrent callers that arrive while a rebuild is already in
	// progress read the stale snapshot instead of blocking on the
	// rebuild, exactly as spec.md §4.7 requires.
	snap       atomicx.Value[*snapshot]
	inProgress atomicx.Value[bool]
}

// New builds an Engine scanning workers for its snapshots.
func New(cfg Config, workers []WorkerView) *Engine {
	return &Engine{
		cfg:        cfg,
		workers:    workers,
		snap:       atomicx.NewValue[*snapshot](),
		inProgress: atomicx.NewValue[bool](),
	}
}

// Check runs spec.md §4.7's decision algorithm for a request arriving on
// self. self may be nil for a probe that has no connection yet (e.g. an
// accept-time check before a slot exists), in which case only step 1 (the
// idle sweep) can fire.
func (e *Engine) Check(self *connslot.Slot) Decision {
	snap := e.getSnapshot()
	if snap == nil {
		return Continue
	}

	if entry := snap.pickIdleVictim(); entry != nil {
		entry.slot.RequestClose()
		return OtherClosed
	}

	if self == nil {
		return Continue
	}

	if self.NumRequestsInitiated() > 1 {
		return Continue
	}

	host, site, processID, userAgent := attrsOf(self)
	if snap.matchesOverLimit(host, site, processID, userAgent) {
		return CloseThis
	}

	return Continue
}

// pickIdleVictim walks the idle list (already sorted ascending by last
// activity) for the first entry that is both over some limit and not yet
// closeIssued, marking it closeIssued under the snapshot's own lock-free
// single-owner contract: snapshots are rebuilt wholesale and never mutated
// by more than the Check callers that share them, so a plain field flip
// guarded by the snapshot build serializes correctly against the rebuild
// but not against concurrent Check calls on the same snapshot — callers
// tolerate an occasional double-pick as "close already in flight",
// RequestClose itself being idempotent (buffered, non-blocking send).
func (s *snapshot) pickIdleVictim() *idleEntry {
	for _, e := range s.idle {
		if e.closeIssued {
			continue
		}
		if s.matchesOverLimit(e.host, e.site, e.processID, e.userAgent) {
			e.closeIssued = true
			return e
		}
	}
	return nil
}

func (s *snapshot) matchesOverLimit(host, site, processID, userAgent string) bool {
	if host != "" && s.overHost[host] {
		return true
	}
	if site != "" && s.overSite[site] {
		return true
	}
	if processID != "" && s.overProcess[processID] {
		return true
	}
	if userAgent != "" && s.overUserAgent[userAgent] {
		return true
	}
	return false
}

// getSnapshot returns a fresh-enough snapshot, rebuilding one if the cache
// has expired and no rebuild is already in progress, or handing back the
// stale snapshot (possibly nil, on the very first call) otherwise.
func (e *Engine) getSnapshot() *snapshot {
	cur := e.snap.Load()
	if cur != nil && time.Since(cur.builtAt) < e.cfg.ValidFor {
		return cur
	}
	if e.inProgress.Swap(true) {
		return cur
	}

	fresh := e.build()

	e.snap.Store(fresh)
	e.inProgress.Store(false)

	return fresh
}

func (e *Engine) build() *snapshot {
	s := &snapshot{
		builtAt:          time.Now(),
		countByHost:      make(map[string]int),
		countBySite:      make(map[string]int),
		countByProcess:   make(map[string]int),
		countByUserAgent: make(map[string]int),
		overHost:         make(map[string]bool),
		overSite:         make(map[string]bool),
		overProcess:      make(map[string]bool),
		overUserAgent:    make(map[string]bool),
	}

	for _, w := range e.workers {
		w.Connected(func(slot *connslot.Slot) bool {
			s.totalConns++

			host, site, processID, userAgent := attrsOf(slot)
			if host != "" {
				s.countByHost[host]++
			}
			if site != "" {
				s.countBySite[site]++
			}
			if processID != "" {
				s.countByProcess[processID]++
			}
			if userAgent != "" {
				s.countByUserAgent[userAgent]++
			}

			if last, idle := idleSince(slot, e.cfg.IdleTimeout); idle {
				s.idle = append(s.idle, &idleEntry{
					slot:         slot,
					lastActivity: last,
					host:         host,
					site:         site,
					processID:    processID,
					userAgent:    userAgent,
				})
			}

			return true
		})
	}

	markOver(s.countByHost, e.cfg.ByHostLimit, s.overHost)
	markOver(s.countBySite, e.cfg.BySiteLimit, s.overSite)
	markOver(s.countByProcess, e.cfg.ByProcessLimit, s.overProcess)
	markOver(s.countByUserAgent, e.cfg.ByUserAgentLimit, s.overUserAgent)

	sort.Slice(s.idle, func(i, j int) bool {
		return s.idle[i].lastActivity.Before(s.idle[j].lastActivity)
	})

	return s
}

func markOver(counts map[string]int, limit int, over map[string]bool) {
	if limit <= 0 {
		return
	}
	for k, n := range counts {
		if n > limit {
			over[k] = true
		}
	}
}

// idleSince reports a slot's last-activity instant and whether that is
// older than timeout — spec.md §4.7's "last request for longer than the
// throttling-idle timeout" test, falling back to the open timestamp for a
// connection that has never initiated a request.
func idleSince(slot *connslot.Slot, timeout time.Duration) (time.Time, bool) {
	last := slot.LastActivity()
	if timeout <= 0 {
		return last, false
	}
	return last, time.Since(last) >= timeout
}

// attrsOf extracts the four throttling attributes from a slot: peer host
// (port stripped), peer /16 site, peer id, and user agent.
func attrsOf(slot *connslot.Slot) (host, site, processID, userAgent string) {
	host = hostOf(slot.PeerIPValue())
	site = siteOf(host)
	processID, _ = slot.PeerIDValue()
	userAgent, _ = slot.UserAgentValue()
	return
}

func hostOf(peerAddr string) string {
	if h, _, err := net.SplitHostPort(peerAddr); err == nil {
		return h
	}
	return peerAddr
}

// siteOf computes the /16 CIDR prefix for an IPv4 peer (spec.md §4.7's
// "peer /16 site" attribute). For anything else — IPv6, malformed input —
// the full host stands in for its own site: there is no idiomatic /16
// equivalent for those addresses worth inventing.
func siteOf(host string) string {
	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	v4 := ip.To4()
	if v4 == nil {
		return host
	}
	parts := strings.SplitN(v4.String(), ".", 3)
	if len(parts) < 2 {
		return host
	}
	return parts[0] + "." + parts[1] + ".0.0/16"
}
