package ratelimit

import (
	"sort"
	"sync"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/monitoring"
	"github.com/ngoclaw/ngoclaw/gateway/pkg/safego"
	"go.uber.org/zap"
)

// MaxEntries bounds the client table; once exceeded, the cleanup sweep
// evicts by last-activity.
const MaxEntries = 10000

// entry is one client's sliding-window state.
type entry struct {
	timestamps   []time.Time
	blocked      bool
	blockedUntil time.Time
	lastActivity time.Time
}

// Config configures the sliding-window limiter.
type Config struct {
	MaxRequests     int
	Window          time.Duration
	Enabled         bool
	CleanupInterval time.Duration // default 60s
}

// Limiter implements service.Limiter with a per-key sliding window and a
// block state, matching the locking idiom of
// internal/infrastructure/llm.CircuitBreaker: a single mutex guarding a
// small map, explicit state transitions, no lock held across I/O.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	cfg     Config
	logger  *zap.Logger

	stopCh    chan struct{}
	stopOnce  sync.Once
	cleaningMu sync.Mutex // guards the reentrancy flag for sweep()
	cleaning   bool
}

var _ service.Limiter = (*Limiter)(nil)

// New creates a Limiter and starts its background cleanup sweep.
func New(cfg Config, logger *zap.Logger) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 60 * time.Second
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	l := &Limiter{
		entries: make(map[string]*entry),
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "rate-limiter")),
		stopCh:  make(chan struct{}),
	}

	safego.Go(l.logger, "ratelimit-cleanup", l.cleanupLoop)

	return l
}

// MaxRequests returns the configured admission threshold.
func (l *Limiter) MaxRequests() int {
	return l.cfg.MaxRequests
}

// Check implements the sliding-window admission algorithm.
func (l *Limiter) Check(key string) service.LimitDecision {
	if !l.cfg.Enabled {
		return service.LimitDecision{
			Allowed:   true,
			Remaining: l.cfg.MaxRequests,
			ResetAt:   time.Now().Add(l.cfg.Window),
		}
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.lastActivity = now

	if e.blocked && now.Before(e.blockedUntil) {
		monitoring.RateLimitDenied.Inc()
		return service.LimitDecision{
			Allowed:    false,
			ResetAt:    e.blockedUntil,
			RetryAfter: ceilSeconds(e.blockedUntil.Sub(now)),
		}
	}
	if e.blocked && !now.Before(e.blockedUntil) {
		e.blocked = false
	}

	cutoff := now.Add(-l.cfg.Window)
	e.timestamps = pruneBefore(e.timestamps, cutoff)

	if len(e.timestamps) >= l.cfg.MaxRequests {
		e.blocked = true
		oldest := e.timestamps[0]
		e.blockedUntil = oldest.Add(l.cfg.Window)
		monitoring.RateLimitDenied.Inc()
		return service.LimitDecision{
			Allowed:    false,
			ResetAt:    e.blockedUntil,
			RetryAfter: ceilSeconds(e.blockedUntil.Sub(now)),
		}
	}

	e.timestamps = append(e.timestamps, now)
	monitoring.RateLimitAllowed.Inc()

	oldest := e.timestamps[0]
	return service.LimitDecision{
		Allowed:   true,
		Remaining: l.cfg.MaxRequests - len(e.timestamps),
		ResetAt:   oldest.Add(l.cfg.Window),
	}
}

// Stop halts the background cleanup sweep.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopCh:
			return
		}
	}
}

// sweep is reentrancy-guarded: the periodic sweep must never interleave
// with itself, mirroring the Pool's dispatch-loop guard rather than relying
// on the ticker's own serialization, since tests may invoke it directly.
func (l *Limiter) sweep() {
	l.cleaningMu.Lock()
	if l.cleaning {
		l.cleaningMu.Unlock()
		return
	}
	l.cleaning = true
	l.cleaningMu.Unlock()
	defer func() {
		l.cleaningMu.Lock()
		l.cleaning = false
		l.cleaningMu.Unlock()
	}()

	now := time.Now()
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		e.timestamps = pruneBefore(e.timestamps, cutoff)
		if e.blocked && !now.Before(e.blockedUntil) {
			e.blocked = false
		}
		if len(e.timestamps) == 0 && !e.blocked {
			delete(l.entries, key)
		}
	}

	monitoring.RateLimitEntries.Set(float64(len(l.entries)))

	if len(l.entries) <= MaxEntries {
		return
	}

	evictCount := len(l.entries) - MaxEntries
	l.evictLRU(evictCount)
}

// evictLRU removes the n least-recently-active entries. For a small
// eviction relative to table size, a partial selection scan avoids sorting
// the whole table; otherwise a full sort is cheaper to reason about.
func (l *Limiter) evictLRU(n int) {
	if n <= 0 {
		return
	}

	type kv struct {
		key  string
		last time.Time
	}
	all := make([]kv, 0, len(l.entries))
	for k, e := range l.entries {
		all = append(all, kv{k, e.lastActivity})
	}

	if n*4 < len(all) {
		// Partial selection: n rounds of "find the oldest remaining" is
		// cheaper than a full sort when n is a small fraction of the table.
		for i := 0; i < n; i++ {
			oldestIdx := i
			for j := i + 1; j < len(all); j++ {
				if all[j].last.Before(all[oldestIdx].last) {
					oldestIdx = j
				}
			}
			all[i], all[oldestIdx] = all[oldestIdx], all[i]
			delete(l.entries, all[i].key)
		}
		return
	}

	sort.Slice(all, func(i, j int) bool { return all[i].last.Before(all[j].last) })
	for i := 0; i < n && i < len(all); i++ {
		delete(l.entries, all[i].key)
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}
