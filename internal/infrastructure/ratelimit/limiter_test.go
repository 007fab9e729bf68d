package ratelimit

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func TestLimiter_AllowThenBlock(t *testing.T) {
	l := New(Config{MaxRequests: 3, Window: 50 * time.Millisecond, Enabled: true, CleanupInterval: time.Hour}, testLogger())
	defer l.Stop()

	for i := 0; i < 3; i++ {
		d := l.Check("k")
		if !d.Allowed {
			t.Fatalf("call %d: expected allowed", i)
		}
	}

	d := l.Check("k")
	if d.Allowed {
		t.Fatal("4th call should be denied")
	}
	if d.RetryAfter <= 0 {
		t.Fatal("expected positive retry-after")
	}
	if d.ResetAt.IsZero() {
		t.Fatal("expected ResetAt to be set on a denied decision")
	}

	time.Sleep(60 * time.Millisecond)
	d = l.Check("k")
	if !d.Allowed {
		t.Fatal("call after window expiry should be allowed")
	}
}

func TestLimiter_BlockExpiry(t *testing.T) {
	l := New(Config{MaxRequests: 1, Window: 20 * time.Millisecond, Enabled: true, CleanupInterval: time.Hour}, testLogger())
	defer l.Stop()

	l.Check("k")
	d := l.Check("k")
	if d.Allowed {
		t.Fatal("second call should be blocked")
	}
	if !d.ResetAt.After(time.Now()) {
		t.Fatal("expected ResetAt to be in the future on a blocked decision")
	}

	time.Sleep(25 * time.Millisecond)
	d = l.Check("k")
	if !d.Allowed {
		t.Fatal("call after blockedUntil should be allowed")
	}
}

func TestLimiter_KeyIsolation(t *testing.T) {
	l := New(Config{MaxRequests: 1, Window: time.Second, Enabled: true, CleanupInterval: time.Hour}, testLogger())
	defer l.Stop()

	l.Check("a")
	d := l.Check("a")
	if d.Allowed {
		t.Fatal("key a should be blocked on second call")
	}

	d = l.Check("b")
	if !d.Allowed {
		t.Fatal("key b should be unaffected by key a's state")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l := New(Config{MaxRequests: 1, Window: time.Second, Enabled: false}, testLogger())
	defer l.Stop()

	for i := 0; i < 10; i++ {
		d := l.Check("k")
		if !d.Allowed {
			t.Fatal("disabled limiter must always allow")
		}
	}
}

func TestLimiter_ConservationUnderConcurrency(t *testing.T) {
	l := New(Config{MaxRequests: 5, Window: time.Second, Enabled: true, CleanupInterval: time.Hour}, testLogger())
	defer l.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := l.Check("shared")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed > 5 {
		t.Fatalf("expected at most 5 allowed within the window, got %d", allowed)
	}
}

func TestLimiter_SweepPrunesEmptyUnblockedEntries(t *testing.T) {
	l := New(Config{MaxRequests: 5, Window: 10 * time.Millisecond, Enabled: true, CleanupInterval: time.Hour}, testLogger())
	defer l.Stop()

	l.Check("k")
	time.Sleep(15 * time.Millisecond)
	l.sweep()

	l.mu.Lock()
	_, exists := l.entries["k"]
	l.mu.Unlock()
	if exists {
		t.Fatal("expected empty, unblocked entry to be pruned by sweep")
	}
}

func TestLimiter_EvictsOverCap(t *testing.T) {
	l := New(Config{MaxRequests: 5, Window: time.Hour, Enabled: true, CleanupInterval: time.Hour}, testLogger())
	defer l.Stop()

	for i := 0; i < MaxEntries+10; i++ {
		l.Check(string(rune(i)) + "-key")
	}
	l.sweep()

	l.mu.Lock()
	count := len(l.entries)
	l.mu.Unlock()

	if count > MaxEntries {
		t.Fatalf("expected entries to be capped at %d, got %d", MaxEntries, count)
	}
}
