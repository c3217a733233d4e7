package resilience

import (
	"sync"
	"testing"
	"time"
)

func TestLimiterExactBudget(t *testing.T) {
	l := NewLimiter()
	const limit = 5

	for i := 0; i < limit; i++ {
		allowed, remaining, _ := l.Allow("billing", limit)
		if !allowed {
			t.Fatalf("call %d should be allowed", i)
		}
		if want := limit - i - 1; remaining != want {
			t.Errorf("call %d: remaining = %d, want %d", i, remaining, want)
		}
	}

	allowed, remaining, resetAt := l.Allow("billing", limit)
	if allowed {
		t.Error("call over budget should be rejected")
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
	if resetAt.IsZero() {
		t.Error("resetAt should point at the oldest recorded call aging out")
	}
}

func TestLimiterRejectionNotRecorded(t *testing.T) {
	l := NewLimiter()
	l.Allow("billing", 1)
	for i := 0; i < 10; i++ {
		l.Allow("billing", 1)
	}
	if n := l.Pending("billing"); n != 1 {
		t.Errorf("Pending = %d, want 1 (rejections must not be double-penalized)", n)
	}
}

func TestLimiterSlotRecovery(t *testing.T) {
	now := time.Now()
	l := NewLimiter()
	l.now = func() time.Time { return now }

	const limit = 3
	for i := 0; i < limit; i++ {
		if ok, _, _ := l.Allow("billing", limit); !ok {
			t.Fatalf("call %d should be allowed", i)
		}
		now = now.Add(time.Second)
	}
	if ok, _, _ := l.Allow("billing", limit); ok {
		t.Fatal("budget should be exhausted")
	}

	// Age the first call out of the window: exactly one slot recovers.
	now = now.Add(Window - 2500*time.Millisecond)
	if ok, _, _ := l.Allow("billing", limit); !ok {
		t.Error("one slot should have recovered")
	}
	if ok, _, _ := l.Allow("billing", limit); ok {
		t.Error("only one slot should have recovered")
	}
}

func TestLimiterNonPositiveLimit(t *testing.T) {
	l := NewLimiter()
	for _, limit := range []int{0, -1} {
		allowed, remaining, resetAt := l.Allow("billing", limit)
		if allowed {
			t.Errorf("limit %d: call should be rejected", limit)
		}
		if remaining != 0 {
			t.Errorf("limit %d: remaining = %d, want 0", limit, remaining)
		}
		if !resetAt.IsZero() {
			t.Errorf("limit %d: resetAt = %v, want zero time (nothing recorded)", limit, resetAt)
		}
	}
	if n := l.Pending("billing"); n != 0 {
		t.Errorf("Pending = %d, want 0", n)
	}
}

func TestLimiterKeysIndependent(t *testing.T) {
	l := NewLimiter()
	l.Allow("billing", 1)
	if ok, _, _ := l.Allow("shipping", 1); !ok {
		t.Error("keys must have independent windows")
	}
}

func TestLimiterConcurrent(t *testing.T) {
	l := NewLimiter()
	const limit = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := l.Allow("billing", limit); ok {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount != limit {
		t.Errorf("allowed %d concurrent calls, want exactly %d", allowedCount, limit)
	}
}
