package auth

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestTrackerLocksAtThreshold(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tracker := NewTracker(nil, 5, 15*time.Minute).WithClock(func() time.Time { return now })

	for i := 1; i <= 4; i++ {
		count, lockedUntil := tracker.RecordFailure(ctx, "id-1")
		if count != i {
			t.Fatalf("attempt %d reported count %d", i, count)
		}
		if !lockedUntil.IsZero() {
			t.Fatalf("locked after only %d failures", i)
		}
	}

	count, lockedUntil := tracker.RecordFailure(ctx, "id-1")
	if count != 5 {
		t.Fatalf("fifth failure reported count %d", count)
	}
	if lockedUntil != now.Add(15*time.Minute) {
		t.Fatalf("unexpected lock deadline %v", lockedUntil)
	}

	if locked, until := tracker.Locked(ctx, "id-1"); !locked || until != lockedUntil {
		t.Fatal("identity should be locked")
	}
}

func TestTrackerResetBeforeThreshold(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(nil, 5, 15*time.Minute)

	for i := 0; i < 4; i++ {
		tracker.RecordFailure(ctx, "id-1")
	}
	if !tracker.Reset(ctx, "id-1") {
		t.Fatal("Reset reported nothing to clear")
	}
	if tracker.Reset(ctx, "id-1") {
		t.Fatal("second Reset reported cleared state")
	}

	count, lockedUntil := tracker.RecordFailure(ctx, "id-1")
	if count != 1 || !lockedUntil.IsZero() {
		t.Fatalf("counter did not reset: count=%d locked=%v", count, lockedUntil)
	}
}

func TestTrackerUnlocksAfterDeadline(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tracker := NewTracker(nil, 2, 900*time.Second).WithClock(func() time.Time { return now })

	tracker.RecordFailure(ctx, "id-1")
	tracker.RecordFailure(ctx, "id-1")
	if locked, _ := tracker.Locked(ctx, "id-1"); !locked {
		t.Fatal("expected lock after threshold")
	}

	// One second early: still locked.
	now = now.Add(899 * time.Second)
	if locked, _ := tracker.Locked(ctx, "id-1"); !locked {
		t.Fatal("lock released early")
	}

	// Exactly at the deadline: open again with a zero counter.
	now = now.Add(1 * time.Second)
	if locked, _ := tracker.Locked(ctx, "id-1"); locked {
		t.Fatal("lock held past the deadline")
	}
	if count, _ := tracker.RecordFailure(ctx, "id-1"); count != 1 {
		t.Fatalf("counter survived the unlock: %d", count)
	}
}

func TestTrackerSerializesConcurrentFailures(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(nil, 1000, time.Hour)

	const goroutines = 50
	const perGoroutine = 10
	seen := make(chan int, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				count, _ := tracker.RecordFailure(ctx, "id-1")
				seen <- count
			}
		}()
	}
	wg.Wait()
	close(seen)

	counts := make(map[int]bool)
	for c := range seen {
		if counts[c] {
			t.Fatalf("attempt number %d was reported twice", c)
		}
		counts[c] = true
	}
	if len(counts) != goroutines*perGoroutine {
		t.Fatalf("observed %d distinct counts, want %d", len(counts), goroutines*perGoroutine)
	}
}

func TestTrackerPersistsThroughStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore().Lockouts()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first := NewTracker(store, 2, time.Hour).WithClock(func() time.Time { return now })
	first.RecordFailure(ctx, "id-1")
	first.RecordFailure(ctx, "id-1")

	// A fresh tracker (restart) sees the persisted lock.
	second := NewTracker(store, 2, time.Hour).WithClock(func() time.Time { return now })
	if locked, _ := second.Locked(ctx, "id-1"); !locked {
		t.Fatal("lock did not survive a restart")
	}
}

func TestTrackerSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tracker := NewTracker(nil, 2, time.Minute).WithClock(func() time.Time { return now })

	tracker.RecordFailure(ctx, "expired")
	tracker.RecordFailure(ctx, "expired")
	tracker.RecordFailure(ctx, "counting")

	now = now.Add(2 * time.Minute)
	tracker.Sweep()

	tracker.mu.Lock()
	_, hasExpired := tracker.states["expired"]
	_, hasCounting := tracker.states["counting"]
	tracker.mu.Unlock()

	if hasExpired {
		t.Fatal("expired lock survived the sweep")
	}
	if !hasCounting {
		t.Fatal("live counter was swept")
	}
}
