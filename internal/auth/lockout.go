package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"sportai.app/internal/obs"
)

// Tracker is the per-identity failed-attempt state machine:
//
//	Open -> (failure) -> Open, count+1
//	     -> (count == threshold) -> Locked until now+duration
//	Locked -> (locked-until elapses) -> Open, count 0
//
// Counting is serialized under one mutex so a burst of parallel failures
// observes exact attempt numbers. State is written through to the store so
// a restart does not clear an active lock; the in-memory map stays
// authoritative between writes.
type Tracker struct {
	mu        sync.Mutex
	states    map[string]*LockoutState
	loaded    map[string]bool
	store     LockoutStore
	threshold int
	duration  time.Duration
	now       func() time.Time
}

// NewTracker constructs a Tracker. store may be nil for purely in-memory
// operation (tests).
func NewTracker(store LockoutStore, threshold int, duration time.Duration) *Tracker {
	return &Tracker{
		states:    make(map[string]*LockoutState),
		loaded:    make(map[string]bool),
		store:     store,
		threshold: threshold,
		duration:  duration,
		now:       time.Now,
	}
}

// WithClock overrides the time source (tests).
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Locked reports whether identityID is currently locked and until when.
// An elapsed lock transitions back to Open with the counter reset, so the
// very next verification attempt reaches the credential store again.
func (t *Tracker) Locked(ctx context.Context, identityID string) (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.load(ctx, identityID)
	if state == nil {
		return false, time.Time{}
	}
	if state.LockedUntil.IsZero() {
		return false, time.Time{}
	}
	if !t.now().Before(state.LockedUntil) {
		t.reset(ctx, identityID)
		return false, time.Time{}
	}
	return true, state.LockedUntil
}

// RecordFailure increments the counter and returns the new count plus the
// lock deadline if this failure crossed the threshold.
func (t *Tracker) RecordFailure(ctx context.Context, identityID string) (count int, lockedUntil time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.load(ctx, identityID)
	if state == nil {
		state = &LockoutState{IdentityID: identityID}
		t.states[identityID] = state
	}
	state.Failures++
	if state.Failures >= t.threshold && state.LockedUntil.IsZero() {
		state.LockedUntil = t.now().Add(t.duration)
		obs.ObserveLockout()
	}
	t.persist(ctx, state)
	return state.Failures, state.LockedUntil
}

// Reset clears the counter after a successful verification. It reports
// whether any failure state was actually cleared.
func (t *Tracker) Reset(ctx context.Context, identityID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.load(ctx, identityID)
	cleared := state != nil && state.Failures > 0
	t.reset(ctx, identityID)
	return cleared
}

// Sweep garbage-collects expired, reset entries from memory.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for id, state := range t.states {
		if state.Failures == 0 || (!state.LockedUntil.IsZero() && !now.Before(state.LockedUntil)) {
			delete(t.states, id)
			delete(t.loaded, id)
		}
	}
}

// load returns the cached state, consulting the store once per identity.
// Callers hold t.mu.
func (t *Tracker) load(ctx context.Context, identityID string) *LockoutState {
	if state, ok := t.states[identityID]; ok {
		return state
	}
	if t.store == nil || t.loaded[identityID] {
		return nil
	}
	t.loaded[identityID] = true
	state, err := t.store.Find(ctx, identityID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.Emit(map[string]any{"level": "warn", "msg": "lockout load failed", "error": err.Error()})
		}
		return nil
	}
	t.states[identityID] = state
	return state
}

func (t *Tracker) reset(ctx context.Context, identityID string) {
	delete(t.states, identityID)
	delete(t.loaded, identityID)
	if t.store != nil {
		if err := t.store.Delete(ctx, identityID); err != nil {
			obs.Emit(map[string]any{"level": "warn", "msg": "lockout delete failed", "error": err.Error()})
		}
	}
}

func (t *Tracker) persist(ctx context.Context, state *LockoutState) {
	if t.store == nil {
		return
	}
	if err := t.store.Save(ctx, state); err != nil {
		// Lockout enforcement stays in memory; durability is best effort.
		obs.Emit(map[string]any{"level": "warn", "msg": "lockout save failed", "error": err.Error()})
	}
}
