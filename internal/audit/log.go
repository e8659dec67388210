// Package audit provides the append-only, tamper-evident record of
// security events. Every entry commits to the hash of its predecessor, so
// recomputing the chain over the persisted records detects any insertion,
// deletion, or edit of history. A compromised writer can still withhold a
// new event; the chain is tamper-evident, not tamper-proof.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"sportai.app/internal/obs"
)

// Kind enumerates the recorded event kinds.
type Kind string

const (
	KindLoginSucceeded  Kind = "login.succeeded"
	KindLoginFailed     Kind = "login.failed"
	KindLockoutStarted  Kind = "lockout.started"
	KindLockoutCleared  Kind = "lockout.cleared"
	KindSessionRevoked  Kind = "session.revoked"
	KindLogout          Kind = "logout"
	KindPasswordRotated Kind = "password.rotated"
	KindPasswordReset   Kind = "password.reset"
	KindAccessDenied    Kind = "access.denied"
	KindProvisioned     Kind = "identity.provisioned"
)

// Outcome classifies how the recorded action ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event is one chain entry. IdentityID is empty for pre-auth events (e.g.
// a failed login against an unknown email). Plaintext credentials and
// derived hashes are never recorded.
type Event struct {
	Seq        uint64    `json:"seq"`
	At         time.Time `json:"at"`
	IdentityID string    `json:"identity_id,omitempty"`
	Kind       Kind      `json:"kind"`
	Outcome    Outcome   `json:"outcome"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// Store persists chain entries. Append-only: no update or delete exists.
type Store interface {
	Append(ctx context.Context, e *Event) error
	Last(ctx context.Context) (*Event, error)
	List(ctx context.Context, fromSeq uint64, limit int) ([]Event, error)
}

// ErrChainBroken reports a verification failure at a specific entry.
var ErrChainBroken = errors.New("audit: hash chain broken")

// Log assigns sequence numbers and chains hashes. Sequence assignment and
// chaining happen under one mutex; callers serialize only that narrow
// section, not the store write of unrelated work.
type Log struct {
	mu       sync.Mutex
	store    Store
	seq      uint64
	lastHash string
	now      func() time.Time
}

// NewLog opens the chain on top of store, resuming from the last persisted
// entry if one exists.
func NewLog(ctx context.Context, store Store) (*Log, error) {
	l := &Log{store: store, now: time.Now}
	last, err := store.Last(ctx)
	if err != nil {
		if errors.Is(err, ErrEmpty) {
			return l, nil
		}
		return nil, err
	}
	l.seq = last.Seq
	l.lastHash = last.Hash
	return l, nil
}

// ErrEmpty is returned by Store.Last when no entry has been appended yet.
var ErrEmpty = errors.New("audit: log is empty")

// WithClock overrides the time source (tests).
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Append seals e into the chain and persists it, returning the assigned
// sequence number. The entry is also emitted as a JSON log line.
func (l *Log) Append(ctx context.Context, e Event) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Seq = l.seq + 1
	if e.At.IsZero() {
		e.At = l.now()
	}
	// timestamptz keeps microseconds; hash what the store will give back.
	e.At = e.At.UTC().Truncate(time.Microsecond)
	e.PrevHash = l.lastHash
	e.Hash = hashEvent(&e)

	if err := l.store.Append(ctx, &e); err != nil {
		return 0, err
	}
	l.seq = e.Seq
	l.lastHash = e.Hash

	emit(&e)
	return e.Seq, nil
}

// Verify recomputes the chain over all persisted entries and returns
// ErrChainBroken at the first entry whose hash no longer matches.
func (l *Log) Verify(ctx context.Context) error {
	const page = 512
	var (
		prevHash string
		prevSeq  uint64
		from     uint64
	)
	for {
		events, err := l.store.List(ctx, from, page)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for i := range events {
			e := events[i]
			if e.Seq != prevSeq+1 {
				return fmt.Errorf("%w: missing entry between seq %d and %d", ErrChainBroken, prevSeq, e.Seq)
			}
			if e.PrevHash != prevHash {
				return fmt.Errorf("%w: seq %d prev-hash mismatch", ErrChainBroken, e.Seq)
			}
			if hashEvent(&e) != e.Hash {
				return fmt.Errorf("%w: seq %d hash mismatch", ErrChainBroken, e.Seq)
			}
			prevHash = e.Hash
			prevSeq = e.Seq
		}
		from = prevSeq
	}
}

// hashEvent commits to the previous hash and every recorded field. Hash
// itself is excluded from its own preimage.
func hashEvent(e *Event) string {
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	payload, _ := json.Marshal(struct {
		Seq        uint64  `json:"seq"`
		At         string  `json:"at"`
		IdentityID string  `json:"identity_id"`
		Kind       Kind    `json:"kind"`
		Outcome    Outcome `json:"outcome"`
		RemoteAddr string  `json:"remote_addr"`
		Detail     string  `json:"detail"`
	}{
		Seq:        e.Seq,
		At:         e.At.UTC().Format(time.RFC3339Nano),
		IdentityID: e.IdentityID,
		Kind:       e.Kind,
		Outcome:    e.Outcome,
		RemoteAddr: e.RemoteAddr,
		Detail:     e.Detail,
	})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func emit(e *Event) {
	line := map[string]any{
		"ts":      e.At.Format(time.RFC3339Nano),
		"type":    "audit",
		"seq":     e.Seq,
		"event":   string(e.Kind),
		"outcome": string(e.Outcome),
	}
	if e.IdentityID != "" {
		line["identity_id"] = e.IdentityID
	}
	if e.RemoteAddr != "" {
		line["remote_addr"] = e.RemoteAddr
	}
	if e.Detail != "" {
		line["detail"] = e.Detail
	}
	obs.Emit(line)
}
