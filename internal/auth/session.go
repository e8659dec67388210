package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"sportai.app/internal/obs"
)

const tokenBytes = 32 // 256 bits of entropy

// Manager owns the session-token lifecycle. Tokens are opaque random
// strings; the store only ever sees their SHA-256 digest, so a leaked
// session table cannot be replayed. A session is valid only while both the
// absolute deadline (from issuance) and the inactivity deadline (from last
// activity) are in the future; refresh extends only the latter.
type Manager struct {
	store       SessionStore
	absoluteTTL time.Duration
	idleTTL     time.Duration
	now         func() time.Time
}

func NewManager(store SessionStore, absoluteTTL, idleTTL time.Duration) *Manager {
	return &Manager{
		store:       store,
		absoluteTTL: absoluteTTL,
		idleTTL:     idleTTL,
		now:         time.Now,
	}
}

// WithClock overrides the time source (tests).
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Issue mints a session for identityID. The returned token is shown to the
// caller exactly once and is never reconstructable from stored state.
func (m *Manager) Issue(ctx context.Context, identityID, remoteAddr string) (*Session, string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("auth: generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := m.now().UTC()
	sess := &Session{
		TokenDigest: digestToken(token),
		IdentityID:  identityID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(m.absoluteTTL),
		LastSeenAt:  now,
		RemoteAddr:  remoteAddr,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, "", err
	}
	obs.SessionOpened()
	return sess, token, nil
}

// Validate resolves token to a live session. Expired and revoked sessions
// are terminal: they are reported distinctly here for auditing, and the
// HTTP boundary collapses all three failures into one generic 401.
func (m *Manager) Validate(ctx context.Context, token string) (*Session, error) {
	sess, err := m.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.Revoked {
		return nil, ErrSessionRevoked
	}
	now := m.now()
	if !now.Before(sess.ExpiresAt) || !now.Before(sess.LastSeenAt.Add(m.idleTTL)) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Refresh extends the inactivity deadline of a valid session. The absolute
// deadline never moves.
func (m *Manager) Refresh(ctx context.Context, token string) error {
	sess, err := m.Validate(ctx, token)
	if err != nil {
		return err
	}
	return m.store.Touch(ctx, sess.TokenDigest, m.now().UTC())
}

// Revoke transitions the session to its terminal state. Idempotent on
// already-revoked sessions.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	sess, err := m.lookup(ctx, token)
	if err != nil {
		return err
	}
	if sess.Revoked {
		return nil
	}
	if err := m.store.Revoke(ctx, sess.TokenDigest); err != nil {
		return err
	}
	obs.SessionClosed()
	return nil
}

// RevokeAll invalidates every live session of an identity, e.g. after a
// password rotation.
func (m *Manager) RevokeAll(ctx context.Context, identityID string) error {
	return m.store.RevokeAllForIdentity(ctx, identityID)
}

// PurgeExpired drops sessions past their absolute deadline. Tokens are
// random, so a purged digest can never collide with a future session.
func (m *Manager) PurgeExpired(ctx context.Context) error {
	return m.store.DeleteExpired(ctx, m.now().UTC())
}

func (m *Manager) lookup(ctx context.Context, token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionNotFound
	}
	digest := digestToken(token)
	sess, err := m.store.Find(ctx, digest)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	// The store lookup is by digest; re-compare in constant time so the
	// comparison cost never depends on where the strings differ.
	if subtle.ConstantTimeCompare([]byte(sess.TokenDigest), []byte(digest)) != 1 {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func digestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
