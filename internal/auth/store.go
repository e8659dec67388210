package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Identities() IdentityStore
	Credentials() CredentialStore
	Sessions() SessionStore
	Lockouts() LockoutStore
}

// IdentityStore manages provisioned identities.
type IdentityStore interface {
	Create(ctx context.Context, id *Identity) error
	Find(ctx context.Context, id string) (*Identity, error)
	// FindByEmail matches case-insensitively; implementations store the
	// lower-cased form.
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	UpdateRole(ctx context.Context, id string, role Role) error
}

// CredentialStore manages hash material, 1:1 with identities.
type CredentialStore interface {
	Create(ctx context.Context, cred *Credential) error
	Find(ctx context.Context, identityID string) (*Credential, error)
	// Replace discards the previous hash material entirely.
	Replace(ctx context.Context, cred *Credential) error
}

// SessionStore keys sessions by token digest, never by the raw token.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, tokenDigest string) (*Session, error)
	Touch(ctx context.Context, tokenDigest string, lastSeen time.Time) error
	Revoke(ctx context.Context, tokenDigest string) error
	RevokeAllForIdentity(ctx context.Context, identityID string) error
	// DeleteExpired removes sessions whose absolute expiry passed before
	// cutoff. Terminal sessions are never resurrected.
	DeleteExpired(ctx context.Context, cutoff time.Time) error
}

// LockoutStore persists failure counters across restarts. The Tracker is
// the only writer.
type LockoutStore interface {
	Find(ctx context.Context, identityID string) (*LockoutState, error)
	Save(ctx context.Context, state *LockoutState) error
	Delete(ctx context.Context, identityID string) error
}
