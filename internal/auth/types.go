package auth

import "time"

// Identity represents an account provisioned in a facility tenant.
// Immutable after creation except the role, which only administrative
// operations change.
type Identity struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Role       Role      `json:"role"`
	FacilityID string    `json:"facility_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Credential carries the hash material for one identity. The digest and
// salt never leave the auth package; callers only ever observe a
// verification outcome. Iterations are recorded per credential so
// verification replays the exact parameters used at creation, letting the
// process-wide default grow over time without invalidating old hashes.
type Credential struct {
	IdentityID string
	Digest     []byte
	Salt       []byte
	Iterations int
	RotatedAt  time.Time
}

// LockoutState is the per-identity failure counter. A zero LockedUntil
// means the identity is open. Mutated only by the Tracker.
type LockoutState struct {
	IdentityID  string
	Failures    int
	LockedUntil time.Time
}

// Session is an issued login session. The raw token is returned to the
// caller exactly once at issuance; the store keys sessions by the SHA-256
// digest of the token. Immutable except LastSeenAt and Revoked, which only
// the Manager changes.
type Session struct {
	TokenDigest string    `json:"-"`
	IdentityID  string    `json:"identity_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Revoked     bool      `json:"revoked"`
	RemoteAddr  string    `json:"remote_addr"`
}
