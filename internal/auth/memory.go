package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with mutex-guarded maps. It backs tests and
// single-process development deployments; production uses PGStore.
type MemoryStore struct {
	identities *memIdentityStore
	creds      *memCredentialStore
	sessions   *memSessionStore
	lockouts   *memLockoutStore
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: &memIdentityStore{byID: map[string]Identity{}, byEmail: map[string]string{}},
		creds:      &memCredentialStore{byIdentity: map[string]Credential{}},
		sessions:   &memSessionStore{byDigest: map[string]Session{}},
		lockouts:   &memLockoutStore{byIdentity: map[string]LockoutState{}},
	}
}

func (s *MemoryStore) Identities() IdentityStore    { return s.identities }
func (s *MemoryStore) Credentials() CredentialStore { return s.creds }
func (s *MemoryStore) Sessions() SessionStore       { return s.sessions }
func (s *MemoryStore) Lockouts() LockoutStore       { return s.lockouts }

// Identity store -----------------------------------------------------------

type memIdentityStore struct {
	mu      sync.RWMutex
	byID    map[string]Identity
	byEmail map[string]string
}

func (s *memIdentityStore) Create(ctx context.Context, id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(id.Email)
	if _, ok := s.byEmail[email]; ok {
		return ErrIdentityExists
	}
	stored := *id
	stored.Email = email
	s.byID[id.ID] = stored
	s.byEmail[email] = id.ID
	return nil
}

func (s *memIdentityStore) Find(ctx context.Context, id string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := identity
	return &out, nil
}

func (s *memIdentityStore) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	identity := s.byID[id]
	out := identity
	return &out, nil
}

func (s *memIdentityStore) UpdateRole(ctx context.Context, id string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	identity.Role = role
	s.byID[id] = identity
	return nil
}

// Credential store ---------------------------------------------------------

type memCredentialStore struct {
	mu         sync.RWMutex
	byIdentity map[string]Credential
}

func (s *memCredentialStore) Create(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byIdentity[cred.IdentityID]; ok {
		return ErrIdentityExists
	}
	s.byIdentity[cred.IdentityID] = cloneCredential(cred)
	return nil
}

func (s *memCredentialStore) Find(ctx context.Context, identityID string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.byIdentity[identityID]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneCredential(&cred)
	return &out, nil
}

func (s *memCredentialStore) Replace(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byIdentity[cred.IdentityID]; !ok {
		return ErrNotFound
	}
	s.byIdentity[cred.IdentityID] = cloneCredential(cred)
	return nil
}

func cloneCredential(cred *Credential) Credential {
	out := *cred
	out.Digest = append([]byte(nil), cred.Digest...)
	out.Salt = append([]byte(nil), cred.Salt...)
	return out
}

// Session store ------------------------------------------------------------

type memSessionStore struct {
	mu       sync.RWMutex
	byDigest map[string]Session
}

func (s *memSessionStore) Create(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDigest[sess.TokenDigest] = *sess
	return nil
}

func (s *memSessionStore) Find(ctx context.Context, tokenDigest string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byDigest[tokenDigest]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := sess
	return &out, nil
}

func (s *memSessionStore) Touch(ctx context.Context, tokenDigest string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byDigest[tokenDigest]
	if !ok {
		return ErrSessionNotFound
	}
	sess.LastSeenAt = lastSeen
	s.byDigest[tokenDigest] = sess
	return nil
}

func (s *memSessionStore) Revoke(ctx context.Context, tokenDigest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byDigest[tokenDigest]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Revoked = true
	s.byDigest[tokenDigest] = sess
	return nil
}

func (s *memSessionStore) RevokeAllForIdentity(ctx context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for digest, sess := range s.byDigest {
		if sess.IdentityID == identityID && !sess.Revoked {
			sess.Revoked = true
			s.byDigest[digest] = sess
		}
	}
	return nil
}

func (s *memSessionStore) DeleteExpired(ctx context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for digest, sess := range s.byDigest {
		if sess.ExpiresAt.Before(cutoff) {
			delete(s.byDigest, digest)
		}
	}
	return nil
}

// Lockout store ------------------------------------------------------------

type memLockoutStore struct {
	mu         sync.Mutex
	byIdentity map[string]LockoutState
}

func (s *memLockoutStore) Find(ctx context.Context, identityID string) (*LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.byIdentity[identityID]
	if !ok {
		return nil, ErrNotFound
	}
	out := state
	return &out, nil
}

func (s *memLockoutStore) Save(ctx context.Context, state *LockoutState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byIdentity[state.IdentityID] = *state
	return nil
}

func (s *memLockoutStore) Delete(ctx context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byIdentity, identityID)
	return nil
}
