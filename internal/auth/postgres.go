package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL through database/sql with the
// pgx stdlib driver. Schema lives in ops/migrations/sql.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Identities() IdentityStore    { return &pgIdentityStore{db: s.db} }
func (s *PGStore) Credentials() CredentialStore { return &pgCredentialStore{db: s.db} }
func (s *PGStore) Sessions() SessionStore       { return &pgSessionStore{db: s.db} }
func (s *PGStore) Lockouts() LockoutStore       { return &pgLockoutStore{db: s.db} }

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

// Identity store -----------------------------------------------------------

type pgIdentityStore struct{ db *sql.DB }

func (s *pgIdentityStore) Create(ctx context.Context, id *Identity) error {
	_, err := s.db.ExecContext(ctx,
		`insert into identities(id, email, role, facility_id, created_at) values($1,$2,$3,$4,$5)`,
		id.ID, strings.ToLower(id.Email), id.Role.String(), id.FacilityID, id.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrIdentityExists
		}
		return storageErr("create identity", err)
	}
	return nil
}

func (s *pgIdentityStore) Find(ctx context.Context, id string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, role, facility_id, created_at from identities where id=$1`, id)
	return scanIdentity(row)
}

func (s *pgIdentityStore) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, role, facility_id, created_at from identities where email=$1`,
		strings.ToLower(email))
	return scanIdentity(row)
}

func (s *pgIdentityStore) UpdateRole(ctx context.Context, id string, role Role) error {
	res, err := s.db.ExecContext(ctx,
		`update identities set role=$2 where id=$1`, id, role.String())
	if err != nil {
		return storageErr("update role", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		identity Identity
		roleName string
	)
	if err := row.Scan(&identity.ID, &identity.Email, &roleName, &identity.FacilityID, &identity.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("scan identity", err)
	}
	role, err := ParseRole(roleName)
	if err != nil {
		return nil, err
	}
	identity.Role = role
	return &identity, nil
}

// Credential store ---------------------------------------------------------

type pgCredentialStore struct{ db *sql.DB }

func (s *pgCredentialStore) Create(ctx context.Context, cred *Credential) error {
	_, err := s.db.ExecContext(ctx,
		`insert into credentials(identity_id, digest, salt, iterations, rotated_at) values($1,$2,$3,$4,$5)`,
		cred.IdentityID, cred.Digest, cred.Salt, cred.Iterations, cred.RotatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrIdentityExists
		}
		return storageErr("create credential", err)
	}
	return nil
}

func (s *pgCredentialStore) Find(ctx context.Context, identityID string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`select identity_id, digest, salt, iterations, rotated_at from credentials where identity_id=$1`,
		identityID)
	var cred Credential
	if err := row.Scan(&cred.IdentityID, &cred.Digest, &cred.Salt, &cred.Iterations, &cred.RotatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("find credential", err)
	}
	return &cred, nil
}

func (s *pgCredentialStore) Replace(ctx context.Context, cred *Credential) error {
	res, err := s.db.ExecContext(ctx,
		`update credentials set digest=$2, salt=$3, iterations=$4, rotated_at=$5 where identity_id=$1`,
		cred.IdentityID, cred.Digest, cred.Salt, cred.Iterations, cred.RotatedAt,
	)
	if err != nil {
		return storageErr("replace credential", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Session store ------------------------------------------------------------

type pgSessionStore struct{ db *sql.DB }

func (s *pgSessionStore) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(token_digest, identity_id, issued_at, expires_at, last_seen_at, revoked, remote_addr)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		sess.TokenDigest, sess.IdentityID, sess.IssuedAt, sess.ExpiresAt, sess.LastSeenAt, sess.Revoked, sess.RemoteAddr,
	)
	if err != nil {
		return storageErr("create session", err)
	}
	return nil
}

func (s *pgSessionStore) Find(ctx context.Context, tokenDigest string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select token_digest, identity_id, issued_at, expires_at, last_seen_at, revoked, remote_addr
		 from sessions where token_digest=$1`, tokenDigest)
	var sess Session
	if err := row.Scan(&sess.TokenDigest, &sess.IdentityID, &sess.IssuedAt, &sess.ExpiresAt,
		&sess.LastSeenAt, &sess.Revoked, &sess.RemoteAddr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, storageErr("find session", err)
	}
	return &sess, nil
}

func (s *pgSessionStore) Touch(ctx context.Context, tokenDigest string, lastSeen time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set last_seen_at=$2 where token_digest=$1`, tokenDigest, lastSeen)
	if err != nil {
		return storageErr("touch session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *pgSessionStore) Revoke(ctx context.Context, tokenDigest string) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked=true where token_digest=$1`, tokenDigest)
	if err != nil {
		return storageErr("revoke session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *pgSessionStore) RevokeAllForIdentity(ctx context.Context, identityID string) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set revoked=true where identity_id=$1 and revoked=false`, identityID)
	if err != nil {
		return storageErr("revoke sessions", err)
	}
	return nil
}

func (s *pgSessionStore) DeleteExpired(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`delete from sessions where expires_at < $1`, cutoff)
	if err != nil {
		return storageErr("delete expired sessions", err)
	}
	return nil
}

// Lockout store ------------------------------------------------------------

type pgLockoutStore struct{ db *sql.DB }

func (s *pgLockoutStore) Find(ctx context.Context, identityID string) (*LockoutState, error) {
	row := s.db.QueryRowContext(ctx,
		`select identity_id, failures, locked_until from lockouts where identity_id=$1`, identityID)
	var (
		state LockoutState
		until sql.NullTime
	)
	if err := row.Scan(&state.IdentityID, &state.Failures, &until); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("find lockout", err)
	}
	if until.Valid {
		state.LockedUntil = until.Time
	}
	return &state, nil
}

func (s *pgLockoutStore) Save(ctx context.Context, state *LockoutState) error {
	var until sql.NullTime
	if !state.LockedUntil.IsZero() {
		until = sql.NullTime{Time: state.LockedUntil, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`insert into lockouts(identity_id, failures, locked_until) values($1,$2,$3)
		 on conflict (identity_id) do update set failures=excluded.failures, locked_until=excluded.locked_until`,
		state.IdentityID, state.Failures, until,
	)
	if err != nil {
		return storageErr("save lockout", err)
	}
	return nil
}

func (s *pgLockoutStore) Delete(ctx context.Context, identityID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from lockouts where identity_id=$1`, identityID)
	if err != nil {
		return storageErr("delete lockout", err)
	}
	return nil
}
