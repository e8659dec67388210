package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sportai.app/internal/audit"
	"sportai.app/internal/obs"
)

// Service orchestrates credential verification, lockout bookkeeping,
// session issuance, policy checks, and audit appends. It is the only
// surface the rest of the platform calls.
type Service struct {
	store    Store
	creds    *Credentials
	lockouts *Tracker
	sessions *Manager
	policy   *Policy
	hasher   *Hasher
	audit    *audit.Log
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (tests). The clock propagates to the
// lockout tracker and session manager.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
			s.lockouts.WithClock(fn)
			s.sessions.WithClock(fn)
			s.audit.WithClock(fn)
		}
		return nil
	}
}

// NewService wires the components. policy.SelfCheck runs here so a policy
// gap fails process startup instead of denying (or allowing) silently.
func NewService(store Store, creds *Credentials, lockouts *Tracker, sessions *Manager,
	policy *Policy, hasher *Hasher, auditLog *audit.Log, opts ...ServiceOption) (*Service, error) {
	if err := policy.SelfCheck(); err != nil {
		return nil, err
	}
	svc := &Service{
		store:    store,
		creds:    creds,
		lockouts: lockouts,
		sessions: sessions,
		policy:   policy,
		hasher:   hasher,
		audit:    auditLog,
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// LoginResult carries the session plus the one-time raw token.
type LoginResult struct {
	Session *Session
	Token   string
}

// Login authenticates email/password from remoteAddr.
//
// Unknown emails burn a decoy derivation so their timing matches the
// wrong-password path, and both return the same ErrInvalidCredentials. A
// locked identity is rejected before any hashing. The success path treats
// session issuance and the audit append as one logical unit: if the append
// fails, the session is revoked and the login fails.
func (s *Service) Login(ctx context.Context, email, password, remoteAddr string) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	identity, err := s.store.Identities().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.hasher.DecoyVerify(password)
			obs.ObserveLogin("failure")
			s.append(ctx, audit.Event{
				Kind: audit.KindLoginFailed, Outcome: audit.OutcomeFailure,
				RemoteAddr: remoteAddr, Detail: "unknown email",
			})
			return nil, ErrInvalidCredentials
		}
		obs.ObserveLogin("error")
		return nil, err
	}

	if locked, until := s.lockouts.Locked(ctx, identity.ID); locked {
		obs.ObserveLogin("locked")
		s.append(ctx, audit.Event{
			Kind: audit.KindLoginFailed, Outcome: audit.OutcomeFailure,
			IdentityID: identity.ID, RemoteAddr: remoteAddr, Detail: "account locked",
		})
		return nil, &AccountLockedError{Until: until}
	}

	ok, err := s.creds.Verify(ctx, identity.ID, password)
	if err != nil {
		obs.ObserveLogin("error")
		return nil, err
	}
	if !ok {
		count, lockedUntil := s.lockouts.RecordFailure(ctx, identity.ID)
		obs.ObserveLogin("failure")
		s.append(ctx, audit.Event{
			Kind: audit.KindLoginFailed, Outcome: audit.OutcomeFailure,
			IdentityID: identity.ID, RemoteAddr: remoteAddr,
			Detail: fmt.Sprintf("wrong password (attempt %d)", count),
		})
		if !lockedUntil.IsZero() {
			s.append(ctx, audit.Event{
				Kind: audit.KindLockoutStarted, Outcome: audit.OutcomeFailure,
				IdentityID: identity.ID, RemoteAddr: remoteAddr,
				Detail: fmt.Sprintf("locked until %s", lockedUntil.UTC().Format(time.RFC3339)),
			})
		}
		return nil, ErrInvalidCredentials
	}

	if s.lockouts.Reset(ctx, identity.ID) {
		s.append(ctx, audit.Event{
			Kind: audit.KindLockoutCleared, Outcome: audit.OutcomeSuccess,
			IdentityID: identity.ID, RemoteAddr: remoteAddr,
		})
	}

	sess, token, err := s.sessions.Issue(ctx, identity.ID, remoteAddr)
	if err != nil {
		obs.ObserveLogin("error")
		return nil, err
	}
	if _, err := s.audit.Append(ctx, audit.Event{
		Kind: audit.KindLoginSucceeded, Outcome: audit.OutcomeSuccess,
		IdentityID: identity.ID, RemoteAddr: remoteAddr,
	}); err != nil {
		// No audit record, no committed session.
		_ = s.sessions.Revoke(ctx, token)
		obs.ObserveLogin("error")
		return nil, fmt.Errorf("%w: audit append: %v", ErrStorageUnavailable, err)
	}

	obs.ObserveLogin("success")
	return &LoginResult{Session: sess, Token: token}, nil
}

// Logout revokes the session behind token. Unknown tokens report the
// generic unauthenticated outcome.
func (s *Service) Logout(ctx context.Context, token string) error {
	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return err
	}
	s.append(ctx, audit.Event{
		Kind: audit.KindLogout, Outcome: audit.OutcomeSuccess,
		IdentityID: sess.IdentityID, RemoteAddr: sess.RemoteAddr,
	})
	return nil
}

// Authorize validates token, slides the inactivity window, and checks op
// against the identity's role. Denials are audited with the attempted
// operation.
func (s *Service) Authorize(ctx context.Context, token string, op Operation) (*Identity, error) {
	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	identity, err := s.store.Identities().Find(ctx, sess.IdentityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if err := s.sessions.Refresh(ctx, token); err != nil {
		return nil, err
	}
	if !s.policy.Check(identity.Role, op) {
		s.append(ctx, audit.Event{
			Kind: audit.KindAccessDenied, Outcome: audit.OutcomeDenied,
			IdentityID: identity.ID, RemoteAddr: sess.RemoteAddr,
			Detail: string(op),
		})
		return nil, ErrPermissionDenied
	}
	return identity, nil
}

// RotatePassword is the self-service rotation: the caller proves current
// credential ownership by supplying the old password. All existing
// sessions of the identity become invalid immediately.
func (s *Service) RotatePassword(ctx context.Context, token, oldPassword, newPassword string) error {
	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return err
	}
	ok, err := s.creds.Verify(ctx, sess.IdentityID, oldPassword)
	if err != nil {
		return err
	}
	if !ok {
		s.append(ctx, audit.Event{
			Kind: audit.KindPasswordRotated, Outcome: audit.OutcomeFailure,
			IdentityID: sess.IdentityID, RemoteAddr: sess.RemoteAddr,
			Detail: "current password mismatch",
		})
		return ErrInvalidCredentials
	}
	if err := s.creds.Rotate(ctx, sess.IdentityID, newPassword); err != nil {
		return err
	}
	if err := s.sessions.RevokeAll(ctx, sess.IdentityID); err != nil {
		return err
	}
	s.append(ctx, audit.Event{
		Kind: audit.KindSessionRevoked, Outcome: audit.OutcomeSuccess,
		IdentityID: sess.IdentityID, RemoteAddr: sess.RemoteAddr,
		Detail: "all sessions (password rotation)",
	})
	s.append(ctx, audit.Event{
		Kind: audit.KindPasswordRotated, Outcome: audit.OutcomeSuccess,
		IdentityID: sess.IdentityID, RemoteAddr: sess.RemoteAddr,
	})
	return nil
}

// ResetPassword is the administrative reset: the caller must hold the
// reset capability. The target's sessions are all revoked and the lockout
// counter cleared, so a locked-out member can sign back in at the desk.
func (s *Service) ResetPassword(ctx context.Context, token, targetEmail, newPassword string) error {
	admin, err := s.Authorize(ctx, token, OpResetPasswords)
	if err != nil {
		return err
	}
	target, err := s.store.Identities().FindByEmail(ctx, targetEmail)
	if err != nil {
		return err
	}
	if err := s.creds.Rotate(ctx, target.ID, newPassword); err != nil {
		return err
	}
	if err := s.sessions.RevokeAll(ctx, target.ID); err != nil {
		return err
	}
	s.append(ctx, audit.Event{
		Kind: audit.KindSessionRevoked, Outcome: audit.OutcomeSuccess,
		IdentityID: target.ID,
		Detail:     "all sessions (password reset)",
	})
	if s.lockouts.Reset(ctx, target.ID) {
		s.append(ctx, audit.Event{
			Kind: audit.KindLockoutCleared, Outcome: audit.OutcomeSuccess,
			IdentityID: target.ID,
		})
	}
	s.append(ctx, audit.Event{
		Kind: audit.KindPasswordReset, Outcome: audit.OutcomeSuccess,
		IdentityID: target.ID,
		Detail:     fmt.Sprintf("reset by %s", admin.ID),
	})
	return nil
}

// Provision creates an identity with its first credential, gated by the
// provisioning capability.
func (s *Service) Provision(ctx context.Context, token, email string, role Role, facilityID, password string) (*Identity, error) {
	admin, err := s.Authorize(ctx, token, OpProvisionUsers)
	if err != nil {
		return nil, err
	}
	identity, err := s.creds.Create(ctx, email, role, facilityID, password)
	if err != nil {
		return nil, err
	}
	s.append(ctx, audit.Event{
		Kind: audit.KindProvisioned, Outcome: audit.OutcomeSuccess,
		IdentityID: identity.ID,
		Detail:     fmt.Sprintf("role %s, by %s", role, admin.ID),
	})
	return identity, nil
}

// VerifyAuditChain re-walks the full persisted chain.
func (s *Service) VerifyAuditChain(ctx context.Context) error {
	return s.audit.Verify(ctx)
}

// append records a non-success-path event on a best-effort basis; the
// login success path calls the audit log directly because its append is
// part of the commit.
func (s *Service) append(ctx context.Context, e audit.Event) {
	if _, err := s.audit.Append(ctx, e); err != nil {
		obs.Emit(map[string]any{"level": "error", "msg": "audit append failed", "error": err.Error()})
	}
}
