package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"sportai.app/internal/audit"
)

type serviceFixture struct {
	svc      *Service
	store    *MemoryStore
	auditLog *audit.MemoryStore
	now      time.Time
}

func (f *serviceFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *serviceFixture) events(t *testing.T) []audit.Event {
	t.Helper()
	events, err := f.auditLog.List(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("audit List: %v", err)
	}
	return events
}

func (f *serviceFixture) lastEvent(t *testing.T, kind audit.Kind) *audit.Event {
	t.Helper()
	events := f.events(t)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == kind {
			return &events[i]
		}
	}
	return nil
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:    NewMemoryStore(),
		auditLog: audit.NewMemoryStore(),
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = newServiceWithAudit(t, f, f.auditLog)
	return f
}

func newServiceWithAudit(t *testing.T, f *serviceFixture, store audit.Store) *Service {
	t.Helper()
	log, err := audit.NewLog(context.Background(), store)
	if err != nil {
		t.Fatalf("audit.NewLog: %v", err)
	}
	hasher, err := NewHasher("test-pepper", 1000)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	policy := PasswordPolicy{MinLength: 8}
	creds := NewCredentials(f.store, hasher, policy)
	tracker := NewTracker(f.store.Lockouts(), 5, 900*time.Second)
	sessions := NewManager(f.store.Sessions(), 24*time.Hour, time.Hour)
	svc, err := NewService(f.store, creds, tracker, sessions, NewPolicy(), hasher, log,
		WithClock(func() time.Time { return f.now }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func (f *serviceFixture) mustCreate(t *testing.T, email string, role Role, password string) *Identity {
	t.Helper()
	identity, err := f.svc.creds.Create(context.Background(), email, role, "fac-1", password)
	if err != nil {
		t.Fatalf("create %s: %v", email, err)
	}
	return identity
}

func TestLoginSuccess(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.mustCreate(t, "alex@club.test", RoleStaff, "swim-lane-4")

	res, err := f.svc.Login(ctx, "Alex@Club.Test", "swim-lane-4", "198.51.100.9")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token == "" {
		t.Fatal("login returned an empty token")
	}

	identity, err := f.svc.Authorize(ctx, res.Token, OpRead)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if identity.Email != "alex@club.test" {
		t.Fatalf("authorized as %q", identity.Email)
	}

	if e := f.lastEvent(t, audit.KindLoginSucceeded); e == nil || e.IdentityID != identity.ID {
		t.Fatalf("missing login.succeeded audit entry: %+v", e)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.mustCreate(t, "alex@club.test", RoleUser, "swim-lane-4")

	_, unknownErr := f.svc.Login(ctx, "nobody@club.test", "whatever1", "")
	_, wrongErr := f.svc.Login(ctx, "alex@club.test", "wrong-pass", "")

	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v", unknownErr)
	}
	if !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v", wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("error messages differ: %q vs %q", unknownErr, wrongErr)
	}
}

func TestLoginEmptyInputRejected(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	if _, err := f.svc.Login(ctx, "", "pw", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty email: got %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@b.test", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty password: got %v", err)
	}
}

func TestLockoutLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	identity := f.mustCreate(t, "alex@club.test", RoleUser, "swim-lane-4")

	for i := 0; i < 5; i++ {
		if _, err := f.svc.Login(ctx, "alex@club.test", "bad-guess", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("failure %d: got %v", i+1, err)
		}
	}

	// The lock rejects even the correct password.
	_, err := f.svc.Login(ctx, "alex@club.test", "swim-lane-4", "")
	var locked *AccountLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected AccountLockedError, got %v", err)
	}
	if want := f.now.Add(900 * time.Second); !locked.Until.Equal(want) {
		t.Fatalf("lock deadline %v, want %v", locked.Until, want)
	}

	if e := f.lastEvent(t, audit.KindLockoutStarted); e == nil || e.IdentityID != identity.ID {
		t.Fatalf("missing lockout.started audit entry: %+v", e)
	}

	// Still locked one second before the deadline.
	f.advance(899 * time.Second)
	if _, err := f.svc.Login(ctx, "alex@club.test", "swim-lane-4", ""); !errors.As(err, &locked) {
		t.Fatalf("lock released early: %v", err)
	}

	// At the deadline the correct password succeeds with a fresh token.
	f.advance(time.Second)
	res, err := f.svc.Login(ctx, "alex@club.test", "swim-lane-4", "")
	if err != nil {
		t.Fatalf("post-lock login: %v", err)
	}
	if _, err := f.svc.Authorize(ctx, res.Token, OpRead); err != nil {
		t.Fatalf("post-lock token rejected: %v", err)
	}

	// The counter was cleared by the successful login.
	if _, err := f.svc.Login(ctx, "alex@club.test", "bad-guess", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v", err)
	}
	if locked, _ := f.svc.lockouts.Locked(ctx, identity.ID); locked {
		t.Fatal("single failure after unlock re-locked the identity")
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.mustCreate(t, "alex@club.test", RoleUser, "swim-lane-4")

	res, err := f.svc.Login(ctx, "alex@club.test", "swim-lane-4", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.svc.Logout(ctx, res.Token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.Authorize(ctx, res.Token, OpRead); !IsUnauthenticated(err) {
		t.Fatalf("revoked token still authorized: %v", err)
	}
	if e := f.lastEvent(t, audit.KindLogout); e == nil {
		t.Fatal("missing logout audit entry")
	}
}

func TestAuthorizeDeniesAndAudits(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	staff := f.mustCreate(t, "staff@club.test", RoleStaff, "swim-lane-4")

	res, err := f.svc.Login(ctx, "staff@club.test", "swim-lane-4", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := f.svc.Authorize(ctx, res.Token, OpResetPasswords); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("staff reached an admin operation: %v", err)
	}

	e := f.lastEvent(t, audit.KindAccessDenied)
	if e == nil || e.IdentityID != staff.ID || e.Detail != string(OpResetPasswords) {
		t.Fatalf("access.denied entry wrong: %+v", e)
	}
}

func TestAuthorizeSlidesInactivityWindow(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.mustCreate(t, "alex@club.test", RoleUser, "swim-lane-4")

	res, _ := f.svc.Login(ctx, "alex@club.test", "swim-lane-4", "")

	// Regular activity keeps the session alive past the first idle window.
	for i := 0; i < 4; i++ {
		f.advance(45 * time.Minute)
		if _, err := f.svc.Authorize(ctx, res.Token, OpRead); err != nil {
			t.Fatalf("authorize %d: %v", i, err)
		}
	}

	// An idle gap past the window kills it.
	f.advance(time.Hour)
	if _, err := f.svc.Authorize(ctx, res.Token, OpRead); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("idle session still authorized: %v", err)
	}
}

func TestRotatePasswordInvalidatesSessions(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.mustCreate(t, "alex@club.test", RoleUser, "swim-lane-4")

	first, _ := f.svc.Login(ctx, "alex@club.test", "swim-lane-4", "")
	second, _ := f.svc.Login(ctx, "alex@club.test", "swim-lane-4", "")

	if err := f.svc.RotatePassword(ctx, first.Token, "wrong-old", "new-lane-5"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("rotation with wrong current password: %v", err)
	}
	if err := f.svc.RotatePassword(ctx, first.Token, "swim-lane-4", "new-lane-5"); err != nil {
		t.Fatalf("RotatePassword: %v", err)
	}

	for _, token := range []string{first.Token, second.Token} {
		if _, err := f.svc.Authorize(ctx, token, OpRead); !IsUnauthenticated(err) {
			t.Fatalf("session survived the rotation: %v", err)
		}
	}

	if _, err := f.svc.Login(ctx, "alex@club.test", "swim-lane-4", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, err := f.svc.Login(ctx, "alex@club.test", "new-lane-5", ""); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestResetPasswordClearsLockout(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.mustCreate(t, "admin@club.test", RoleAdmin, "front-desk-1")
	f.mustCreate(t, "alex@club.test", RoleUser, "swim-lane-4")

	// Lock the member out.
	for i := 0; i < 5; i++ {
		f.svc.Login(ctx, "alex@club.test", "bad-guess", "")
	}

	adminRes, err := f.svc.Login(ctx, "admin@club.test", "front-desk-1", "")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	if err := f.svc.ResetPassword(ctx, adminRes.Token, "alex@club.test", "fresh-pw-9"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	// The lock is gone and the new password works immediately.
	if _, err := f.svc.Login(ctx, "alex@club.test", "fresh-pw-9", ""); err != nil {
		t.Fatalf("member login after reset: %v", err)
	}
	if e := f.lastEvent(t, audit.KindPasswordReset); e == nil {
		t.Fatal("missing password.reset audit entry")
	}
}

func TestResetPasswordRequiresCapability(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.mustCreate(t, "manager@club.test", RoleManager, "front-desk-1")
	f.mustCreate(t, "alex@club.test", RoleUser, "swim-lane-4")

	res, _ := f.svc.Login(ctx, "manager@club.test", "front-desk-1", "")
	err := f.svc.ResetPassword(ctx, res.Token, "alex@club.test", "fresh-pw-9")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("manager performed an admin reset: %v", err)
	}
}

func TestProvision(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.mustCreate(t, "admin@club.test", RoleAdmin, "front-desk-1")

	adminRes, _ := f.svc.Login(ctx, "admin@club.test", "front-desk-1", "")
	identity, err := f.svc.Provision(ctx, adminRes.Token, "new@club.test", RoleStaff, "fac-2", "starter-pw-1")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if identity.Role != RoleStaff || identity.FacilityID != "fac-2" {
		t.Fatalf("unexpected identity %+v", identity)
	}

	if _, err := f.svc.Login(ctx, "new@club.test", "starter-pw-1", ""); err != nil {
		t.Fatalf("provisioned identity cannot log in: %v", err)
	}

	// Duplicate email.
	if _, err := f.svc.Provision(ctx, adminRes.Token, "new@club.test", RoleStaff, "fac-2", "starter-pw-1"); !errors.Is(err, ErrIdentityExists) {
		t.Fatalf("duplicate provision: %v", err)
	}

	// Only the provisioning capability may create identities.
	staffRes, _ := f.svc.Login(ctx, "new@club.test", "starter-pw-1", "")
	if _, err := f.svc.Provision(ctx, staffRes.Token, "x@club.test", RoleUser, "", "starter-pw-1"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("staff provisioned an identity: %v", err)
	}
}

type failingAuditStore struct {
	*audit.MemoryStore
	fail bool
}

func (s *failingAuditStore) Append(ctx context.Context, e *audit.Event) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.MemoryStore.Append(ctx, e)
}

func TestLoginFailsClosedWhenAuditAppendFails(t *testing.T) {
	ctx := context.Background()
	f := &serviceFixture{
		store:    NewMemoryStore(),
		auditLog: audit.NewMemoryStore(),
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	failing := &failingAuditStore{MemoryStore: f.auditLog}
	f.svc = newServiceWithAudit(t, f, failing)
	f.mustCreate(t, "alex@club.test", RoleUser, "swim-lane-4")

	failing.fail = true
	if _, err := f.svc.Login(ctx, "alex@club.test", "swim-lane-4", ""); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("login committed without an audit record: %v", err)
	}

	// The session issued during the failed login must not be usable. No
	// token escaped, so it is enough that no live session remains.
	f.store.sessions.mu.RLock()
	for _, sess := range f.store.sessions.byDigest {
		if !sess.Revoked {
			f.store.sessions.mu.RUnlock()
			t.Fatal("a live session survived the failed audit append")
		}
	}
	f.store.sessions.mu.RUnlock()
}

func TestVerifyAuditChainDetectsTampering(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.mustCreate(t, "alex@club.test", RoleUser, "swim-lane-4")
	f.svc.Login(ctx, "alex@club.test", "bad-guess", "")
	f.svc.Login(ctx, "alex@club.test", "swim-lane-4", "")

	if err := f.svc.VerifyAuditChain(ctx); err != nil {
		t.Fatalf("clean chain failed verification: %v", err)
	}

	f.auditLog.Tamper(1, func(e *audit.Event) { e.Detail = "nothing happened here" })
	if err := f.svc.VerifyAuditChain(ctx); !errors.Is(err, audit.ErrChainBroken) {
		t.Fatalf("tampered chain passed verification: %v", err)
	}
}

func TestAuditEntriesNeverContainSecrets(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.mustCreate(t, "alex@club.test", RoleUser, "Sup3r-Secret-PW")
	f.svc.Login(ctx, "alex@club.test", "Sup3r-Secret-PW", "")
	f.svc.Login(ctx, "alex@club.test", "Als0-Secret-Guess", "")

	for _, e := range f.events(t) {
		for _, secret := range []string{"Sup3r-Secret-PW", "Als0-Secret-Guess"} {
			if strings.Contains(e.Detail, secret) {
				t.Fatalf("seq %d leaked a plaintext password", e.Seq)
			}
		}
	}
}
