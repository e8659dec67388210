package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Credentials owns the identity → hash-material mapping and its rotation.
// It never reports why a verification failed; distinguishing unknown
// identity from wrong password at the user-visible boundary is the
// Service's responsibility.
type Credentials struct {
	store  Store
	hasher *Hasher
	policy PasswordPolicy
	now    func() time.Time
}

func NewCredentials(store Store, hasher *Hasher, policy PasswordPolicy) *Credentials {
	return &Credentials{store: store, hasher: hasher, policy: policy, now: time.Now}
}

// Create provisions an identity and its first credential. Fails with
// ErrIdentityExists if the email is already taken.
func (c *Credentials) Create(ctx context.Context, email string, role Role, facilityID, plaintext string) (*Identity, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.Join(ErrInvalidInput, errors.New("valid email is required"))
	}
	if !role.Valid() {
		return nil, errors.Join(ErrInvalidInput, errors.New("unknown role"))
	}
	if errs := c.policy.Validate(plaintext); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	identity := &Identity{
		ID:         uuid.NewString(),
		Email:      email,
		Role:       role,
		FacilityID: facilityID,
		CreatedAt:  c.now().UTC(),
	}
	if err := c.store.Identities().Create(ctx, identity); err != nil {
		return nil, err
	}
	cred, err := c.derive(identity.ID, plaintext)
	if err != nil {
		return nil, err
	}
	if err := c.store.Credentials().Create(ctx, cred); err != nil {
		return nil, err
	}
	return identity, nil
}

// Verify replays the stored parameters against plaintext. Wrong passwords
// are an ordinary false, never an error; only storage faults surface.
func (c *Credentials) Verify(ctx context.Context, identityID, plaintext string) (bool, error) {
	cred, err := c.store.Credentials().Find(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn the same cost as a real check so a missing credential
			// row is not observable from the outside.
			c.hasher.DecoyVerify(plaintext)
			return false, nil
		}
		return false, err
	}
	return c.hasher.Verify(plaintext, cred.Salt, cred.Iterations, cred.Digest), nil
}

// Rotate replaces the hash material with a fresh salt and the current
// default iteration count. The old digest is discarded, not retained.
// Proof of ownership (or an elevated reset capability) is the caller's
// responsibility.
func (c *Credentials) Rotate(ctx context.Context, identityID, newPlaintext string) error {
	if errs := c.policy.Validate(newPlaintext); len(errs) > 0 {
		return errors.Join(errs...)
	}
	cred, err := c.derive(identityID, newPlaintext)
	if err != nil {
		return err
	}
	return c.store.Credentials().Replace(ctx, cred)
}

func (c *Credentials) derive(identityID, plaintext string) (*Credential, error) {
	salt, err := c.hasher.NewSalt()
	if err != nil {
		return nil, err
	}
	return &Credential{
		IdentityID: identityID,
		Digest:     c.hasher.Hash(plaintext, salt, c.hasher.Iterations()),
		Salt:       salt,
		Iterations: c.hasher.Iterations(),
		RotatedAt:  c.now().UTC(),
	}, nil
}
