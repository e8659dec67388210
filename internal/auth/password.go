package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"sportai.app/internal/obs"
)

const (
	saltLength   = 16
	digestLength = 32
)

// decoySalt feeds the dummy derivation performed for unknown identities so
// the unknown-email and wrong-password paths cost the same.
var decoySalt = []byte("sportai/auth/decoy/v1")

// Hasher derives and verifies password digests using PBKDF2-HMAC-SHA256.
// The plaintext is first keyed with the process-wide pepper (HMAC-SHA256)
// before derivation, so leaked credential rows alone are not crackable.
// Hasher holds no locks; derivations may run on any goroutine.
type Hasher struct {
	pepper     []byte
	iterations int
}

// NewHasher constructs a Hasher. iterations is the default for new
// credentials; verification always uses the per-credential count.
func NewHasher(pepper string, iterations int) (*Hasher, error) {
	if pepper == "" {
		return nil, errors.New("auth: pepper is required")
	}
	if iterations < 1 {
		return nil, errors.New("auth: iterations must be positive")
	}
	return &Hasher{pepper: []byte(pepper), iterations: iterations}, nil
}

// Iterations returns the derivation count applied to new credentials.
func (h *Hasher) Iterations() int { return h.iterations }

// NewSalt returns a fresh random per-credential salt.
func (h *Hasher) NewSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("auth: generate salt: %w", err)
	}
	return salt, nil
}

// Hash derives the digest for plaintext under the given salt and iteration
// count. Intentionally expensive.
func (h *Hasher) Hash(plaintext string, salt []byte, iterations int) []byte {
	start := time.Now()
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(plaintext))
	digest := pbkdf2.Key(mac.Sum(nil), salt, iterations, digestLength, sha256.New)
	obs.ObserveHash(time.Since(start))
	return digest
}

// Verify reports whether plaintext reproduces expected under salt and
// iterations. Constant time with respect to the outcome.
func (h *Hasher) Verify(plaintext string, salt []byte, iterations int, expected []byte) bool {
	digest := h.Hash(plaintext, salt, iterations)
	return subtle.ConstantTimeCompare(digest, expected) == 1
}

// DecoyVerify burns the same CPU as a real verification and always fails.
// Called on the unknown-identity login path to deny a timing oracle.
func (h *Hasher) DecoyVerify(plaintext string) {
	digest := h.Hash(plaintext, decoySalt, h.iterations)
	subtle.ConstantTimeCompare(digest, make([]byte, digestLength))
}
