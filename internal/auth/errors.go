package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong password.
	// The two cases are deliberately indistinguishable to callers.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	ErrIdentityExists = errors.New("auth: identity already exists")
	ErrNotFound       = errors.New("auth: not found")
	ErrInvalidInput   = errors.New("auth: invalid input")

	ErrSessionExpired  = errors.New("auth: session expired")
	ErrSessionRevoked  = errors.New("auth: session revoked")
	ErrSessionNotFound = errors.New("auth: session not found")

	ErrPermissionDenied = errors.New("auth: permission denied")

	// ErrStorageUnavailable marks backend faults. These are the only
	// exceptional outcomes; everything above is an ordinary result value.
	ErrStorageUnavailable = errors.New("auth: storage unavailable")
)

// AccountLockedError reports an active lockout with a retry-after hint.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("auth: account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// IsUnauthenticated reports whether err belongs to the family of session
// failures that callers must surface as a single generic outcome.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionRevoked) ||
		errors.Is(err, ErrSessionNotFound)
}
