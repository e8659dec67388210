package auth

import (
	"fmt"
	"strings"
	"unicode"
)

const passwordSpecials = `!@#$%^&*(),.?":{}|<>`

// PasswordPolicy holds the composition rules supplied by the hosting
// application. The zero value accepts any non-empty password.
type PasswordPolicy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// Validate returns every rule the candidate password violates.
func (p PasswordPolicy) Validate(password string) []error {
	var errs []error
	if len(password) < p.MinLength {
		errs = append(errs, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, p.MinLength))
	}
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSpecials, r):
			hasSpecial = true
		}
	}
	if p.RequireUpper && !hasUpper {
		errs = append(errs, fmt.Errorf("%w: password must contain an uppercase letter", ErrInvalidInput))
	}
	if p.RequireLower && !hasLower {
		errs = append(errs, fmt.Errorf("%w: password must contain a lowercase letter", ErrInvalidInput))
	}
	if p.RequireDigit && !hasDigit {
		errs = append(errs, fmt.Errorf("%w: password must contain a digit", ErrInvalidInput))
	}
	if p.RequireSpecial && !hasSpecial {
		errs = append(errs, fmt.Errorf("%w: password must contain a special character", ErrInvalidInput))
	}
	return errs
}
