package auth

import (
	"context"
	"errors"
	"fmt"
)

// Verifier checks first-factor credentials. Every failure mode surfaces
// as ErrInvalidCredentials: unknown email, wrong password, and
// deactivated account are indistinguishable to the caller, and the
// unknown-email path burns the same KDF work as a real mismatch so
// response timing does not separate them either.
type Verifier struct {
	users UserRepository
}

// NewVerifier creates a credential verifier backed by the user repository.
func NewVerifier(users UserRepository) *Verifier {
	return &Verifier{users: users}
}

// VerifyCredentials validates an email/password pair and returns the
// matching user. The active check runs after password verification so
// a deactivated account costs the same work as a live one.
func (v *Verifier) VerifyCredentials(ctx context.Context, email, password string) (*User, error) {
	user, err := v.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			VerifyDecoy(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	match, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !match {
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}
