package auth

import (
	"fmt"
	"time"

	"github.com/willemschots/notekeeper/internal/email"
	"github.com/willemschots/notekeeper/internal/krypto"
)

// Status is the lifecycle status of an account.
type Status string

const (
	StatusPendingActivation Status = "pending_activation"
	StatusActive            Status = "active"
)

// IssuedToken is a token together with the moment it was issued.
type IssuedToken struct {
	Token    krypto.Token
	IssuedAt time.Time
}

// ValidAt reports whether the token is still valid at now.
// A token is valid for the duration of expiry after it was issued.
func (t *IssuedToken) ValidAt(now time.Time, expiry time.Duration) bool {
	if t == nil || t.Token.IsZero() {
		return false
	}

	return now.Sub(t.IssuedAt) <= expiry
}

// Account is a registered user of the app.
type Account struct {
	// ID is assigned by the store when the account is first saved.
	ID           int
	Email        email.Address
	Name         string
	PasswordHash krypto.Argon2Hash
	Status       Status

	// ActivationToken is only present while the account is pending activation.
	ActivationToken *IssuedToken
	// ResetToken is present after a password reset was requested and until it was used.
	ResetToken *IssuedToken

	// Version is incremented by the store on every save. A save only succeeds
	// if the stored version still matches.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the account was activated.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// Activate moves the account from pending to active and consumes the activation token.
// Activation happens at most once.
func (a *Account) Activate(now time.Time) error {
	if a.Status != StatusPendingActivation {
		return fmt.Errorf("can not activate account in status %q", a.Status)
	}

	a.Status = StatusActive
	a.ActivationToken = nil
	a.UpdatedAt = now
	return nil
}

// IssueResetToken sets a fresh reset token, replacing any earlier one.
func (a *Account) IssueResetToken(tok krypto.Token, now time.Time) {
	a.ResetToken = &IssuedToken{
		Token:    tok,
		IssuedAt: now,
	}
	a.UpdatedAt = now
}

// ResetPassword replaces the password hash and consumes the reset token.
func (a *Account) ResetPassword(hash krypto.Argon2Hash, now time.Time) error {
	if a.ResetToken == nil {
		return fmt.Errorf("no password reset was requested")
	}

	a.PasswordHash = hash
	a.ResetToken = nil
	a.UpdatedAt = now
	return nil
}
