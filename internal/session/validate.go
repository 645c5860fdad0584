package session

import (
	"errors"
	"unicode/utf8"

	"github.com/dgellow/orgctl/internal/emailutil"
)

// MinPasswordLength is the shortest password the sign-up form accepts.
const MinPasswordLength = 6

var (
	ErrEmailRequired    = errors.New("email is required")
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// PendingConfirmationMessage is shown when sign-up succeeded but the account
// must be confirmed by email first.
const PendingConfirmationMessage = "Account created! Please check your email to confirm, then sign in."

// ValidateSignUp applies the sign-up form's rules before the provider is
// called. The store itself does not enforce them.
func ValidateSignUp(email, password, confirm string) error {
	if emailutil.Clean(email) == "" {
		return ErrEmailRequired
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	return nil
}
