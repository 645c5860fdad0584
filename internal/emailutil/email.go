package emailutil

import (
	"errors"
	"net/mail"
	"strings"
)

var (
	ErrEmpty     = errors.New("email is required")
	ErrMalformed = errors.New("email address is malformed")
)

// Clean trims surrounding whitespace. The local part is left as typed; the
// auth provider owns case folding.
func Clean(email string) string {
	return strings.TrimSpace(email)
}

// Validate checks that email is a bare addr-spec (no display name).
func Validate(email string) error {
	email = Clean(email)
	if email == "" {
		return ErrEmpty
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return ErrMalformed
	}
	if Domain(email) == "" {
		return ErrMalformed
	}
	return nil
}

// Domain returns the part after the last @, lowercased.
func Domain(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[i+1:])
}
