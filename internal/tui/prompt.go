package tui

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/dgellow/orgctl/internal/emailutil"
	"github.com/dgellow/orgctl/internal/session"
)

// Credentials collected by the sign-in and sign-up forms.
type Credentials struct {
	Email    string
	Password string
	Confirm  string
}

func validateEmail(s string) error {
	if strings.TrimSpace(s) == "" {
		return session.ErrEmailRequired
	}
	return emailutil.Validate(s)
}

// PromptSignIn asks for email and password. A non-empty email skips the
// email field.
func PromptSignIn(email string) (Credentials, error) {
	creds := Credentials{Email: email}

	var fields []huh.Field
	if email == "" {
		fields = append(fields, huh.NewInput().
			Title("Email").
			Value(&creds.Email).
			Validate(validateEmail))
	}
	fields = append(fields, huh.NewInput().
		Title("Password").
		EchoMode(huh.EchoModePassword).
		Value(&creds.Password))

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return Credentials{}, fmt.Errorf("prompt failed: %w", err)
	}
	creds.Email = emailutil.Clean(creds.Email)
	return creds, nil
}

// PromptSignUp asks for email, password and confirmation, applying the
// sign-up rules as field validation.
func PromptSignUp(email string) (Credentials, error) {
	creds := Credentials{Email: email}

	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Email").
			Value(&creds.Email).
			Validate(validateEmail),
		huh.NewInput().
			Title("Password").
			Description(fmt.Sprintf("At least %d characters", session.MinPasswordLength)).
			EchoMode(huh.EchoModePassword).
			Value(&creds.Password),
		huh.NewInput().
			Title("Confirm password").
			EchoMode(huh.EchoModePassword).
			Value(&creds.Confirm).
			Validate(func(s string) error {
				if s != creds.Password {
					return session.ErrPasswordMismatch
				}
				return nil
			}),
	))
	if err := form.Run(); err != nil {
		return Credentials{}, fmt.Errorf("prompt failed: %w", err)
	}
	creds.Email = emailutil.Clean(creds.Email)
	if err := session.ValidateSignUp(creds.Email, creds.Password, creds.Confirm); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// PromptConfirm displays a yes/no confirmation prompt.
func PromptConfirm(message string) (bool, error) {
	var confirmed bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(message).
			Value(&confirmed),
	))
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("prompt failed: %w", err)
	}
	return confirmed, nil
}

// IsInteractive returns true if stdin is a terminal (not piped)
func IsInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// ShouldPrompt returns false in CI or when stdin is not a terminal.
func ShouldPrompt() bool {
	for _, envVar := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "BUILDKITE"} {
		if os.Getenv(envVar) != "" {
			return false
		}
	}
	return IsInteractive()
}
