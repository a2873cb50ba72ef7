package middleware

import (
	"errors"
	"net/mail"
	"strings"
)

// MaxEmailLength is the width of the users.email and request_logs.user_email
// columns.
const MaxEmailLength = 120

// Validation errors.
var (
	ErrEmailRequired = errors.New("email is required")
	ErrEmailTooLong  = errors.New("email exceeds maximum length")
	ErrEmailInvalid  = errors.New("email is not a valid address")
)

// NormalizeEmail trims surrounding whitespace and lowercases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks a normalized registration email. Display names and
// angle-bracket forms are rejected; only a bare addr-spec is accepted.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrEmailRequired
	}

	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return ErrEmailInvalid
	}

	at := strings.LastIndexByte(email, '@')
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return ErrEmailInvalid
	}

	return nil
}
