/*
Package mask provides deterministic one-way masking for sensitive customer
attributes.

Email addresses become salted SHA-256 tokens; phone numbers are redacted to
their last four digits. Both functions are pure and deterministic: the same
input with the same secret always yields the same output, which is what lets
the warehouse compare post-masking representations across runs without ever
retaining raw values.

An empty secret is rejected at construction — running with weak or absent
salting is a configuration fault, not something to degrade into.
*/
package mask

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptySecret is returned when a Masker is built without a secret.
	ErrEmptySecret = errors.New("masking secret must not be empty")

	// ErrInvalidEmail is returned for inputs that are not email addresses.
	ErrInvalidEmail = errors.New("invalid email")

	// ErrPhoneTooShort is returned when a phone has fewer than four digits.
	ErrPhoneTooShort = errors.New("phone too short")
)

// Masker masks email and phone values with a configured secret.
type Masker struct {
	secret string
}

// New creates a Masker. The secret must be non-empty.
func New(secret string) (*Masker, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Masker{secret: secret}, nil
}

// EmailToken returns the salted SHA-256 hex token for an email address.
// Input is trimmed and lowercased first so that case and padding variants
// of the same address mask to the same token.
func (m *Masker) EmailToken(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || !strings.Contains(normalized, "@") {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	sum := sha256.Sum256([]byte(m.secret + ":" + normalized))
	return hex.EncodeToString(sum[:]), nil
}

// RedactPhone reduces a phone number to XXX-XXX-NNNN, keeping only the
// last four digits. Formatting and country codes are ignored.
func (m *Masker) RedactPhone(phone string) (string, error) {
	var digits []byte
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) < 4 {
		return "", fmt.Errorf("%w: %q", ErrPhoneTooShort, phone)
	}
	return "XXX-XXX-" + string(digits[len(digits)-4:]), nil
}

// IsMasked reports whether value already looks like masked output of the
// given kind ("email" or "phone"). Used as a guard against double-masking
// and against raw values leaking into masked columns.
func IsMasked(value, kind string) bool {
	switch kind {
	case "email":
		if len(value) != sha256.Size*2 {
			return false
		}
		for i := 0; i < len(value); i++ {
			c := value[i]
			if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
				return false
			}
		}
		return true
	case "phone":
		if len(value) != 12 || !strings.HasPrefix(value, "XXX-XXX-") {
			return false
		}
		for i := 8; i < 12; i++ {
			if value[i] < '0' || value[i] > '9' {
				return false
			}
		}
		return true
	default:
		return false
	}
}
