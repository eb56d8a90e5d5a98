// Package phone canonicalizes phone numbers into E.164 form and derives
// the digests used as privacy-preserving contact keys. Raw numbers never
// leave this package once digested.
package phone

import (
	"strings"

	apperrors "github.com/wirebird/contactsync/internal/platform/errors"
)

// maxDigits is the E.164 ceiling of fifteen digits including country code.
const maxDigits = 15

// Canonicalize normalizes a raw phone number into E.164 form. Formatting
// characters are stripped, a leading plus is preserved, and bare ten-digit
// national numbers receive the +1 country code so that the common North
// American formats of the same number converge on one canonical entry.
func Canonicalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", apperrors.New(apperrors.CodeInvalidFormat, "phone number is empty")
	}

	hasPlus := strings.HasPrefix(trimmed, "+")

	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	number := digits.String()

	if !hasPlus && len(number) == 10 && number[0] >= '2' && number[0] <= '9' {
		number = "1" + number
	}

	if len(number) < 2 || len(number) > maxDigits {
		return "", apperrors.WithMetadata(apperrors.CodeInvalidFormat, "phone number has invalid length", map[string]string{
			"raw": raw,
		})
	}
	if number[0] == '0' {
		return "", apperrors.WithMetadata(apperrors.CodeInvalidFormat, "country code cannot start with zero", map[string]string{
			"raw": raw,
		})
	}

	return "+" + number, nil
}

// IsValid reports whether raw canonicalizes successfully.
func IsValid(raw string) bool {
	_, err := Canonicalize(raw)
	return err == nil
}
