package mpesa

import (
	"errors"
	"strings"
)

// ErrInvalidPhoneFormat is returned when a phone number cannot be rewritten
// into the canonical 254XXXXXXXXX form.
var ErrInvalidPhoneFormat = errors.New("invalid phone number format")

// NormalizePhone rewrites a free-form, user-entered phone number into the
// canonical 12-digit subscriber form expected by the gateway (country prefix
// 254 followed by 9 digits). All non-digit characters are stripped first, so
// inputs like "+254 712-345-678" are accepted.
func NormalizePhone(input string) (string, error) {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		digits = "254" + digits[1:]
	case strings.HasPrefix(digits, "254") && len(digits) == 12:
		// Already canonical.
	case len(digits) == 9:
		digits = "254" + digits
	default:
		return "", ErrInvalidPhoneFormat
	}

	if len(digits) != 12 || !strings.HasPrefix(digits, "254") {
		return "", ErrInvalidPhoneFormat
	}
	return digits, nil
}
