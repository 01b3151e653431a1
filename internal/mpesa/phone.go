package mpesa

import (
	"errors"
	"strings"
)

// ErrInvalidPhoneFormat is returned when a number cannot be mapped to 254XXXXXXXXX.
var ErrInvalidPhoneFormat = errors.New("mpesa: invalid phone number format")

// NormalizePhone converts a Kenyan MSISDN in any of the accepted shapes
// (07XXXXXXXX, 2547XXXXXXXX or the bare 9 digit subscriber number) into the
// 12 digit international form. Non-digit characters are ignored.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		return "254" + digits[1:], nil
	case len(digits) == 12 && strings.HasPrefix(digits, "254"):
		return digits, nil
	case len(digits) == 9:
		return "254" + digits, nil
	default:
		return "", ErrInvalidPhoneFormat
	}
}
