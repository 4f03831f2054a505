package session

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number, use E.164 format")

// NormalizePhone turns user input into E.164. Ten bare digits are taken as a
// North American number.
func NormalizePhone(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	d := digits.String()

	switch {
	case len(d) == 10 && !strings.HasPrefix(strings.TrimSpace(raw), "+"):
		return "+1" + d, nil
	case len(d) >= 8 && len(d) <= 15:
		return "+" + d, nil
	default:
		return "", ErrInvalidPhone
	}
}
