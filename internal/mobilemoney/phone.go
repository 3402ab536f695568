package mobilemoney

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("mobilemoney: invalid phone number")

// NormalizePhone accepts "+CC…", "CC…" or "0…" followed by 8 or 9 significant
// digits, ignoring spaces and dashes, and returns the "+CC…" form.
func NormalizePhone(raw, countryCode string) (string, error) {
	s := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
	var national string
	switch {
	case strings.HasPrefix(s, "+"+countryCode):
		national = s[len(countryCode)+1:]
	case strings.HasPrefix(s, "00"+countryCode):
		national = s[len(countryCode)+2:]
	case strings.HasPrefix(s, "0"):
		national = s[1:]
	case strings.HasPrefix(s, countryCode):
		national = s[len(countryCode):]
	default:
		return "", ErrInvalidPhone
	}
	if n := len(national); n < 8 || n > 9 || !digits(national) {
		return "", ErrInvalidPhone
	}
	return "+" + countryCode + national, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
