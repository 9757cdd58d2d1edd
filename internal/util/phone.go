package util

import "strings"

// NormalizePhone strips everything but digits from a phone number.
func NormalizePhone(phone string) string {
	var sb strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// IsValidPhoneFormat validates the basic digit-count shape of a phone
// number: 10 to 15 digits after normalization (E.164 upper bound).
func IsValidPhoneFormat(phone string) bool {
	n := len(NormalizePhone(phone))
	return n >= 10 && n <= 15
}
