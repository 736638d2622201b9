package faxing

import (
	"strings"
	"unicode"
)

// ValidNPI checks the NPI check digit: Luhn over the number prefixed with
// the 80840 card issuer identifier.
func ValidNPI(npi string) bool {
	if len(npi) != 10 {
		return false
	}
	digits := "80840" + npi
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// NormalizeFaxNumber reduces a North American fax number to its ten digits.
// Separators are ignored and a leading country code 1 is dropped. It returns
// false for anything else.
func NormalizeFaxNumber(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.' || r == '+':
		default:
			return "", false
		}
	}
	d := b.String()
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) != 10 || d[0] == '0' || d[0] == '1' {
		return "", false
	}
	return d, true
}
