package domain

import (
	"regexp"
	"strings"
)

// NormalizedPhone is a canonical 11-digit domestic mobile number, e.g. "01049148478".
// Two recipients are the same person iff their normalized phones are equal.
type NormalizedPhone string

var mobilePattern = regexp.MustCompile(`^010\d{8}$`)

// NormalizePhone canonicalizes raw input. Separators and a leading country
// code are stripped and 10-digit legacy numbers are brought to 11 digits.
// ok is false when the result is not a mobile number; that is never an error.
func NormalizePhone(raw string) (NormalizedPhone, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if strings.HasPrefix(digits, "82") {
		digits = digits[2:]
		if !strings.HasPrefix(digits, "0") {
			digits = "0" + digits
		}
	}

	if len(digits) == 10 {
		switch {
		case strings.HasPrefix(digits, "10"):
			digits = "0" + digits
		case strings.HasPrefix(digits, "01"):
			digits = "010" + digits[2:]
		}
	}

	if !mobilePattern.MatchString(digits) {
		return "", false
	}
	return NormalizedPhone(digits), true
}

// Display renders the number as 010-1234-5678.
func (p NormalizedPhone) Display() string {
	s := string(p)
	if len(s) != 11 {
		return s
	}
	return s[:3] + "-" + s[3:7] + "-" + s[7:]
}

func (p NormalizedPhone) String() string { return string(p) }

// PhoneSet is a set of normalized phones with exact-match membership.
type PhoneSet map[NormalizedPhone]struct{}

func NewPhoneSet(phones ...NormalizedPhone) PhoneSet {
	s := make(PhoneSet, len(phones))
	for _, p := range phones {
		s.Add(p)
	}
	return s
}

func (s PhoneSet) Add(p NormalizedPhone) { s[p] = struct{}{} }

func (s PhoneSet) Has(p NormalizedPhone) bool {
	_, ok := s[p]
	return ok
}

func (s PhoneSet) Len() int { return len(s) }

// NormalizeAll normalizes raw numbers, dropping the ones that cannot be normalized.
// Exclusion producers use it at their boundary.
func NormalizeAll(raw []string) []NormalizedPhone {
	out := make([]NormalizedPhone, 0, len(raw))
	for _, r := range raw {
		if p, ok := NormalizePhone(r); ok {
			out = append(out, p)
		}
	}
	return out
}
