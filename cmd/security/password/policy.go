package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var trivialPasswords = map[string]struct{}{
	"password": {}, "password123": {}, "123456": {}, "123456789": {},
	"qwerty": {}, "qwerty123": {}, "11111111": {}, "changeme": {},
	"operator": {}, "operator123": {}, "admin123": {},
}

// Validate checks password against the policy. Lengths count runes.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case c.Policy.RejectVeryWeak && looksVeryWeak(password):
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak catches single-character repeats, short PIN-like strings and
// a small list of defaults. It is not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}

	if strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 && utf8.RuneCountInString(s) < 12 {
		return true
	}

	_, trivial := trivialPasswords[strings.ToLower(s)]
	return trivial
}
