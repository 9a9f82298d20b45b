package payment

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

// tempPassword derives the first-login password handed to a buyer whose
// account is created at confirmation: two uppercase initials followed by the
// last six digits of the tax id, else of the phone, else six random digits.
func tempPassword(name, taxID, phone string) (string, error) {
	suffix := lastDigits(taxID, 6)
	if suffix == "" {
		suffix = lastDigits(phone, 6)
	}
	if suffix == "" {
		n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
		if err != nil {
			return "", fmt.Errorf("random password suffix: %w", err)
		}
		suffix = fmt.Sprintf("%06d", n.Int64())
	}
	return initials(name) + suffix, nil
}

// initials returns the first letter of the first and last name, uppercased.
// A single name yields its first two letters; no letters yields "XX".
func initials(name string) string {
	parts := strings.Fields(name)
	var letters []rune
	switch len(parts) {
	case 0:
	case 1:
		for _, r := range parts[0] {
			if unicode.IsLetter(r) {
				letters = append(letters, r)
			}
			if len(letters) == 2 {
				break
			}
		}
	default:
		letters = append(letters, firstLetter(parts[0]), firstLetter(parts[len(parts)-1]))
	}

	out := make([]rune, 0, 2)
	for _, r := range letters {
		if r != 0 {
			out = append(out, unicode.ToUpper(r))
		}
	}
	for len(out) < 2 {
		out = append(out, 'X')
	}
	return string(out)
}

func firstLetter(s string) rune {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return r
		}
	}
	return 0
}

// lastDigits returns the last n digits of s, or "" if s has fewer than n.
func lastDigits(s string, n int) string {
	var digits []rune
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) < n {
		return ""
	}
	return string(digits[len(digits)-n:])
}

// splitName splits a full name into first name and the rest.
func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
