// Package groups resolves the tenant group of a user from their email address
package groups

import (
	"net/mail"
	"strings"
)

// normalizeEmail lower-cases a bare address and splits off its domain.
// ok is false for blank or malformed input.
func normalizeEmail(email string) (address, domain string, ok bool) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", "", false
	}

	parsed, err := mail.ParseAddress(email)
	if err != nil || parsed.Name != "" || parsed.Address != email {
		return "", "", false
	}

	address = strings.ToLower(parsed.Address)
	at := strings.LastIndexByte(address, '@')
	if at <= 0 || at == len(address)-1 {
		return "", "", false
	}
	return address, address[at+1:], true
}
