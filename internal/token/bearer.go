package token

import "strings"

const bearerPrefix = "Bearer "

// FromHeader returns the token of an "Authorization: Bearer <token>" value.
func FromHeader(header string) (string, bool) {
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(bearerPrefix):])
	if tok == "" {
		return "", false
	}
	return tok, true
}
