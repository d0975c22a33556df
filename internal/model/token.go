package model

import "time"

const TokenTypeBearer = "BEARER"

// Token is a ledger row for an issued access token. Expired and Revoked only
// ever move from false to true.
type Token struct {
	ID        string    `json:"id"`
	Value     string    `json:"-"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"token_type"`
	Expired   bool      `json:"expired"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the ledger still honours the token.
func (t Token) Active() bool {
	return !t.Expired && !t.Revoked
}
