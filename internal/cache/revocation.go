// Package cache remembers access tokens already known to be revoked so the
// request authenticator can reject them without a ledger round trip.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Revocations only ever records the revoked answer. Ledger flags never go
// back to false, so an entry cannot become wrong; it only ages out.
type Revocations struct {
	c *gocache.Cache
}

// NewRevocations keeps entries for ttl, which should be at least the access
// token lifetime. A ttl <= 0 keeps entries until the process exits.
func NewRevocations(ttl time.Duration) *Revocations {
	cleanup := time.Minute
	if ttl <= 0 {
		ttl = gocache.NoExpiration
		cleanup = 0
	}
	return &Revocations{c: gocache.New(ttl, cleanup)}
}

func key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (r *Revocations) MarkRevoked(tokens ...string) {
	if r == nil {
		return
	}
	for _, t := range tokens {
		if t == "" {
			continue
		}
		r.c.SetDefault(key(t), struct{}{})
	}
}

func (r *Revocations) IsRevoked(token string) bool {
	if r == nil || token == "" {
		return false
	}
	_, found := r.c.Get(key(token))
	return found
}

func (r *Revocations) Len() int {
	if r == nil {
		return 0
	}
	return r.c.ItemCount()
}
