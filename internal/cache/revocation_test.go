package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarkAndCheck(t *testing.T) {
	r := NewRevocations(time.Hour)

	assert.False(t, r.IsRevoked("a"))
	r.MarkRevoked("a", "", "b")

	assert.True(t, r.IsRevoked("a"))
	assert.True(t, r.IsRevoked("b"))
	assert.False(t, r.IsRevoked("c"))
	assert.Equal(t, 2, r.Len())
}

func TestEntriesAgeOut(t *testing.T) {
	r := NewRevocations(20 * time.Millisecond)
	r.MarkRevoked("a")
	assert.True(t, r.IsRevoked("a"))

	assert.Eventually(t, func() bool { return !r.IsRevoked("a") }, time.Second, 10*time.Millisecond)
}

func TestNilCacheIsAMiss(t *testing.T) {
	var r *Revocations
	r.MarkRevoked("a")
	assert.False(t, r.IsRevoked("a"))
	assert.Zero(t, r.Len())
}
