// Package token signs and verifies HS256 bearer tokens. It never touches a
// store, so it cannot tell a revoked token from a live one.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMalformed        = errors.New("token: malformed")
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrExpired          = errors.New("token: expired")
	ErrEncoding         = errors.New("token: encoding failed")
)

// MinKeyBytes is the smallest HMAC key accepted for HS256.
const MinKeyBytes = 32

var reservedClaims = map[string]struct{}{
	"sub": {},
	"iat": {},
	"exp": {},
	"jti": {},
}

type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
	Extra     map[string]any
}

type Codec struct {
	key []byte
	now func() time.Time
}

func NewCodec(key []byte) (*Codec, error) {
	if len(key) < MinKeyBytes {
		return nil, fmt.Errorf("%w: signing key must be at least %d bytes, got %d", ErrEncoding, MinKeyBytes, len(key))
	}

	owned := make([]byte, len(key))
	copy(owned, key)

	return &Codec{key: owned, now: time.Now}, nil
}

// DecodeKey turns the base64 secret from configuration into key bytes.
func DecodeKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: secret is not valid base64: %v", ErrEncoding, err)
	}
	return key, nil
}

// WithClock returns a copy of the codec that reads time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	return &Codec{key: c.key, now: now}
}

// Sign embeds subject, iat, exp and a random jti on top of extra. Reserved
// claims in extra are ignored.
func (c *Codec) Sign(subject string, extra map[string]any, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("%w: subject is required", ErrEncoding)
	}

	now := c.now().UTC()
	claims := jwt.MapClaims{}
	for k, v := range extra {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		claims[k] = v
	}
	claims["sub"] = subject
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(ttl).Unix()
	claims["jti"] = uuid.NewString()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	return signed, nil
}

// Verify checks the MAC and the expiry.
func (c *Codec) Verify(tokenString string) (Claims, error) {
	mapClaims, err := c.parse(tokenString, true)
	if err != nil {
		return Claims{}, err
	}

	return toClaims(mapClaims)
}

// ExtractSubject checks the MAC but not the expiry, so refresh can read the
// subject of a token that has already lapsed.
func (c *Codec) ExtractSubject(tokenString string) (string, error) {
	mapClaims, err := c.parse(tokenString, false)
	if err != nil {
		return "", err
	}

	subject, err := mapClaims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return "", ErrMalformed
	}

	return subject, nil
}

// IsValid reports whether the token verifies and belongs to subject.
func (c *Codec) IsValid(tokenString string, subject string) bool {
	claims, err := c.Verify(tokenString)
	if err != nil {
		return false
	}
	return claims.Subject == subject
}

func (c *Codec) parse(tokenString string, validateClaims bool) (jwt.MapClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if !validateClaims {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	}, opts...)
	if err != nil {
		return nil, classify(err)
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	default:
		return ErrMalformed
	}
}

func toClaims(mapClaims jwt.MapClaims) (Claims, error) {
	subject, err := mapClaims.GetSubject()
	if err != nil || subject == "" {
		return Claims{}, ErrMalformed
	}

	out := Claims{Subject: subject, Extra: map[string]any{}}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time.UTC()
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time.UTC()
	}
	out.ID, _ = mapClaims["jti"].(string)

	for k, v := range mapClaims {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		out.Extra[k] = v
	}

	return out, nil
}
