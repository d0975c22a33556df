package service

import (
	"context"

	"go-session-auth/internal/model"
)

// UserStore is the credential store.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByID(ctx context.Context, id string) (model.User, error)
	Create(ctx context.Context, u model.User) (model.User, error)
	UpdatePassword(ctx context.Context, userID string, passwordHash string) error
}

// TokenLedger records issued access tokens and their flags.
type TokenLedger interface {
	Save(ctx context.Context, t model.Token) error
	FindByToken(ctx context.Context, value string) (model.Token, error)
	FindAllValidByUser(ctx context.Context, userID string) ([]model.Token, error)
	Revoke(ctx context.Context, value string) (bool, error)
	// Rotate atomically revokes every active token of the user, records
	// next, and returns the revoked token strings.
	Rotate(ctx context.Context, userID string, next model.Token) ([]string, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error)
}

type PasswordHasher interface {
	Hash(raw string) (string, error)
	Matches(raw string, digest string) bool
}

type clientIPKey struct{}

// WithClientIP attaches the caller address used on session events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
