package service

import (
	"context"
	"errors"
	"log/slog"

	"go-session-auth/internal/cache"
	"go-session-auth/internal/event"
	"go-session-auth/internal/metrics"
	"go-session-auth/internal/model"
	"go-session-auth/internal/token"
)

type LogoutService struct {
	tokens  TokenLedger
	users   UserStore
	bus     event.Bus
	metrics *metrics.Metrics
	revoked *cache.Revocations
}

func NewLogoutService(tokens TokenLedger, users UserStore) *LogoutService {
	return &LogoutService{tokens: tokens, users: users}
}

func (s *LogoutService) WithEvents(bus event.Bus) *LogoutService {
	s.bus = bus
	return s
}

func (s *LogoutService) WithMetrics(m *metrics.Metrics) *LogoutService {
	s.metrics = m
	return s
}

func (s *LogoutService) WithRevocationCache(c *cache.Revocations) *LogoutService {
	s.revoked = c
	return s
}

// Logout revokes the bearer token in header. A missing header or a token
// the ledger does not know is not an error.
func (s *LogoutService) Logout(ctx context.Context, header string) error {
	value, ok := token.FromHeader(header)
	if !ok {
		return nil
	}

	stored, err := s.tokens.FindByToken(ctx, value)
	if errors.Is(err, model.ErrTokenNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	found, err := s.tokens.Revoke(ctx, value)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	s.revoked.MarkRevoked(value)
	if stored.Active() {
		s.metrics.TokensRevoked("logout", 1)
	}

	s.publish(ctx, stored)
	return nil
}

// publish emits logged_out with the owner's email and role. A failed user
// lookup still emits the event, keyed by user ID only.
func (s *LogoutService) publish(ctx context.Context, stored model.Token) {
	if s.bus == nil {
		return
	}

	e := event.Event{
		Type:    event.TypeLoggedOut,
		ActorID: stored.UserID,
		IP:      clientIP(ctx),
		Payload: map[string]any{"was_active": stored.Active()},
	}
	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		slog.Warn("logout event without user details", "user_id", stored.UserID, "error", err)
	} else {
		e.ActorEmail = user.Email
		e.Payload["role"] = user.Role
	}
	s.bus.Publish(ctx, e)
}
