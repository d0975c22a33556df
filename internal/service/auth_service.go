package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"go-session-auth/internal/authz"
	"go-session-auth/internal/cache"
	"go-session-auth/internal/event"
	"go-session-auth/internal/metrics"
	"go-session-auth/internal/model"
	"go-session-auth/internal/token"
	"go-session-auth/pkg/apierror"
)

const (
	minPasswordLength = 8
	maxPasswordBytes  = 72 // bcrypt input limit
)

// AuthService issues token pairs. Session state lives only in the token
// ledger: every successful login or refresh replaces the user's active
// tokens with the one it just issued.
type AuthService struct {
	users      UserStore
	tokens     TokenLedger
	codec      *token.Codec
	hasher     PasswordHasher
	policy     *authz.Policy
	accessTTL  time.Duration
	refreshTTL time.Duration

	bus     event.Bus
	metrics *metrics.Metrics
	revoked *cache.Revocations
	now     func() time.Time
}

func NewAuthService(
	users UserStore,
	tokens TokenLedger,
	codec *token.Codec,
	hasher PasswordHasher,
	policy *authz.Policy,
	accessTTL time.Duration,
	refreshTTL time.Duration,
) *AuthService {
	return &AuthService{
		users:      users,
		tokens:     tokens,
		codec:      codec,
		hasher:     hasher,
		policy:     policy,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (s *AuthService) WithEvents(bus event.Bus) *AuthService {
	s.bus = bus
	return s
}

func (s *AuthService) WithMetrics(m *metrics.Metrics) *AuthService {
	s.metrics = m
	return s
}

func (s *AuthService) WithRevocationCache(c *cache.Revocations) *AuthService {
	s.revoked = c
	return s
}

func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.TokenPair, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return model.TokenPair{}, err
	}
	if err := validatePassword(req.Password); err != nil {
		return model.TokenPair{}, err
	}

	roleInput := req.Role
	if strings.TrimSpace(roleInput) == "" {
		roleInput = authz.RoleUser
	}
	role, ok := s.policy.Resolve(roleInput)
	if !ok {
		return model.TokenPair{}, apierror.BadRequest("invalid role", req.Role)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.TokenPair{}, err
	}

	now := s.now().UTC()
	user, err := s.users.Create(ctx, model.User{
		ID:           uuid.NewString(),
		Firstname:    strings.TrimSpace(req.Firstname),
		Lastname:     strings.TrimSpace(req.Lastname),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return model.TokenPair{}, err
	}

	pair, err := s.signPair(user.Email)
	if err != nil {
		return model.TokenPair{}, err
	}

	if err := s.tokens.Save(ctx, s.ledgerEntry(user.ID, pair.AccessToken)); err != nil {
		return model.TokenPair{}, err
	}

	slog.Info("user registered", "user_id", user.ID, "role", user.Role)
	s.publish(ctx, event.TypeUserRegistered, user, map[string]any{"role": user.Role})
	return pair, nil
}

func (s *AuthService) Authenticate(ctx context.Context, email string, password string) (model.TokenPair, error) {
	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, model.ErrUserNotFound) {
		s.loginFailed(ctx, email, "unknown_user")
		return model.TokenPair{}, model.ErrInvalidCredentials
	}
	if err != nil {
		s.metrics.Login("error")
		return model.TokenPair{}, err
	}

	if !s.hasher.Matches(password, user.PasswordHash) {
		s.loginFailed(ctx, user.Email, "bad_password")
		return model.TokenPair{}, model.ErrInvalidCredentials
	}

	pair, err := s.signPair(user.Email)
	if err != nil {
		s.metrics.Login("error")
		return model.TokenPair{}, err
	}

	revoked, err := s.tokens.Rotate(ctx, user.ID, s.ledgerEntry(user.ID, pair.AccessToken))
	if err != nil {
		s.metrics.Login("error")
		return model.TokenPair{}, err
	}
	s.afterRevoke("login", revoked)

	s.metrics.Login("success")
	s.publish(ctx, event.TypeUserAuthenticated, user, map[string]any{"revoked": len(revoked)})
	return pair, nil
}

// Refresh mints a new access token from the bearer token in header and
// returns it with the presented token as the refresh token. Every reason it
// cannot do so yields ErrRefreshDeclined; only store failures surface as
// other errors.
func (s *AuthService) Refresh(ctx context.Context, header string) (model.TokenPair, error) {
	refreshToken, ok := token.FromHeader(header)
	if !ok {
		return model.TokenPair{}, model.ErrRefreshDeclined
	}

	subject, err := s.codec.ExtractSubject(refreshToken)
	if err != nil {
		return model.TokenPair{}, model.ErrRefreshDeclined
	}

	user, err := s.users.FindByEmail(ctx, subject)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.TokenPair{}, model.ErrRefreshDeclined
	}
	if err != nil {
		return model.TokenPair{}, err
	}

	if !s.codec.IsValid(refreshToken, user.Email) {
		return model.TokenPair{}, model.ErrRefreshDeclined
	}

	accessToken, err := s.codec.Sign(user.Email, nil, s.accessTTL)
	if err != nil {
		return model.TokenPair{}, err
	}
	s.metrics.TokenIssued("access")

	revoked, err := s.tokens.Rotate(ctx, user.ID, s.ledgerEntry(user.ID, accessToken))
	if errors.Is(err, model.ErrUserNotFound) {
		return model.TokenPair{}, model.ErrRefreshDeclined
	}
	if err != nil {
		return model.TokenPair{}, err
	}
	s.afterRevoke("refresh", revoked)

	s.publish(ctx, event.TypeTokenRefreshed, user, map[string]any{"revoked": len(revoked)})
	return model.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// ChangePassword replaces the password of the principal. Issued tokens
// stay valid.
func (s *AuthService) ChangePassword(ctx context.Context, principal model.Principal, req model.ChangePasswordRequest) error {
	user, err := s.users.FindByID(ctx, principal.UserID)
	if err != nil {
		return err
	}

	if !s.hasher.Matches(req.CurrentPassword, user.PasswordHash) {
		return model.ErrInvalidPassword
	}
	if req.NewPassword != req.ConfirmationPassword {
		return model.ErrPasswordMismatch
	}
	if err := validatePassword(req.NewPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	s.publish(ctx, event.TypePasswordChanged, user, nil)
	return nil
}

func (s *AuthService) CurrentUser(ctx context.Context, principal model.Principal) (model.AuthUser, error) {
	user, err := s.users.FindByID(ctx, principal.UserID)
	if err != nil {
		return model.AuthUser{}, err
	}

	out := user.Public()
	out.Authorities = s.policy.Authorities(user.Role)
	return out, nil
}

func (s *AuthService) signPair(subject string) (model.TokenPair, error) {
	access, err := s.codec.Sign(subject, nil, s.accessTTL)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.codec.Sign(subject, nil, s.refreshTTL)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	s.metrics.TokenIssued("access")
	s.metrics.TokenIssued("refresh")
	return model.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AuthService) ledgerEntry(userID string, value string) model.Token {
	now := s.now().UTC()
	return model.Token{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Value:     value,
		UserID:    userID,
		Type:      model.TokenTypeBearer,
		CreatedAt: now,
	}
}

func (s *AuthService) afterRevoke(reason string, revoked []string) {
	if len(revoked) == 0 {
		return
	}
	s.revoked.MarkRevoked(revoked...)
	s.metrics.TokensRevoked(reason, len(revoked))
}

func (s *AuthService) loginFailed(ctx context.Context, email string, reason string) {
	s.metrics.Login("invalid_credentials")
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, event.Event{
		Type:       event.TypeLoginFailed,
		ActorEmail: strings.TrimSpace(email),
		IP:         clientIP(ctx),
		Payload:    map[string]any{"reason": reason},
	})
}

func (s *AuthService) publish(ctx context.Context, t event.Type, user model.User, payload map[string]any) {
	if s.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["role"] = user.Role

	s.bus.Publish(ctx, event.Event{
		Type:       t,
		ActorID:    user.ID,
		ActorEmail: user.Email,
		IP:         clientIP(ctx),
		Payload:    payload,
	})
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apierror.BadRequest("email is required", "")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apierror.BadRequest("email is invalid", raw)
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apierror.BadRequest("password is too short", fmt.Sprintf("minimum %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return apierror.BadRequest("password is too long", fmt.Sprintf("maximum %d bytes", maxPasswordBytes))
	}
	return nil
}
