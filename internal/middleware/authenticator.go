package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"go-session-auth/internal/authz"
	"go-session-auth/internal/cache"
	"go-session-auth/internal/metrics"
	"go-session-auth/internal/model"
	"go-session-auth/internal/token"
)

// AuthPathPrefix is served without looking at credentials.
const AuthPathPrefix = "/api/v1/auth"

type userLoader interface {
	FindByEmail(ctx context.Context, email string) (model.User, error)
}

type tokenLookup interface {
	FindByToken(ctx context.Context, value string) (model.Token, error)
}

type contextKey string

const principalContextKey contextKey = "principal"

// Authenticator resolves the bearer token of a request into a principal.
// It never rejects a request itself: a request it cannot authenticate
// continues without a principal and the route gates decide.
type Authenticator struct {
	codec   *token.Codec
	users   userLoader
	tokens  tokenLookup
	policy  *authz.Policy
	revoked *cache.Revocations
	metrics *metrics.Metrics
}

func NewAuthenticator(codec *token.Codec, users userLoader, tokens tokenLookup, policy *authz.Policy) *Authenticator {
	return &Authenticator{codec: codec, users: users, tokens: tokens, policy: policy}
}

func (a *Authenticator) WithRevocationCache(c *cache.Revocations) *Authenticator {
	a.revoked = c
	return a
}

func (a *Authenticator) WithMetrics(m *metrics.Metrics) *Authenticator {
	a.metrics = m
	return a
}

func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAuthPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := token.FromHeader(r.Header.Get("Authorization"))
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		if _, already := PrincipalFromContext(r.Context()); already {
			next.ServeHTTP(w, r)
			return
		}

		principal, outcome, err := a.authenticate(r.Context(), raw)
		if err != nil {
			slog.Error("authenticate request", "error", err, "path", r.URL.Path)
			writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected server error")
			return
		}
		a.metrics.Decision(outcome)

		if principal == nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), *principal)))
	})
}

// authenticate returns a nil principal with the reason when the token does
// not establish one. Only store failures are errors.
func (a *Authenticator) authenticate(ctx context.Context, raw string) (*model.Principal, string, error) {
	subject, err := a.codec.ExtractSubject(raw)
	if err != nil {
		return nil, "invalid_token", nil
	}

	if a.revoked.IsRevoked(raw) {
		return nil, "revoked", nil
	}

	user, err := a.users.FindByEmail(ctx, subject)
	if errors.Is(err, model.ErrUserNotFound) {
		return nil, "unknown_user", nil
	}
	if err != nil {
		return nil, "", err
	}

	stored, err := a.tokens.FindByToken(ctx, raw)
	if errors.Is(err, model.ErrTokenNotFound) {
		return nil, "not_in_ledger", nil
	}
	if err != nil {
		return nil, "", err
	}
	if !stored.Active() {
		a.revoked.MarkRevoked(raw)
		return nil, "revoked", nil
	}

	if !a.codec.IsValid(raw, user.Email) {
		return nil, "invalid_token", nil
	}

	return &model.Principal{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		Authorities: a.policy.Authorities(user.Role),
		Token:       raw,
	}, "authenticated", nil
}

func isAuthPath(path string) bool {
	return path == AuthPathPrefix || strings.HasPrefix(path, AuthPathPrefix+"/")
}

func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(model.Principal)
	return p, ok
}

// RequireAuth rejects requests without a principal with 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRoles admits a principal holding any of roles.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return requirePrincipal(func(p model.Principal) bool {
		for _, role := range roles {
			if p.HasRole(strings.ToUpper(strings.TrimSpace(role))) {
				return true
			}
		}
		return false
	})
}

// RequireAuthorities admits a principal holding any of authorities.
func RequireAuthorities(authorities ...string) func(http.Handler) http.Handler {
	return requirePrincipal(func(p model.Principal) bool {
		for _, authority := range authorities {
			if p.HasAuthority(authority) {
				return true
			}
		}
		return false
	})
}

func requirePrincipal(allowed func(model.Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
			if !allowed(p) {
				writeJSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
