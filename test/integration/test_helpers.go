//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-session-auth/internal/authz"
	"go-session-auth/internal/cache"
	"go-session-auth/internal/config"
	"go-session-auth/internal/database"
	"go-session-auth/internal/event"
	"go-session-auth/internal/handler"
	"go-session-auth/internal/middleware"
	"go-session-auth/internal/model"
	"go-session-auth/internal/repository"
	"go-session-auth/internal/router"
	"go-session-auth/internal/service"
	"go-session-auth/internal/token"
)

// openDB connects to TEST_DATABASE_URL and applies the schema.
func openDB(t *testing.T) *database.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, url, 5, 1)
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(ctx))
	t.Cleanup(db.Close)
	return db
}

func uniqueEmail(prefix string) string {
	return prefix + "+" + uuid.NewString()[:8] + "@example.com"
}

func createUser(t *testing.T, users *repository.UserRepository, email string) model.User {
	t.Helper()
	now := time.Now().UTC()
	u, err := users.Create(context.Background(), model.User{
		ID:           uuid.NewString(),
		Firstname:    "Int",
		Lastname:     "Test",
		Email:        email,
		PasswordHash: "x",
		Role:         authz.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	require.NoError(t, err)
	return u
}

func ledgerToken(userID string) model.Token {
	return model.Token{
		ID:        uuid.NewString(),
		Value:     "tok-" + uuid.NewString(),
		UserID:    userID,
		Type:      model.TokenTypeBearer,
		CreatedAt: time.Now().UTC(),
	}
}

func newServer(t *testing.T, db *database.DB) *httptest.Server {
	t.Helper()

	codec, err := token.NewCodec([]byte("integration-signing-key-32-bytes"))
	require.NoError(t, err)

	users := repository.NewUserRepository(db.Pool)
	tokens := repository.NewTokenRepository(db.Pool)
	auditService := service.NewAuditService(repository.NewAuditRepository(db.Pool))
	policy := authz.Default()
	revoked := cache.NewRevocations(time.Hour)

	bus := event.NewBus()
	bus.Subscribe(auditService.Record)

	authService := service.NewAuthService(users, tokens, codec, service.NewBcryptHasher(bcrypt.MinCost), policy, 15*time.Minute, 24*time.Hour).
		WithEvents(bus).
		WithRevocationCache(revoked)
	logoutService := service.NewLogoutService(tokens, users).WithEvents(bus).WithRevocationCache(revoked)

	docs, err := handler.NewDocsHandler("")
	require.NoError(t, err)

	cfg := &config.Config{
		RequestTimeout:   10 * time.Second,
		CORSOrigins:      []string{"*"},
		RateLimitRPM:     1000,
		AuthRateLimitRPM: 1000,
	}

	server := httptest.NewServer(router.New(cfg, router.Options{
		Authenticator: middleware.NewAuthenticator(codec, users, tokens, policy).WithRevocationCache(revoked),
		Health:        db.Health,
	}, router.Handlers{
		Auth:  handler.NewAuthHandler(authService, logoutService),
		User:  handler.NewUserHandler(authService),
		Demo:  handler.NewDemoHandler(),
		Audit: handler.NewAuditHandler(auditService),
		Docs:  docs,
	}))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method string, url string, bearer string, payload any) (int, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func tokenPair(t *testing.T, raw []byte) model.TokenPair {
	t.Helper()
	var envelope struct {
		Data model.TokenPair `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	return envelope.Data
}
