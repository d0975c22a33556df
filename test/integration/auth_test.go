//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-session-auth/internal/model"
)

func TestAuthFlowAgainstPostgres(t *testing.T) {
	db := openDB(t)
	server := newServer(t, db)
	email := uniqueEmail("flow")

	status, raw := doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/register", "", model.RegisterRequest{
		Firstname: "Flow",
		Lastname:  "Test",
		Email:     email,
		Password:  "password123",
		Role:      "manager",
	})
	require.Equal(t, http.StatusOK, status, string(raw))
	registered := tokenPair(t, raw)

	status, _ = doJSON(t, http.MethodGet, server.URL+"/api/v1/demo-controller/manager", registered.AccessToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, raw = doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/authenticate", "", model.AuthenticationRequest{
		Email:    email,
		Password: "password123",
	})
	require.Equal(t, http.StatusOK, status, string(raw))
	login := tokenPair(t, raw)

	status, _ = doJSON(t, http.MethodGet, server.URL+"/api/v1/users/me", registered.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, raw = doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/refresh-token", login.RefreshToken, nil)
	require.Equal(t, http.StatusOK, status)
	refreshed := tokenPair(t, raw)
	assert.Equal(t, login.RefreshToken, refreshed.RefreshToken)

	status, _ = doJSON(t, http.MethodGet, server.URL+"/api/v1/users/me", login.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/logout", refreshed.AccessToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, http.MethodGet, server.URL+"/api/v1/users/me", refreshed.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestDuplicateEmailIsCaseInsensitive(t *testing.T) {
	db := openDB(t)
	server := newServer(t, db)
	email := uniqueEmail("dup")

	status, _ := doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/register", "", model.RegisterRequest{
		Email: email, Password: "password123",
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/register", "", model.RegisterRequest{
		Email: "DUP" + email[3:], Password: "password123",
	})
	assert.Equal(t, http.StatusConflict, status)
}

func TestHealthReportsDatabase(t *testing.T) {
	db := openDB(t)
	server := newServer(t, db)

	status, raw := doJSON(t, http.MethodGet, server.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", string(raw))
}
