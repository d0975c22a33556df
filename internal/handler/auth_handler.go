package handler

import (
	"errors"
	"net/http"

	"go-session-auth/internal/model"
	"go-session-auth/internal/service"
)

type AuthHandler struct {
	service *service.AuthService
	logout  *service.LogoutService
}

func NewAuthHandler(service *service.AuthService, logout *service.LogoutService) *AuthHandler {
	return &AuthHandler{service: service, logout: logout}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload model.RegisterRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	tokens, err := h.service.Register(requestContext(r), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, tokens, nil)
}

func (h *AuthHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var payload model.AuthenticationRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	tokens, err := h.service.Authenticate(requestContext(r), payload.Email, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, tokens, nil)
}

// Refresh answers 200 with an empty body when no new token can be issued.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.service.Refresh(requestContext(r), r.Header.Get("Authorization"))
	if errors.Is(err, model.ErrRefreshDeclined) {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, tokens, nil)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.logout.Logout(requestContext(r), r.Header.Get("Authorization")); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.LogoutData{LoggedOut: true}, nil)
}
