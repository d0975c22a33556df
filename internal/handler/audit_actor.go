package handler

import (
	"context"
	"net/http"

	"go-session-auth/internal/middleware"
	"go-session-auth/internal/service"
)

// requestContext carries the caller address into session events.
func requestContext(r *http.Request) context.Context {
	return service.WithClientIP(r.Context(), middleware.ClientIP(r))
}
