package middleware

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"go-session-auth/internal/throttle"
)

type clientLimiter struct {
	general  *rate.Limiter // nil when unlimited
	auth     *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware throttles per client IP. Requests under
// AuthPathPrefix use the stricter auth budget, which is shared through the
// remote limiter when one is configured.
type RateLimitMiddleware struct {
	generalRPM int
	authRPM    int
	remote     throttle.Limiter
	mu         sync.Mutex
	clients    map[string]*clientLimiter
}

// NewRateLimitMiddleware treats generalRPM <= 0 as unlimited. authRPM
// defaults to 10.
func NewRateLimitMiddleware(generalRPM int, authRPM int) *RateLimitMiddleware {
	if authRPM <= 0 {
		authRPM = 10
	}

	return &RateLimitMiddleware{
		generalRPM: generalRPM,
		authRPM:    authRPM,
		clients:    map[string]*clientLimiter{},
	}
}

func (m *RateLimitMiddleware) WithRemote(l throttle.Limiter) *RateLimitMiddleware {
	m.remote = l
	return m
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)

		if isAuthPath(r.URL.Path) {
			if allowed, retryAfter := m.allowAuth(r, ip); !allowed {
				writeRateLimited(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		limiter := m.getLimiter(ip)
		if limiter.general != nil && !limiter.general.Allow() {
			writeRateLimited(w, time.Minute)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) allowAuth(r *http.Request, ip string) (bool, time.Duration) {
	if m.remote != nil {
		res, err := m.remote.Allow(r.Context(), "auth:"+ip)
		if err == nil {
			return res.Allowed, res.RetryAfter
		}
		slog.Warn("remote rate limiter unavailable, using local budget", "error", err)
	}

	if !m.getLimiter(ip).auth.Allow() {
		return false, time.Minute
	}
	return true, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds <= 0 {
		seconds = 60
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
}

func (m *RateLimitMiddleware) getLimiter(clientIP string) *clientLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limiter, exists := m.clients[clientIP]; exists {
		limiter.lastSeen = time.Now()
		m.gcLocked()
		return limiter
	}

	created := &clientLimiter{
		auth:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.authRPM)), m.authRPM),
		lastSeen: time.Now(),
	}
	if m.generalRPM > 0 {
		created.general = rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.generalRPM)), m.generalRPM)
	}
	m.clients[clientIP] = created
	m.gcLocked()

	return created
}

func (m *RateLimitMiddleware) gcLocked() {
	if len(m.clients) < 1000 {
		return
	}

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, limiter := range m.clients {
		if limiter.lastSeen.Before(cutoff) {
			delete(m.clients, ip)
		}
	}
}

// ClientIP returns the host of the peer address. Forwarding headers are
// honoured only through RealIP, which rewrites RemoteAddr for trusted proxies.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return "unknown"
	}

	host, _, err := net.SplitHostPort(addr)
	if err == nil && host != "" {
		return host
	}
	return addr
}

func (m *RateLimitMiddleware) String() string {
	return fmt.Sprintf("ratelimit(general=%d/min auth=%d/min remote=%t)", m.generalRPM, m.authRPM, m.remote != nil)
}
