package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-session-auth/internal/authz"
	"go-session-auth/internal/cache"
	"go-session-auth/internal/config"
	"go-session-auth/internal/database"
	"go-session-auth/internal/event"
	"go-session-auth/internal/handler"
	"go-session-auth/internal/metrics"
	"go-session-auth/internal/middleware"
	"go-session-auth/internal/queue"
	"go-session-auth/internal/repository"
	"go-session-auth/internal/repository/memstore"
	"go-session-auth/internal/router"
	"go-session-auth/internal/service"
	"go-session-auth/internal/throttle"
	"go-session-auth/internal/token"
)

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

type stores struct {
	users  service.UserStore
	tokens service.TokenLedger
	audit  service.AuditStore
	health func(ctx context.Context) error
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}
	m := metrics.New()

	st, err := a.openStores(ctx, cfg, m)
	if err != nil {
		a.cleanup()
		return nil, err
	}

	key, err := cfg.SigningKey()
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to decode signing key: %w", err)
	}
	codec, err := token.NewCodec(key)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}

	policy, err := authz.Load(cfg.RolesFile)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to load role policy: %w", err)
	}

	revoked := cache.NewRevocations(cfg.RevocationCacheTTL)

	auditService := service.NewAuditService(st.audit)
	bus := event.NewBus()
	bus.Subscribe(auditService.Record)

	if cfg.AMQPURL != "" {
		publisher, err := queue.NewPublisher(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("failed to connect to message broker: %w", err)
		}
		unsubscribe := bus.Subscribe(publisher.Handle)
		a.cleanupFuncs = append(a.cleanupFuncs, func() {
			unsubscribe()
			if err := publisher.Close(); err != nil {
				slog.Warn("failed to close event publisher", "error", err)
			}
		})
		slog.Info("forwarding session events", "queue", cfg.AMQPQueue)
	}

	rateLimiter := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)
	if cfg.RedisAddr != "" {
		client, err := database.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			slog.Warn("redis unavailable, auth rate limit stays per instance", "addr", cfg.RedisAddr, "error", err)
		} else {
			rateLimiter.WithRemote(throttle.NewRedisLimiter(client, "rl:", cfg.AuthRateLimitRPM, time.Minute))
			a.cleanupFuncs = append(a.cleanupFuncs, func() {
				_ = client.Close()
			})
		}
	}

	hasher := service.NewBcryptHasher(cfg.BcryptCost)
	authService := service.NewAuthService(st.users, st.tokens, codec, hasher, policy, cfg.JWTAccessTTL, cfg.JWTRefreshTTL).
		WithEvents(bus).
		WithMetrics(m).
		WithRevocationCache(revoked)
	logoutService := service.NewLogoutService(st.tokens, st.users).
		WithEvents(bus).
		WithMetrics(m).
		WithRevocationCache(revoked)

	authenticator := middleware.NewAuthenticator(codec, st.users, st.tokens, policy).
		WithRevocationCache(revoked).
		WithMetrics(m)

	docsHandler, err := handler.NewDocsHandler(cfg.OpenAPISpecPath)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to load openapi document: %w", err)
	}

	appRouter := router.New(cfg, router.Options{
		Authenticator: authenticator,
		RateLimiter:   rateLimiter,
		Metrics:       m,
		Health:        st.health,
	}, router.Handlers{
		Auth:  handler.NewAuthHandler(authService, logoutService),
		User:  handler.NewUserHandler(authService),
		Demo:  handler.NewDemoHandler(),
		Audit: handler.NewAuditHandler(auditService),
		Docs:  docsHandler,
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	slog.Info("application ready",
		"store", cfg.StoreDriver,
		"roles", policy.Roles(),
		"access_ttl", cfg.JWTAccessTTL,
		"refresh_ttl", cfg.JWTRefreshTTL,
		"rate_limit", rateLimiter.String(),
	)
	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		slog.Warn("using in-memory store, data is lost on restart")
		mem := memstore.New()
		return stores{users: mem, tokens: mem, audit: mem}, nil
	}

	slog.Info("connecting to PostgreSQL")
	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return stores{}, err
	}
	a.cleanupFuncs = append(a.cleanupFuncs, db.Close)
	if err := m.Register(database.NewPoolCollector(db.Pool, metrics.Namespace)); err != nil {
		slog.Warn("database pool metrics disabled", "error", err)
	}
	slog.Info("database ready")

	return stores{
		users:  repository.NewUserRepository(db.Pool),
		tokens: repository.NewTokenRepository(db.Pool),
		audit:  repository.NewAuditRepository(db.Pool),
		health: db.Health,
	}, nil
}

// OpenDatabase connects to PostgreSQL and makes sure the schema exists.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}
	return db, nil
}

func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)

	// stores close after in-flight requests drain
	a.cleanup()

	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}
