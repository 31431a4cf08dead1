package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/matt-riley/flagchain/internal/cache"
	"github.com/matt-riley/flagchain/internal/config"
	"github.com/matt-riley/flagchain/internal/metrics"
	"github.com/matt-riley/flagchain/internal/middleware"
	"github.com/matt-riley/flagchain/internal/repository"
	"github.com/matt-riley/flagchain/internal/server"
	"github.com/matt-riley/flagchain/internal/service"
	"github.com/matt-riley/flagchain/internal/tracing"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

var _ service.Recorder = (*metrics.Metrics)(nil)

func newServeCommand(flags *rootFlags) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the flag evaluation HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadRuntime(cmd, flags)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, log, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending migrations before serving")

	return cmd
}

func runServe(parent context.Context, cfg config.Config, log *slog.Logger, migrate bool) error {
	if parent == nil {
		parent = context.Background()
	}

	shutdownTracer, err := tracing.Init(parent,
		tracing.WithServiceVersion(version),
		tracing.WithSampleRatio(cfg.TraceSampleRatio),
	)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := connectPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrate {
		if err := runMigrations(pool); err != nil {
			return err
		}
	}

	repo := repository.NewPostgresRepositoryWithChannel(pool, cfg.NotifyChannel)
	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	flagCache, closeCache, err := newFlagCache(cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	evaluator, err := service.New(repo,
		service.WithLogger(log),
		service.WithCache(flagCache),
		service.WithCacheTTL(cfg.CacheTTL),
		service.WithAutoProvision(cfg.AutoProvision),
		service.WithRecorder(m),
	)
	if err != nil {
		return fmt.Errorf("init evaluator: %w", err)
	}

	if flagCache != nil {
		if err := evaluator.WatchInvalidations(ctx, repo); err != nil {
			return fmt.Errorf("watch flag changes: %w", err)
		}
	}

	rateLimiter := middleware.NewRateLimiter(ctx, cfg.AuthRateLimit)
	defer rateLimiter.Stop()

	apiHandler := m.HTTPMiddleware(server.NewHTTPHandler(evaluator,
		server.WithMaxJSONBodySize(cfg.MaxJSONBodySize),
		server.WithMetricsHandler(m.Handler()),
		server.WithHealthCheck(repo),
	))
	httpHandler := newHTTPHandler(apiHandler, &apiKeyTokenValidator{lookup: repo},
		middleware.WithOnAuthFailure(m.IncAuthFailures),
		middleware.WithRateLimiter(rateLimiter),
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(middleware.HTTPRequestLogging(log)(httpHandler), "flagchain-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	log.Info("server started",
		"http_addr", cfg.HTTPAddr,
		"cache_backend", cfg.CacheBackend,
		"auto_provision", cfg.AutoProvision,
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	return serveErr
}

// newFlagCache builds the configured cache backend. A nil cache means every
// evaluation reads PostgreSQL.
func newFlagCache(cfg config.Config) (service.Cache, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheBackendNone:
		return nil, func() {}, nil
	case config.CacheBackendRedis:
		c, err := cache.NewRedisCacheFromURL(cfg.RedisURL, cfg.CacheKeyPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("init redis cache: %w", err)
		}
		return c, func() { _ = c.Close() }, nil
	default:
		c, err := cache.NewMemoryCache(cfg.CacheMaxEntries)
		if err != nil {
			return nil, nil, fmt.Errorf("init memory cache: %w", err)
		}
		return c, func() { _ = c.Close() }, nil
	}
}

func newHTTPHandler(apiHandler http.Handler, tokenValidator middleware.TokenValidator, opts ...middleware.AuthOption) http.Handler {
	protectedAPIHandler := middleware.HTTPBearerAuthMiddleware(tokenValidator, opts...)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedAPIHandler)
	mux.Handle("GET /healthz", apiHandler)
	mux.Handle("GET /metrics", apiHandler)

	return mux
}

type apiKeyHashLookup interface {
	ValidateAPIKey(ctx context.Context, id string) (string, error)
}

type apiKeyTokenValidator struct {
	lookup apiKeyHashLookup
}

func (v *apiKeyTokenValidator) ValidateToken(ctx context.Context, token string) (string, error) {
	if v == nil || v.lookup == nil {
		return "", errors.New("api key validator is nil")
	}

	keyID, rawSecret, ok := middleware.SplitAPIKeyToken(token)
	if !ok {
		return "", errors.New("invalid token format")
	}

	keyHash, err := v.lookup.ValidateAPIKey(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("lookup key hash: %w", err)
	}
	if !middleware.APIKeyMatchesHash(keyHash, rawSecret) {
		return "", errors.New("invalid token")
	}

	return keyID, nil
}
