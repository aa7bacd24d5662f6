package main

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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"leadgate/internal/csrf"
	"leadgate/internal/guard"
	"leadgate/internal/intake"
	"leadgate/internal/platform/config"
	"leadgate/internal/platform/health"
	"leadgate/internal/platform/logger"
	rlconfig "leadgate/internal/ratelimit/config"
	rlmetrics "leadgate/internal/ratelimit/metrics"
	rlmiddleware "leadgate/internal/ratelimit/middleware"
	rlservice "leadgate/internal/ratelimit/service"
	"leadgate/internal/ratelimit/workers/cleanup"
	sessionmetrics "leadgate/internal/session/metrics"
	sessionservice "leadgate/internal/session/service"
	httptransport "leadgate/internal/transport/http"
	"leadgate/pkg/platform/middleware/metadata"
	"leadgate/pkg/platform/middleware/request"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	poolStatsInterval = 15 * time.Second
)

// main wires dependencies and runs the server until SIGINT or SIGTERM.
// Business logic lives in the internal service packages.
func main() {
	_ = godotenv.Load()
	log := logger.New()

	if err := run(log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(log *slog.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("initializing leadgate",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"counter_backend", cfg.CounterBackend,
		"session_backend", cfg.SessionBackend,
		"subject_backend", cfg.SubjectBackend,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	healthHandler := health.New(cfg.Environment)
	infra, err := openInfra(ctx, cfg, reg, healthHandler, log)
	if err != nil {
		return err
	}
	defer infra.Close(log)

	stores, err := buildStores(ctx, cfg, infra, log)
	if err != nil {
		return err
	}

	if stores.counterHealth != nil {
		healthHandler.RegisterOptionalCheck("counter_store", stores.counterHealth)
	}

	auditPublisher := infra.auditPublisher(reg, log)
	defer auditPublisher.Close()

	limiterMetrics := rlmetrics.New(reg)
	limiter, err := rlservice.New(stores.counters,
		rlservice.WithConfig(rlconfig.FromServer(cfg)),
		rlservice.WithLogger(log),
		rlservice.WithMetrics(limiterMetrics),
		rlservice.WithAuditEmitter(auditPublisher),
	)
	if err != nil {
		return fmt.Errorf("init limiter: %w", err)
	}

	sessions, err := sessionservice.New(stores.sessions, stores.subjects, limiter,
		sessionservice.WithConfig(&sessionservice.Config{
			IdleTimeout:  cfg.IdleTimeout,
			StoreTimeout: cfg.StoreTimeout,
		}),
		sessionservice.WithLogger(log),
		sessionservice.WithMetrics(sessionmetrics.New(reg)),
		sessionservice.WithAuditEmitter(auditPublisher),
	)
	if err != nil {
		return fmt.Errorf("init sessions: %w", err)
	}

	csrfManager := csrf.New(
		csrf.WithLifetime(cfg.CSRFTokenLifetime),
		csrf.WithLogger(log),
		csrf.WithMetrics(csrf.NewMetrics(reg)),
		csrf.WithAuditEmitter(auditPublisher),
	)

	proxies, err := metadata.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	handler := httptransport.New(
		sessions,
		csrfManager,
		guard.New(limiter, sessions, csrfManager, log),
		intake.NewRecorder(log, intake.NewMetrics(reg), 0),
		log,
		httptransport.CookieConfig{Secure: cfg.CookieSecure, MaxAge: cfg.SessionTTL},
		cfg.Forms,
	)
	router := httptransport.NewRouter(handler, httptransport.RouterConfig{
		Logger:         log,
		Metadata:       metadata.NewMiddleware(&metadata.Config{TrustedProxies: proxies}),
		RateLimits:     rlmiddleware.New(limiter, log),
		Health:         healthHandler,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		RequestMetrics: request.NewMetrics(reg),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	sweepOpts := []cleanup.Option{
		cleanup.WithLogger(log),
		cleanup.WithInterval(cfg.CleanupInterval),
		cleanup.WithTimeout(cfg.StoreTimeout * 4),
		cleanup.WithMetrics(limiterMetrics),
	}
	if stores.expiringSessions != nil {
		sweepOpts = append(sweepOpts, cleanup.WithSweep("sessions", stores.expiringSessions.DeleteExpired))
	}
	sweeper := cleanup.New(stores.counters, sweepOpts...)
	g.Go(func() error {
		if err := sweeper.Start(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if infra.redis != nil {
		g.Go(func() error {
			every(gctx, poolStatsInterval, infra.redis.RecordPoolStats)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// every calls fn on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
