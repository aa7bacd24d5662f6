package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"leadgate/internal/audit"
	"leadgate/internal/platform/config"
	"leadgate/internal/platform/database"
	"leadgate/internal/platform/health"
	platformredis "leadgate/internal/platform/redis"
	"leadgate/internal/ratelimit/ports"
	"leadgate/internal/ratelimit/store/counter"
	"leadgate/internal/session/models"
	sessionservice "leadgate/internal/session/service"
	sessionstore "leadgate/internal/session/store"
	"leadgate/internal/session/subject"
	"leadgate/pkg/platform/circuit"
	"leadgate/pkg/platform/sentinel"
	"leadgate/pkg/requestcontext"
	"leadgate/pkg/secrets"
)

const auditBuffer = 1024

// infra holds the shared connections opened at startup. Either may be nil.
type infra struct {
	db    *database.Pool
	redis *platformredis.Client
}

func openInfra(ctx context.Context, cfg config.Server, reg prometheus.Registerer, checks *health.Handler, log *slog.Logger) (*infra, error) {
	in := &infra{}

	if needs(cfg, config.BackendPostgres) {
		dbCfg := database.DefaultConfig()
		dbCfg.URL = cfg.DatabaseURL
		dbCfg.Registerer = reg
		pool, err := database.New(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := database.Migrate(ctx, pool.DB()); err != nil {
			pool.Close() //nolint:errcheck // best-effort cleanup on init failure
			return nil, fmt.Errorf("migrate: %w", err)
		}
		in.db = pool
		checks.RegisterCheck("postgres", pool.Health)
		log.Info("postgres connected")
	}

	if cfg.Redis.URL != "" {
		client, err := platformredis.New(ctx, cfg.Redis, platformredis.NewPoolMetrics(reg))
		if err != nil {
			in.Close(log)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		in.redis = client
		checks.RegisterCheck("redis", client.Health)
		log.Info("redis connected")
	}
	return in, nil
}

// auditPublisher writes audit events to a Redis stream when Redis is
// configured and keeps them in memory otherwise.
func (in *infra) auditPublisher(reg prometheus.Registerer, log *slog.Logger) *audit.Publisher {
	var store audit.Store = audit.NewInMemoryStore(0)
	if in.redis != nil {
		store = audit.NewRedisStore(in.redis.Client, audit.DefaultStream, 0)
	}
	return audit.NewPublisher(store,
		audit.WithAsyncBuffer(auditBuffer),
		audit.WithPublisherLogger(log),
		audit.WithPublisherMetrics(audit.NewMetrics(reg)),
	)
}

func (in *infra) Close(log *slog.Logger) {
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			log.Warn("failed to close redis", "error", err)
		}
	}
	if in.db != nil {
		if err := in.db.Close(); err != nil {
			log.Warn("failed to close postgres", "error", err)
		}
	}
}

type stores struct {
	counters         ports.CounterStore
	counterHealth    health.CheckFunc
	sessions         sessionservice.SessionStore
	subjects         subjectStore
	expiringSessions *sessionstore.InMemoryStore
}

type subjectStore interface {
	sessionservice.SubjectStore
	Create(ctx context.Context, subject *models.Subject) error
}

func buildStores(ctx context.Context, cfg config.Server, in *infra, log *slog.Logger) (*stores, error) {
	out := &stores{}

	switch cfg.CounterBackend {
	case config.BackendPostgres:
		out.shareCounters(counter.NewPostgres(in.db.DB()), log)
	case config.BackendRedis:
		out.shareCounters(counter.NewRedis(in.redis.Client), log)
	default:
		out.counters = counter.NewInMemory()
	}

	switch cfg.SessionBackend {
	case config.BackendRedis:
		out.sessions = sessionstore.NewRedis(in.redis.Client, cfg.SessionTTL)
	default:
		memory := sessionstore.NewInMemory(cfg.SessionTTL)
		out.sessions = memory
		out.expiringSessions = memory
	}

	switch cfg.SubjectBackend {
	case config.BackendPostgres:
		out.subjects = subject.NewPostgres(in.db.DB())
	default:
		out.subjects = subject.NewInMemory()
	}

	if err := bootstrapSubject(ctx, cfg.Bootstrap, out.subjects, log); err != nil {
		return nil, err
	}
	return out, nil
}

// shareCounters puts a shared backend behind the circuit breaker.
func (s *stores) shareCounters(backend ports.CounterStore, log *slog.Logger) {
	resilient := counter.NewResilient(backend, circuit.New("counter_store"), log)
	s.counters = resilient
	s.counterHealth = resilient.Healthy
}

// bootstrapSubject seeds the configured operator account. An existing
// subject with the same name is left untouched.
func bootstrapSubject(ctx context.Context, b config.BootstrapSubject, subjects subjectStore, log *slog.Logger) error {
	if b.Name == "" || b.Credential == "" {
		return nil
	}
	hash, err := secrets.Hash(b.Credential)
	if err != nil {
		return fmt.Errorf("hash bootstrap credential: %w", err)
	}
	err = subjects.Create(ctx, &models.Subject{
		ID:           uuid.New(),
		Name:         b.Name,
		Role:         b.Role,
		PasswordHash: hash,
		CreatedAt:    requestcontext.Now(ctx),
	})
	switch {
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		log.Info("bootstrap subject already present", "subject", b.Name)
	case err != nil:
		return fmt.Errorf("bootstrap subject: %w", err)
	default:
		log.Info("bootstrap subject created", "subject", b.Name, "role", b.Role)
	}
	return nil
}

func needs(cfg config.Server, backend string) bool {
	return cfg.CounterBackend == backend || cfg.SessionBackend == backend || cfg.SubjectBackend == backend
}
