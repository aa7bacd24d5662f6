package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	s "leadgate/pkg/string"
)

// Backend names accepted by the *_BACKEND variables.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Server captures process level configuration.
type Server struct {
	Addr        string
	Environment string

	DatabaseURL string
	Redis       RedisConfig

	CounterBackend string
	SessionBackend string
	SubjectBackend string

	StoreTimeout        time.Duration
	IdleTimeout         time.Duration
	SessionTTL          time.Duration
	CSRFTokenLifetime   time.Duration
	CleanupInterval     time.Duration
	CleanupEveryNChecks int

	// RateLimits holds per-action overrides parsed from RATE_LIMIT_<ACTION>,
	// keyed by the lower-cased action name.
	RateLimits map[string]RateLimit

	TrustedProxies string
	CookieSecure   bool

	// Forms lists the form names accepted by the submission endpoint.
	Forms []string
	// AllowedOrigins feeds CORS for landing pages served from other hosts.
	AllowedOrigins []string

	Bootstrap BootstrapSubject
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RateLimit is a raw limiter policy in whole seconds, as written in the environment.
type RateLimit struct {
	MaxAttempts   int
	WindowSeconds int
	BlockSeconds  int
}

// BootstrapSubject seeds one credential into the in-memory subject store.
type BootstrapSubject struct {
	Name       string
	Credential string
	Role       string
}

// Defaults. Variables so tests and tooling can read them.
var (
	DefaultStoreTimeout      = 250 * time.Millisecond
	DefaultIdleTimeout       = time.Hour
	DefaultSessionTTL        = 24 * time.Hour
	DefaultCSRFTokenLifetime = time.Hour
	DefaultCleanupInterval   = 5 * time.Minute
	DefaultCleanupEveryN     = 100
)

const rateLimitPrefix = "RATE_LIMIT_"

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	return fromLookup(os.LookupEnv, os.Environ())
}

func fromLookup(lookup func(string) (string, bool), environ []string) (Server, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return fallback
	}

	cfg := Server{
		Addr:           get("LEADGATE_ADDR", ":8080"),
		Environment:    get("ENVIRONMENT", "development"),
		DatabaseURL:    get("DATABASE_URL", ""),
		CounterBackend: get("COUNTER_BACKEND", BackendMemory),
		SessionBackend: get("SESSION_BACKEND", BackendMemory),
		SubjectBackend: get("SUBJECT_BACKEND", BackendMemory),
		TrustedProxies: get("TRUSTED_PROXIES", ""),
		Redis: RedisConfig{
			URL:          get("REDIS_URL", ""),
			PoolSize:     20,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Bootstrap: BootstrapSubject{
			Name:       get("BOOTSTRAP_SUBJECT", ""),
			Credential: get("BOOTSTRAP_CREDENTIAL", ""),
			Role:       get("BOOTSTRAP_ROLE", "admin"),
		},
		RateLimits:     make(map[string]RateLimit),
		Forms:          s.SplitList(get("FORMS", "a,b")),
		AllowedOrigins: s.SplitList(get("ALLOWED_ORIGINS", "")),
	}

	var err error
	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"STORE_TIMEOUT", DefaultStoreTimeout, &cfg.StoreTimeout},
		{"IDLE_TIMEOUT", DefaultIdleTimeout, &cfg.IdleTimeout},
		{"SESSION_TTL", DefaultSessionTTL, &cfg.SessionTTL},
		{"CSRF_TOKEN_LIFETIME", DefaultCSRFTokenLifetime, &cfg.CSRFTokenLifetime},
		{"CLEANUP_INTERVAL", DefaultCleanupInterval, &cfg.CleanupInterval},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.key, get(d.key, ""), d.fallback); err != nil {
			return Server{}, err
		}
	}

	cfg.CleanupEveryNChecks = DefaultCleanupEveryN
	if raw := get("CLEANUP_EVERY_N_CHECKS", ""); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			return Server{}, fmt.Errorf("CLEANUP_EVERY_N_CHECKS: invalid value %q", raw)
		}
		cfg.CleanupEveryNChecks = n
	}

	cfg.CookieSecure = true
	if raw := get("COOKIE_SECURE", ""); raw != "" {
		if cfg.CookieSecure, err = strconv.ParseBool(raw); err != nil {
			return Server{}, fmt.Errorf("COOKIE_SECURE: %w", err)
		}
	}

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, rateLimitPrefix) || value == "" {
			continue
		}
		action := strings.ToLower(strings.TrimPrefix(key, rateLimitPrefix))
		limit, parseErr := ParseRateLimit(value)
		if parseErr != nil {
			return Server{}, fmt.Errorf("%s: %w", key, parseErr)
		}
		cfg.RateLimits[action] = limit
	}

	if err := cfg.validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// ParseRateLimit parses "max/window/block" where window and block are whole seconds.
func ParseRateLimit(raw string) (RateLimit, error) {
	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return RateLimit{}, fmt.Errorf("expected max/window/block, got %q", raw)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return RateLimit{}, fmt.Errorf("invalid number %q in %q", p, raw)
		}
		nums[i] = n
	}
	limit := RateLimit{MaxAttempts: nums[0], WindowSeconds: nums[1], BlockSeconds: nums[2]}
	if limit.MaxAttempts < 1 || limit.WindowSeconds <= 0 || limit.BlockSeconds < 0 {
		return RateLimit{}, fmt.Errorf("out of range values in %q", raw)
	}
	return limit, nil
}

func (c Server) validate() error {
	for name, backend := range map[string]string{
		"COUNTER_BACKEND": c.CounterBackend,
		"SESSION_BACKEND": c.SessionBackend,
		"SUBJECT_BACKEND": c.SubjectBackend,
	} {
		switch backend {
		case BackendMemory:
		case BackendPostgres:
			if name == "SESSION_BACKEND" {
				return fmt.Errorf("%s: postgres is not supported for sessions", name)
			}
			if c.DatabaseURL == "" {
				return fmt.Errorf("%s=postgres requires DATABASE_URL", name)
			}
		case BackendRedis:
			if name == "SUBJECT_BACKEND" {
				return fmt.Errorf("%s: redis is not supported for subjects", name)
			}
			if c.Redis.URL == "" {
				return fmt.Errorf("%s=redis requires REDIS_URL", name)
			}
		default:
			return fmt.Errorf("%s: unknown backend %q", name, backend)
		}
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.IdleTimeout <= 0 || c.CSRFTokenLifetime <= 0 {
		return fmt.Errorf("IDLE_TIMEOUT and CSRF_TOKEN_LIFETIME must be positive")
	}
	if c.SessionTTL < c.IdleTimeout {
		return fmt.Errorf("SESSION_TTL must not be shorter than IDLE_TIMEOUT")
	}
	if len(c.Forms) == 0 {
		return fmt.Errorf("FORMS must name at least one form")
	}
	return nil
}

func parseDuration(key, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
