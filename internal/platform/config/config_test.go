package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func lookupFrom(env map[string]string) (func(string) (string, bool), []string) {
	environ := make([]string, 0, len(env))
	for k, v := range env {
		environ = append(environ, k+"="+v)
	}
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}, environ
}

func (s *ConfigSuite) TestDefaults() {
	lookup, environ := lookupFrom(map[string]string{})
	cfg, err := fromLookup(lookup, environ)
	s.Require().NoError(err)

	s.Equal(":8080", cfg.Addr)
	s.Equal(BackendMemory, cfg.CounterBackend)
	s.Equal(BackendMemory, cfg.SessionBackend)
	s.Equal(250*time.Millisecond, cfg.StoreTimeout)
	s.Equal(time.Hour, cfg.IdleTimeout)
	s.Equal(time.Hour, cfg.CSRFTokenLifetime)
	s.Equal(100, cfg.CleanupEveryNChecks)
	s.True(cfg.CookieSecure)
	s.Empty(cfg.RateLimits)
}

func (s *ConfigSuite) TestRateLimitOverrides() {
	s.Run("parses per-action policies", func() {
		lookup, environ := lookupFrom(map[string]string{
			"RATE_LIMIT_LOGIN":             "3/600/1200",
			"RATE_LIMIT_FORM_A_SUBMISSION": "10/60/0",
		})
		cfg, err := fromLookup(lookup, environ)
		s.Require().NoError(err)

		s.Equal(RateLimit{MaxAttempts: 3, WindowSeconds: 600, BlockSeconds: 1200}, cfg.RateLimits["login"])
		s.Equal(RateLimit{MaxAttempts: 10, WindowSeconds: 60, BlockSeconds: 0}, cfg.RateLimits["form_a_submission"])
	})

	s.Run("rejects malformed policies", func() {
		for _, raw := range []string{"5/300", "0/300/900", "5/0/900", "5/300/-1", "a/b/c"} {
			lookup, environ := lookupFrom(map[string]string{"RATE_LIMIT_LOGIN": raw})
			_, err := fromLookup(lookup, environ)
			s.Error(err, raw)
		}
	})
}

func (s *ConfigSuite) TestBackendValidation() {
	s.Run("postgres counters require a database url", func() {
		lookup, environ := lookupFrom(map[string]string{"COUNTER_BACKEND": "postgres"})
		_, err := fromLookup(lookup, environ)
		s.ErrorContains(err, "DATABASE_URL")
	})

	s.Run("redis sessions require a redis url", func() {
		lookup, environ := lookupFrom(map[string]string{"SESSION_BACKEND": "redis"})
		_, err := fromLookup(lookup, environ)
		s.ErrorContains(err, "REDIS_URL")
	})

	s.Run("unknown backend is rejected", func() {
		lookup, environ := lookupFrom(map[string]string{"COUNTER_BACKEND": "etcd"})
		_, err := fromLookup(lookup, environ)
		s.ErrorContains(err, "unknown backend")
	})

	s.Run("session ttl shorter than idle timeout is rejected", func() {
		lookup, environ := lookupFrom(map[string]string{"SESSION_TTL": "10m", "IDLE_TIMEOUT": "1h"})
		_, err := fromLookup(lookup, environ)
		s.Error(err)
	})
}

func (s *ConfigSuite) TestDurations() {
	lookup, environ := lookupFrom(map[string]string{
		"STORE_TIMEOUT": "1s",
		"IDLE_TIMEOUT":  "30m",
		"COOKIE_SECURE": "false",
	})
	cfg, err := fromLookup(lookup, environ)
	s.Require().NoError(err)
	s.Equal(time.Second, cfg.StoreTimeout)
	s.Equal(30*time.Minute, cfg.IdleTimeout)
	s.False(cfg.CookieSecure)

	lookup, environ = lookupFrom(map[string]string{"STORE_TIMEOUT": "soon"})
	_, err = fromLookup(lookup, environ)
	s.ErrorContains(err, "STORE_TIMEOUT")
}

func (s *ConfigSuite) TestLists() {
	lookup, environ := lookupFrom(map[string]string{})
	cfg, err := fromLookup(lookup, environ)
	s.Require().NoError(err)
	s.Equal([]string{"a", "b"}, cfg.Forms)
	s.Empty(cfg.AllowedOrigins)

	lookup, environ = lookupFrom(map[string]string{
		"FORMS":           " A, contact ,,",
		"ALLOWED_ORIGINS": "https://landing.example, https://promo.example",
	})
	cfg, err = fromLookup(lookup, environ)
	s.Require().NoError(err)
	s.Equal([]string{"a", "contact"}, cfg.Forms)
	s.Equal([]string{"https://landing.example", "https://promo.example"}, cfg.AllowedOrigins)

	lookup, environ = lookupFrom(map[string]string{"FORMS": " , "})
	_, err = fromLookup(lookup, environ)
	s.ErrorContains(err, "FORMS")
}
