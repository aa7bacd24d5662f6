package config

import (
	"maps"
	"time"

	platformconfig "leadgate/internal/platform/config"
	"leadgate/internal/ratelimit/models"
)

// Config holds rate limiting configuration.
type Config struct {
	// Policies by action. Actions without an entry fall back to Fallback.
	Policies map[models.Action]models.Policy
	Fallback models.Policy

	// StoreTimeout bounds every counter store call; exceeding it fails open.
	StoreTimeout time.Duration

	// CleanupEveryNChecks triggers opportunistic garbage collection on every Nth
	// check. Zero disables it.
	CleanupEveryNChecks int
}

// DefaultConfig returns the default policy table.
func DefaultConfig() *Config {
	return &Config{
		Policies: map[models.Action]models.Policy{
			models.ActionLogin:           models.NewPolicy(5, 900, 1800),
			models.ActionFormASubmission: models.NewPolicy(5, 300, 900),
			models.ActionFormBSubmission: models.NewPolicy(5, 300, 900),
			models.ActionWebhookAPI:      models.NewPolicy(60, 60, 300),
			models.ActionAdminWrite:      models.NewPolicy(30, 60, 300),
		},
		Fallback:            models.NewPolicy(5, 300, 900),
		StoreTimeout:        platformconfig.DefaultStoreTimeout,
		CleanupEveryNChecks: platformconfig.DefaultCleanupEveryN,
	}
}

// FromServer overlays environment overrides onto the defaults.
func FromServer(server platformconfig.Server) *Config {
	cfg := DefaultConfig()
	cfg.StoreTimeout = server.StoreTimeout
	cfg.CleanupEveryNChecks = server.CleanupEveryNChecks
	for action, limit := range server.RateLimits {
		cfg.Policies[models.Action(action)] = models.NewPolicy(limit.MaxAttempts, limit.WindowSeconds, limit.BlockSeconds)
	}
	return cfg
}

// PolicyFor returns the policy for an action.
func (c *Config) PolicyFor(action models.Action) models.Policy {
	if p, ok := c.Policies[action]; ok {
		return p
	}
	return c.Fallback
}

// Clone returns a deep copy safe to mutate.
func (c *Config) Clone() *Config {
	out := *c
	out.Policies = maps.Clone(c.Policies)
	return &out
}
