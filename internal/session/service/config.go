package service

import "time"

type Config struct {
	// IdleTimeout ends an authenticated session when no request touched it
	// for longer than this.
	IdleTimeout time.Duration
	// StoreTimeout bounds every session and subject store call. A timeout is
	// treated as a storage failure and fails closed.
	StoreTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		IdleTimeout:  time.Hour,
		StoreTimeout: 250 * time.Millisecond,
	}
}
