package session

import (
	"time"

	"github.com/danmuck/edgemsg/internal/auth"
)

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines connection timeouts and dial retry policy.
type Config struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// DialAttempts bounds Dial retries; values below 1 mean a single attempt.
	DialAttempts int
	Backoff      BackoffConfig

	// AuthToken is attached to every outbound frame when set.
	AuthToken string
	// Validator, when set, drops inbound frames whose auth it rejects.
	Validator auth.Validator
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   15 * time.Second,
		DialAttempts:   5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}
