package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgemsg/internal/auth"
	"github.com/danmuck/edgemsg/internal/hostaddr"
	"github.com/danmuck/edgemsg/internal/logging"
	"github.com/danmuck/edgemsg/internal/memory"
	"github.com/danmuck/edgemsg/internal/observability"
	"github.com/danmuck/edgemsg/internal/protocol/frame"
	"github.com/danmuck/edgemsg/internal/protocol/session"
)

// Config is the runtime configuration for edgemsg processes.
type Config struct {
	Log     LogConfig
	Memory  MemoryConfig
	Frame   FrameConfig
	Metrics MetricsConfig
	Session SessionConfig
}

type LogConfig struct {
	Level     string
	Timestamp bool
	NoColor   bool
}

// MemoryConfig bounds the process allocator. Zero means unlimited.
type MemoryConfig struct {
	LimitBytes int64
}

type FrameConfig struct {
	MaxPayloadBytes uint64
	MaxAuthBytes    uint64
}

// MetricsConfig enables the collectors. Listen, when set, also serves them
// over HTTP at that host:port.
type MetricsConfig struct {
	Enabled bool
	Listen  string
}

// SessionConfig holds connection timeouts and dial retry policy in
// milliseconds.
type SessionConfig struct {
	ConnectTimeoutMS  int64
	WriteTimeoutMS    int64
	DialAttempts      int
	BackoffInitialMS  int64
	BackoffMaxMS      int64
	BackoffMultiplier float64
	BackoffJitter     bool
	AuthToken         string
}

// config.toml key mapping to runtime settings.
type fileConfig struct {
	Log struct {
		Level     string `toml:"level"`
		Timestamp bool   `toml:"timestamp"`
		NoColor   bool   `toml:"no_color"`
	} `toml:"log"`
	Memory struct {
		LimitBytes int64 `toml:"limit_bytes"`
	} `toml:"memory"`
	Frame struct {
		MaxPayloadBytes uint64 `toml:"max_payload_bytes"`
		MaxAuthBytes    uint64 `toml:"max_auth_bytes"`
	} `toml:"frame"`
	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Listen  string `toml:"listen"`
	} `toml:"metrics"`
	Session struct {
		ConnectTimeoutMS  int64   `toml:"connect_timeout_ms"`
		WriteTimeoutMS    int64   `toml:"write_timeout_ms"`
		DialAttempts      int     `toml:"dial_attempts"`
		BackoffInitialMS  int64   `toml:"backoff_initial_ms"`
		BackoffMaxMS      int64   `toml:"backoff_max_ms"`
		BackoffMultiplier float64 `toml:"backoff_multiplier"`
		BackoffJitter     bool    `toml:"backoff_jitter"`
		AuthToken         string  `toml:"auth_token"`
	} `toml:"session"`
}

func Default() Config {
	limits := frame.DefaultLimits()
	sess := session.DefaultConfig()
	return Config{
		Log: LogConfig{
			Level:     "info",
			Timestamp: true,
		},
		Frame: FrameConfig{
			MaxPayloadBytes: limits.MaxPayloadBytes,
			MaxAuthBytes:    limits.MaxAuthBytes,
		},
		Session: SessionConfig{
			ConnectTimeoutMS:  sess.ConnectTimeout.Milliseconds(),
			WriteTimeoutMS:    sess.WriteTimeout.Milliseconds(),
			DialAttempts:      sess.DialAttempts,
			BackoffInitialMS:  sess.Backoff.InitialDelay.Milliseconds(),
			BackoffMaxMS:      sess.Backoff.MaxDelay.Milliseconds(),
			BackoffMultiplier: sess.Backoff.Multiplier,
			BackoffJitter:     sess.Backoff.Jitter,
		},
	}
}

// Load overlays the keys defined in the TOML file at path onto Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "timestamp") {
		cfg.Log.Timestamp = raw.Log.Timestamp
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}
	if meta.IsDefined("memory", "limit_bytes") {
		cfg.Memory.LimitBytes = raw.Memory.LimitBytes
	}
	if meta.IsDefined("frame", "max_payload_bytes") {
		cfg.Frame.MaxPayloadBytes = raw.Frame.MaxPayloadBytes
	}
	if meta.IsDefined("frame", "max_auth_bytes") {
		cfg.Frame.MaxAuthBytes = raw.Frame.MaxAuthBytes
	}
	if meta.IsDefined("metrics", "enabled") {
		cfg.Metrics.Enabled = raw.Metrics.Enabled
	}
	if meta.IsDefined("metrics", "listen") {
		cfg.Metrics.Listen = strings.TrimSpace(raw.Metrics.Listen)
	}
	if meta.IsDefined("session", "connect_timeout_ms") {
		cfg.Session.ConnectTimeoutMS = raw.Session.ConnectTimeoutMS
	}
	if meta.IsDefined("session", "write_timeout_ms") {
		cfg.Session.WriteTimeoutMS = raw.Session.WriteTimeoutMS
	}
	if meta.IsDefined("session", "dial_attempts") {
		cfg.Session.DialAttempts = raw.Session.DialAttempts
	}
	if meta.IsDefined("session", "backoff_initial_ms") {
		cfg.Session.BackoffInitialMS = raw.Session.BackoffInitialMS
	}
	if meta.IsDefined("session", "backoff_max_ms") {
		cfg.Session.BackoffMaxMS = raw.Session.BackoffMaxMS
	}
	if meta.IsDefined("session", "backoff_multiplier") {
		cfg.Session.BackoffMultiplier = raw.Session.BackoffMultiplier
	}
	if meta.IsDefined("session", "backoff_jitter") {
		cfg.Session.BackoffJitter = raw.Session.BackoffJitter
	}
	if meta.IsDefined("session", "auth_token") {
		cfg.Session.AuthToken = strings.TrimSpace(raw.Session.AuthToken)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if _, ok := logging.ParseLevel(cfg.Log.Level); !ok {
		return fmt.Errorf("log.level %q is not a known level", cfg.Log.Level)
	}
	if cfg.Memory.LimitBytes < 0 {
		return fmt.Errorf("memory.limit_bytes must not be negative")
	}
	if cfg.Frame.MaxPayloadBytes == 0 {
		return fmt.Errorf("frame.max_payload_bytes is required")
	}
	if cfg.Frame.MaxAuthBytes > uint64(^uint16(0)-frame.FixedHeaderLen) {
		return fmt.Errorf("frame.max_auth_bytes exceeds header capacity")
	}
	if cfg.Metrics.Listen != "" {
		if _, _, err := hostaddr.ParseHostString(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen: %w", err)
		}
	}
	if cfg.Session.ConnectTimeoutMS < 0 || cfg.Session.WriteTimeoutMS < 0 {
		return fmt.Errorf("session timeouts must not be negative")
	}
	if cfg.Session.DialAttempts < 1 {
		return fmt.Errorf("session.dial_attempts must be at least 1")
	}
	if cfg.Session.BackoffInitialMS < 0 || cfg.Session.BackoffMaxMS < 0 {
		return fmt.Errorf("session backoff delays must not be negative")
	}
	if cfg.Session.BackoffMultiplier < 1.0 {
		return fmt.Errorf("session.backoff_multiplier must be at least 1.0")
	}
	return nil
}

// FrameLimits returns the frame limits described by cfg.
func (c Config) FrameLimits() frame.Limits {
	return frame.Limits{
		MaxAuthBytes:    c.Frame.MaxAuthBytes,
		MaxPayloadBytes: c.Frame.MaxPayloadBytes,
	}
}

// SessionConfig converts the [session] table into connection settings.
func (c Config) SessionConfig() session.Config {
	ms := func(v int64) time.Duration { return time.Duration(v) * time.Millisecond }
	sc := session.Config{
		ConnectTimeout: ms(c.Session.ConnectTimeoutMS),
		WriteTimeout:   ms(c.Session.WriteTimeoutMS),
		DialAttempts:   c.Session.DialAttempts,
		Backoff: session.BackoffConfig{
			InitialDelay: ms(c.Session.BackoffInitialMS),
			Multiplier:   c.Session.BackoffMultiplier,
			MaxDelay:     ms(c.Session.BackoffMaxMS),
			Jitter:       c.Session.BackoffJitter,
		},
	}
	if c.Session.AuthToken != "" {
		sc.AuthToken = c.Session.AuthToken
		sc.Validator = auth.StaticToken{Token: c.Session.AuthToken}
	}
	return sc
}

// Apply installs the logger, the process allocator and, when enabled, the
// metrics collectors. Logging env overrides still win over cfg.
func (c Config) Apply() {
	lvl, _ := logging.ParseLevel(c.Log.Level)
	logCfg := logging.DefaultConfig(logging.ProfileRuntime)
	logCfg.Level = lvl
	logCfg.Timestamp = c.Log.Timestamp
	logCfg.NoColor = c.Log.NoColor
	logging.ApplyEnv(logCfg)

	memory.SetDefault(memory.NewAllocator(c.Memory.LimitBytes))

	if c.Metrics.Enabled {
		observability.RegisterMetrics()
	}
}
