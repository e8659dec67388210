// Package config loads and validates service configuration. It uses koanf
// to merge an optional YAML file with SPORTAI_-prefixed environment
// variables; environment values take precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds every knob the hosting application supplies to the auth
// subsystem. Nothing security-relevant is hard-coded in the components.
type Config struct {
	// Server
	Addr string `koanf:"addr"`
	Env  string `koanf:"env"`

	// Storage. Empty DSN selects the in-memory store (dev only).
	PostgresDSN string `koanf:"postgres_dsn"`

	// Credential hashing
	Pepper         string `koanf:"pepper"`
	HashIterations int    `koanf:"hash_iterations"`

	// Lockout
	MaxLoginAttempts int           `koanf:"max_login_attempts"`
	LockoutDuration  time.Duration `koanf:"lockout_duration"`

	// Sessions
	SessionAbsoluteTTL time.Duration `koanf:"session_absolute_ttl"`
	SessionIdleTTL     time.Duration `koanf:"session_idle_ttl"`

	// Password composition rules
	PasswordMinLength      int  `koanf:"password_min_length"`
	PasswordRequireUpper   bool `koanf:"password_require_upper"`
	PasswordRequireLower   bool `koanf:"password_require_lower"`
	PasswordRequireDigit   bool `koanf:"password_require_digit"`
	PasswordRequireSpecial bool `koanf:"password_require_special"`

	// Login rate limiting (per client IP)
	RateLimitPerSecond int `koanf:"rate_limit_per_second"`
	RateLimitBurst     int `koanf:"rate_limit_burst"`

	// Optional initial administrator, created at startup if absent. Without
	// it a fresh deployment has no identity that can provision others.
	BootstrapAdminEmail    string `koanf:"bootstrap_admin_email"`
	BootstrapAdminPassword string `koanf:"bootstrap_admin_password"`
}

// Validation errors.
var (
	ErrMissingPepper      = errors.New("SPORTAI_PEPPER is required")
	ErrWeakIterations     = errors.New("SPORTAI_HASH_ITERATIONS must be at least 100000")
	ErrInvalidThreshold   = errors.New("SPORTAI_MAX_LOGIN_ATTEMPTS must be at least 1")
	ErrInvalidLockout     = errors.New("SPORTAI_LOCKOUT_DURATION must be positive")
	ErrInvalidSessionTTLs = errors.New("session idle TTL must not exceed the absolute TTL")
)

// Defaults for non-secret knobs.
const (
	DefaultAddr               = ":8080"
	DefaultEnv                = "development"
	DefaultHashIterations     = 210000
	DefaultMaxLoginAttempts   = 5
	DefaultLockoutDuration    = 15 * time.Minute
	DefaultSessionAbsoluteTTL = 24 * time.Hour
	DefaultSessionIdleTTL     = time.Hour
	DefaultPasswordMinLength  = 8
	DefaultRateLimitPerSecond = 5
	DefaultRateLimitBurst     = 10
)

const envPrefix = "SPORTAI_"

// Load reads configuration from an optional YAML file and the environment.
// It returns the config and a slice of validation errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("load config file %s: %w", configFilePath, err)}
		}
	}

	cfg := &Config{
		Addr:                   stringOr(k, "addr", "ADDR", DefaultAddr),
		Env:                    stringOr(k, "env", "ENV", DefaultEnv),
		PostgresDSN:            stringOr(k, "postgres_dsn", "PG_DSN", ""),
		Pepper:                 stringOr(k, "pepper", "PEPPER", ""),
		PasswordRequireUpper:   boolOr(k, "password_require_upper", "PASSWORD_REQUIRE_UPPER", true),
		PasswordRequireLower:   boolOr(k, "password_require_lower", "PASSWORD_REQUIRE_LOWER", true),
		PasswordRequireDigit:   boolOr(k, "password_require_digit", "PASSWORD_REQUIRE_DIGIT", true),
		PasswordRequireSpecial: boolOr(k, "password_require_special", "PASSWORD_REQUIRE_SPECIAL", true),
		BootstrapAdminEmail:    stringOr(k, "bootstrap_admin_email", "BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword: stringOr(k, "bootstrap_admin_password", "BOOTSTRAP_ADMIN_PASSWORD", ""),
	}

	var errs []error
	appendInt := func(dst *int, key, env string, def int) {
		v, err := intOr(k, key, env, def)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = v
	}
	appendDur := func(dst *time.Duration, key, env string, def time.Duration) {
		v, err := durationOr(k, key, env, def)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = v
	}

	appendInt(&cfg.HashIterations, "hash_iterations", "HASH_ITERATIONS", DefaultHashIterations)
	appendInt(&cfg.MaxLoginAttempts, "max_login_attempts", "MAX_LOGIN_ATTEMPTS", DefaultMaxLoginAttempts)
	appendInt(&cfg.PasswordMinLength, "password_min_length", "PASSWORD_MIN_LENGTH", DefaultPasswordMinLength)
	appendInt(&cfg.RateLimitPerSecond, "rate_limit_per_second", "RATE_LIMIT_PER_SECOND", DefaultRateLimitPerSecond)
	appendInt(&cfg.RateLimitBurst, "rate_limit_burst", "RATE_LIMIT_BURST", DefaultRateLimitBurst)
	appendDur(&cfg.LockoutDuration, "lockout_duration", "LOCKOUT_DURATION", DefaultLockoutDuration)
	appendDur(&cfg.SessionAbsoluteTTL, "session_absolute_ttl", "SESSION_ABSOLUTE_TTL", DefaultSessionAbsoluteTTL)
	appendDur(&cfg.SessionIdleTTL, "session_idle_ttl", "SESSION_IDLE_TTL", DefaultSessionIdleTTL)

	errs = append(errs, cfg.validate()...)
	return cfg, errs
}

func (c *Config) validate() []error {
	var errs []error
	if strings.TrimSpace(c.Pepper) == "" {
		errs = append(errs, ErrMissingPepper)
	}
	if c.HashIterations < 100000 {
		errs = append(errs, ErrWeakIterations)
	}
	if c.MaxLoginAttempts < 1 {
		errs = append(errs, ErrInvalidThreshold)
	}
	if c.LockoutDuration <= 0 {
		errs = append(errs, ErrInvalidLockout)
	}
	if c.SessionIdleTTL > c.SessionAbsoluteTTL {
		errs = append(errs, ErrInvalidSessionTTLs)
	}
	return errs
}

func stringOr(k *koanf.Koanf, key, env, def string) string {
	if v := os.Getenv(envPrefix + env); v != "" {
		return v
	}
	if k.Exists(key) {
		return k.String(key)
	}
	return def
}

func boolOr(k *koanf.Koanf, key, env string, def bool) bool {
	if v := os.Getenv(envPrefix + env); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err == nil {
			return parsed
		}
	}
	if k.Exists(key) {
		return k.Bool(key)
	}
	return def
}

func intOr(k *koanf.Koanf, key, env string, def int) (int, error) {
	if v := os.Getenv(envPrefix + env); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return def, fmt.Errorf("%s%s must be an integer: %w", envPrefix, env, err)
		}
		return parsed, nil
	}
	if k.Exists(key) {
		return k.Int(key), nil
	}
	return def, nil
}

func durationOr(k *koanf.Koanf, key, env string, def time.Duration) (time.Duration, error) {
	if v := os.Getenv(envPrefix + env); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return def, fmt.Errorf("%s%s must be a duration: %w", envPrefix, env, err)
		}
		return d, nil
	}
	if k.Exists(key) {
		d, err := parseDuration(k.String(key))
		if err != nil {
			return def, fmt.Errorf("%s must be a duration: %w", key, err)
		}
		return d, nil
	}
	return def, nil
}

// parseDuration accepts Go duration strings; bare integers are treated as
// seconds, matching the knobs the hosting application historically
// supplied. The same rule applies to env and file values, so
// "lockout_duration: 900" means 900 seconds, never 900 nanoseconds.
func parseDuration(v string) (time.Duration, error) {
	parsed, err := time.ParseDuration(v)
	if err != nil {
		secs, serr := strconv.Atoi(v)
		if serr != nil {
			return 0, err
		}
		return time.Duration(secs) * time.Second, nil
	}
	return parsed, nil
}
