package config

import (
	"time"
)

const (
	bootstrapTimeoutVar = "BOOTSTRAP_TIMEOUT"
	recoveryDebounceVar = "RECOVERY_DEBOUNCE"
	rateLimitBackoffVar = "RATE_LIMIT_BACKOFF"

	// Defaults are tunable, not load-bearing: bootstrap must resolve within
	// a few seconds even against a dead provider, and repeated environment
	// signals within the debounce window coalesce into one re-validation.
	defaultBootstrapTimeout = 8 * time.Second
	defaultRecoveryDebounce = 2 * time.Second
	defaultRateLimitBackoff = 30 * time.Second
)

type EngineConfig interface {
	GetBootstrapTimeout() time.Duration
	GetRecoveryDebounce() time.Duration
	GetRateLimitBackoff() time.Duration
}

type Engine struct{}

var _ EngineConfig = Engine{}

func (Engine) GetBootstrapTimeout() time.Duration {
	return getDuration(bootstrapTimeoutVar, defaultBootstrapTimeout)
}

func (Engine) GetRecoveryDebounce() time.Duration {
	return getDuration(recoveryDebounceVar, defaultRecoveryDebounce)
}

func (Engine) GetRateLimitBackoff() time.Duration {
	return getDuration(rateLimitBackoffVar, defaultRateLimitBackoff)
}

func getDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := GetEnv(envVar, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
