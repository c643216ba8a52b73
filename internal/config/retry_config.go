// Package config defines retry configuration derived from the RETRY_*
// settings. Neither the download chain nor the credit-finalize retry reads
// it: the chain tries each strategy once, and the finalize retry in
// internal/worker/pipeline.go uses its own fixed backoff policy.
package config

import (
	"time"
)

// RetryConfig holds exponential-backoff retry configuration.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// GetRetryConfig returns the retry configuration derived from Config.
func (c Config) GetRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   c.RetryMaxRetries,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryMultiplier,
	}
}
