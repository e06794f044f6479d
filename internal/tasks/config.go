package tasks

import "time"

// Config tunes the background import queue. Imports are bursty and
// IO-bound, so the defaults favor few workers with generous timeouts.
type Config struct {
	// Workers is the number of concurrent import workers. Default: 2
	Workers int

	// MaxRetries is the maximum attempts for a failed import. Default: 3
	MaxRetries int

	// RetryDelay is the backoff between import attempts. Default: 1m
	RetryDelay time.Duration

	// TaskTimeout bounds a single import run. Default: 5m
	TaskTimeout time.Duration

	// ReleaseAfter is when a stuck import is released back to the queue.
	// Default: 15m
	ReleaseAfter time.Duration

	// CleanupInterval is how often finished imports are swept. Default: 1h
	CleanupInterval time.Duration

	// RetentionDuration is how long finished imports stay queryable.
	// Default: 24h
	RetentionDuration time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           2,
		MaxRetries:        3,
		RetryDelay:        1 * time.Minute,
		TaskTimeout:       5 * time.Minute,
		ReleaseAfter:      15 * time.Minute,
		CleanupInterval:   1 * time.Hour,
		RetentionDuration: 24 * time.Hour,
	}
}
