package recovery

import "time"

type Config struct {
	// ScanInterval paces the automatic expiry scan.
	ScanInterval time.Duration

	// GracePeriod past the order timelock before an automatic
	// timeout_refund is queued.
	GracePeriod time.Duration

	// MaxRetries bounds failed executions per request; past it the
	// request stays failed permanently and is surfaced as an alert.
	MaxRetries int

	// RetryDelay is the base backoff between attempts; attempt n waits
	// n * RetryDelay.
	RetryDelay time.Duration

	// Operators may trigger force_recovery. Owner-gated by decision,
	// not time-gated.
	Operators []string
}

func DefaultConfig() *Config {
	return &Config{
		ScanInterval: 30 * time.Second,
		GracePeriod:  5 * time.Minute,
		MaxRetries:   3,
		RetryDelay:   time.Minute,
	}
}
