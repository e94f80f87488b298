package state

import "time"

type Config struct {
	// Accepted window for an order's absolute timelock, relative to
	// the coordinator clock at creation.
	MinTimelockWindow time.Duration
	MaxTimelockWindow time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		MinTimelockWindow: 30 * time.Minute,
		MaxTimelockWindow: 7 * 24 * time.Hour,
	}
}
