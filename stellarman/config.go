package stellarman

import "time"

type Config struct {
	// HorizonURL is the Horizon API endpoint
	HorizonURL string

	// NetworkPassphrase selects the Stellar network the signer targets
	NetworkPassphrase string

	// SourceAccount is the coordinator escrow account (G... address)
	SourceAccount string

	// ConfirmAttempts bounds transaction polling after submission
	ConfirmAttempts int

	// ConfirmInterval between transaction polls
	ConfirmInterval time.Duration

	// HTTPTimeout for individual Horizon requests
	HTTPTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		NetworkPassphrase: "Test SDF Network ; September 2015",
		ConfirmAttempts:   30,
		ConfirmInterval:   2 * time.Second,
		HTTPTimeout:       10 * time.Second,
	}
}
