package etherman

import "time"

type Config struct {
	// URL is the URL of the Ethereum node
	URL string

	// EscrowContractAddress is the deployed HTLC escrow contract address in hex string
	EscrowContractAddress string

	// PrivateKey of the coordinator account in hex, signs lock/claim/refund transactions
	PrivateKey string

	// GasLimit for escrow transactions; 0 lets the node estimate
	GasLimit uint64

	// ConfirmAttempts bounds receipt polling; past it the tx is reported unconfirmed
	ConfirmAttempts int

	// ConfirmInterval between receipt polls
	ConfirmInterval time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		ConfirmAttempts: 30,
		ConfirmInterval: 2 * time.Second,
	}
}
