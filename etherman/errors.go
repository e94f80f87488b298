package etherman

import (
	"errors"
	"strings"

	"github.com/FusionX-io/bridge-go/chain"
)

// ErrExecutionReverted covers a mined-but-failed escrow transaction
// where no revert reason made it into the receipt.
var ErrExecutionReverted = errors.New("escrow transaction reverted")

// Revert reason fragments the escrow contract emits, matched against
// the node's error text.
var revertMap = []struct {
	fragment string
	err      error
}{
	{"insufficient", chain.ErrInsufficientFunds},
	{"already claimed", chain.ErrAlreadyClaimed},
	{"already refunded", chain.ErrAlreadyRefunded},
	{"timelock not expired", chain.ErrNotYetExpired},
	{"invalid preimage", chain.ErrInvalidProof},
	{"invalid proof", chain.ErrInvalidProof},
	{"unknown lock", chain.ErrNotFound},
}

// mapContractErr folds node and revert errors into the adapter error
// taxonomy so the orchestrator never sees a chain-specific error.
func mapContractErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, m := range revertMap {
		if strings.Contains(msg, m.fragment) {
			return m.err
		}
	}
	return err
}
