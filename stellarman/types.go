package stellarman

// Operation is one escrow action the signer turns into a signed
// transaction envelope.
type Operation interface {
	OperationType() string
}

// CreateEscrowOp creates a claimable balance whose claim predicate
// commits to a hash. The digest is supplied by the caller in whatever
// scheme the escrow verifies; this package does not rehash it.
type CreateEscrowOp struct {
	OrderKey     string // coordinator order reference, set as balance memo
	Asset        string // "native" or CODE:ISSUER
	Amount       string // base units as a decimal string
	Claimant     string
	RefundTo     string
	Hashlock     string // hex digest the claim predicate commits to
	TimelockUnix int64  // refund becomes possible at this time
	AllowPartial bool
}

func (CreateEscrowOp) OperationType() string { return "create_escrow" }

// ClaimEscrowOp claims from a balance with a pre-image. An empty
// Amount claims everything that remains.
type ClaimEscrowOp struct {
	BalanceID string
	Preimage  string // hex
	Amount    string
}

func (ClaimEscrowOp) OperationType() string { return "claim_escrow" }

// ClawbackEscrowOp returns remaining funds to the refund address once
// the timelock has passed.
type ClawbackEscrowOp struct {
	BalanceID string
}

func (ClawbackEscrowOp) OperationType() string { return "clawback_escrow" }

// Signer builds and signs a transaction envelope for the source
// account. Implementations own key material and XDR encoding; this
// package only talks to Horizon.
type Signer interface {
	Sign(sourceAccount string, sequence int64, op Operation) (envelope string, err error)
}

// Horizon wire shapes, trimmed to the fields the adapter reads.

type horizonAccount struct {
	ID       string `json:"id"`
	Sequence string `json:"sequence"`
}

type horizonTransaction struct {
	ID         string `json:"id"`
	Hash       string `json:"hash"`
	Ledger     int64  `json:"ledger"`
	Successful bool   `json:"successful"`
	Memo       string `json:"memo"`
}

type horizonBalance struct {
	ID     string `json:"id"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type horizonProblem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Extras struct {
		ResultCodes struct {
			Transaction string   `json:"transaction"`
			Operations  []string `json:"operations"`
		} `json:"result_codes"`
	} `json:"extras"`
}
