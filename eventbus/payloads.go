package eventbus

// Payload is the tagged-variant interface: one struct per event type,
// decoded once at the transport boundary and typed everywhere else.
type Payload interface {
	EventType() EventType
}

type OrderCreatedPayload struct {
	OrderID       string `json:"orderId"`
	SrcChain      string `json:"srcChain"`
	DstChain      string `json:"dstChain"`
	Amount        string `json:"amount"`
	Hashlock      string `json:"hashlock"`
	Timelock      int64  `json:"timelock"`
	FragmentCount int    `json:"fragmentCount"`
}

func (OrderCreatedPayload) EventType() EventType { return EventOrderCreated }

type OrderFilledPayload struct {
	OrderID    string `json:"orderId"`
	Resolver   string `json:"resolver"`
	FillAmount string `json:"fillAmount"`
	TxHash     string `json:"txHash,omitempty"`
}

func (OrderFilledPayload) EventType() EventType { return EventOrderFilled }

type OrderFilledPartiallyPayload struct {
	OrderID        string `json:"orderId"`
	FragmentIndex  int    `json:"fragmentIndex"`
	Resolver       string `json:"resolver"`
	FillAmount     string `json:"fillAmount"`
	FilledTotal    string `json:"filledTotal"`
	Remaining      string `json:"remaining"`
	FillPercentage int    `json:"fillPercentage"`
}

func (OrderFilledPartiallyPayload) EventType() EventType { return EventOrderFilledPartially }

type OrderCancelledPayload struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

func (OrderCancelledPayload) EventType() EventType { return EventOrderCancelled }

type OrderInvalidPayload struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

func (OrderInvalidPayload) EventType() EventType { return EventOrderInvalid }

type OrderBalanceChangePayload struct {
	OrderID    string `json:"orderId"`
	ChainID    string `json:"chainId"`
	NewBalance string `json:"newBalance"`
}

func (OrderBalanceChangePayload) EventType() EventType { return EventOrderBalanceChange }

type OrderAllowanceChangePayload struct {
	OrderID      string `json:"orderId"`
	ChainID      string `json:"chainId"`
	NewAllowance string `json:"newAllowance"`
}

func (OrderAllowanceChangePayload) EventType() EventType { return EventOrderAllowanceChange }

// SecretSharedPayload carries the commitment only; raw pre-images are
// handed out through getSecrets, never broadcast.
type SecretSharedPayload struct {
	OrderID       string `json:"orderId"`
	FragmentIndex int    `json:"fragmentIndex"`
	SecretHash    string `json:"secretHash"`
	Resolver      string `json:"resolver,omitempty"`
}

func (SecretSharedPayload) EventType() EventType { return EventSecretShared }

type ProgressUpdatePayload struct {
	OrderID string `json:"orderId"`
	Stage   string `json:"stage"`
	Detail  string `json:"detail,omitempty"`
}

func (ProgressUpdatePayload) EventType() EventType { return EventProgressUpdate }

type RecommendationGeneratedPayload struct {
	OrderID        string `json:"orderId"`
	Recommendation string `json:"recommendation"`
	CurrentPrice   string `json:"currentPrice,omitempty"`
}

func (RecommendationGeneratedPayload) EventType() EventType { return EventRecommendationGenerated }

// FragmentReadyPayload announces that the next fragment became
// fillable after its predecessor was consumed.
type FragmentReadyPayload struct {
	OrderID       string `json:"orderId"`
	FragmentIndex int    `json:"fragmentIndex"`
	FillAmount    string `json:"fillAmount"`
	SecretHash    string `json:"secretHash"`
}

func (FragmentReadyPayload) EventType() EventType { return EventFragmentReady }
