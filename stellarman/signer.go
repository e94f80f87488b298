package stellarman

import (
	"encoding/base64"
	"encoding/json"
)

// JSONSigner encodes operations as base64 JSON envelopes. It serves
// escrow gateways that accept JSON submissions in place of XDR; a real
// Stellar network needs a Signer backed by key material and XDR
// encoding.
type JSONSigner struct {
	NetworkPassphrase string
}

type jsonEnvelope struct {
	Network  string    `json:"network"`
	Source   string    `json:"source"`
	Sequence int64     `json:"sequence"`
	Type     string    `json:"type"`
	Op       Operation `json:"op"`
}

func (js JSONSigner) Sign(sourceAccount string, sequence int64, op Operation) (string, error) {
	raw, err := json.Marshal(jsonEnvelope{
		Network:  js.NetworkPassphrase,
		Source:   sourceAccount,
		Sequence: sequence,
		Type:     op.OperationType(),
		Op:       op,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
