package stellarman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/FusionX-io/bridge-go/chain"
)

// horizonClient is a thin REST client over the handful of Horizon
// endpoints the adapter needs.
type horizonClient struct {
	baseURL string
	http    *http.Client
}

func newHorizonClient(baseURL string, httpClient *http.Client) *horizonClient {
	return &horizonClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (hc *horizonClient) Account(ctx context.Context, id string) (*horizonAccount, error) {
	var acc horizonAccount
	if err := hc.get(ctx, "/accounts/"+url.PathEscape(id), &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (hc *horizonClient) Transaction(ctx context.Context, hash string) (*horizonTransaction, error) {
	var tx horizonTransaction
	if err := hc.get(ctx, "/transactions/"+url.PathEscape(hash), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (hc *horizonClient) ClaimableBalance(ctx context.Context, id string) (*horizonBalance, error) {
	var cb horizonBalance
	if err := hc.get(ctx, "/claimable_balances/"+url.PathEscape(id), &cb); err != nil {
		return nil, err
	}
	return &cb, nil
}

// SubmitTransaction posts a signed envelope. Horizon answers with the
// transaction record on success and a problem document on failure.
func (hc *horizonClient) SubmitTransaction(ctx context.Context, envelope string) (*horizonTransaction, error) {
	form := url.Values{"tx": {envelope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		hc.baseURL+"/transactions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := hc.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, problemToError(resp.StatusCode, body)
	}

	var tx horizonTransaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (hc *horizonClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := hc.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return chain.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return problemToError(resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}

// problemToError folds a Horizon problem document into the adapter
// error taxonomy.
func problemToError(status int, body []byte) error {
	var prob horizonProblem
	if err := json.Unmarshal(body, &prob); err != nil {
		return fmt.Errorf("horizon status %d", status)
	}

	for _, code := range prob.Extras.ResultCodes.Operations {
		switch code {
		case "op_underfunded", "tx_insufficient_balance":
			return chain.ErrInsufficientFunds
		case "op_already_claimed":
			return chain.ErrAlreadyClaimed
		case "op_already_clawed_back":
			return chain.ErrAlreadyRefunded
		case "op_predicate_not_satisfied":
			return chain.ErrNotYetExpired
		case "op_invalid_preimage", "op_invalid_proof":
			return chain.ErrInvalidProof
		case "op_does_not_exist", "op_no_claimable_balance":
			return chain.ErrNotFound
		}
	}
	if prob.Extras.ResultCodes.Transaction == "tx_insufficient_balance" {
		return chain.ErrInsufficientFunds
	}
	if prob.Title != "" {
		return errors.New("horizon: " + prob.Title)
	}
	return fmt.Errorf("horizon status %d", status)
}
