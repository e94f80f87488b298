package rpc

import (
	"encoding/json"
	"errors"

	"github.com/FusionX-io/bridge-go/auction"
	"github.com/FusionX-io/bridge-go/bridge"
	"github.com/FusionX-io/bridge-go/recovery"
	"github.com/FusionX-io/bridge-go/state"
)

const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32000
	CodeRateLimited    = -32005
)

type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

func errResponse(id json.RawMessage, code int, message, data string) *Response {
	return &Response{ID: id, Error: &Error{Code: code, Message: message, Data: data}}
}

func okResponse(id json.RawMessage, result interface{}) *Response {
	return &Response{ID: id, Result: result}
}

// Stable app codes carried in error data. Clients switch on these, not
// on message text.
var appCodes = []struct {
	err  error
	code int
	data string
}{
	{state.ErrOrderNotFound, CodeInvalidParams, "order_not_found"},
	{state.ErrOrderExists, CodeInvalidParams, "order_exists"},
	{state.ErrAmountInvalid, CodeInvalidParams, "amount_invalid"},
	{state.ErrHashlockInvalid, CodeInvalidParams, "hashlock_invalid"},
	{state.ErrTimelockOutOfRange, CodeInvalidParams, "timelock_out_of_range"},
	{state.ErrChainMissing, CodeInvalidParams, "chain_missing"},
	{state.ErrAddressMissing, CodeInvalidParams, "address_missing"},
	{state.ErrOrderNotFillable, CodeInvalidParams, "order_not_fillable"},
	{state.ErrOrderTerminal, CodeInvalidParams, "order_terminal"},
	{state.ErrBadTransition, CodeInvalidParams, "bad_transition"},
	{state.ErrFragmentNotFound, CodeInvalidParams, "fragment_not_found"},
	{state.ErrFragmentBusy, CodeInvalidParams, "fragment_busy"},
	{state.ErrSecretNotReleasable, CodeInvalidParams, "secret_not_releasable"},
	{bridge.ErrTimelockNotPassed, CodeInvalidParams, "timelock_not_passed"},
	{bridge.ErrCancelNotAllowed, CodeInvalidParams, "cancel_not_allowed"},
	{recovery.ErrBadRecoveryType, CodeInvalidParams, "bad_recovery_type"},
	{recovery.ErrUnauthorized, CodeInvalidParams, "unauthorized"},
	{recovery.ErrRequestExists, CodeInvalidParams, "recovery_exists"},
	{auction.ErrBadDuration, CodeInvalidParams, "auction_invalid"},
	{auction.ErrBadPriceBounds, CodeInvalidParams, "auction_invalid"},
	{auction.ErrUnsortedPoints, CodeInvalidParams, "auction_invalid"},
	{auction.ErrBadCoefficient, CodeInvalidParams, "auction_invalid"},
	{auction.ErrPointPastEnd, CodeInvalidParams, "auction_invalid"},
	{auction.ErrNegativeRateBump, CodeInvalidParams, "auction_invalid"},
}

// mapError turns internal errors into wire errors. Known sentinels keep
// their message and a stable data code; anything else is masked so
// internals never cross the boundary.
func mapError(err error) *Error {
	for _, m := range appCodes {
		if errors.Is(err, m.err) {
			return &Error{Code: m.code, Message: m.err.Error(), Data: m.data}
		}
	}
	return &Error{Code: CodeInternalError, Message: "internal error"}
}
