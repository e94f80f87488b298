package recovery

import (
	"errors"
	"time"
)

type RecoveryType string

const (
	TypeTimeoutRefund    RecoveryType = "timeout_refund"
	TypeEmergencyRefund  RecoveryType = "emergency_refund"
	TypePublicWithdrawal RecoveryType = "public_withdrawal"
	TypeForceRecovery    RecoveryType = "force_recovery"
)

func (t RecoveryType) Valid() bool {
	switch t {
	case TypeTimeoutRefund, TypeEmergencyRefund, TypePublicWithdrawal, TypeForceRecovery:
		return true
	}
	return false
}

// Manual escalations skip the timelock gate on the orchestrator;
// only the automatic timeout path honors it.
func (t RecoveryType) bypassesTimelock() bool {
	return t != TypeTimeoutRefund
}

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
)

// Request is one recovery attempt record; append-only audit trail,
// terminal once completed or permanently failed.
type Request struct {
	ID            string
	OrderID       string
	Type          RecoveryType
	Status        RequestStatus
	Initiator     string
	Reason        string
	RetryCount    int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var (
	ErrBadRecoveryType = errors.New("unknown recovery type")
	ErrUnauthorized    = errors.New("initiator not authorized for force recovery")
	ErrRequestExists   = errors.New("recovery already open for this order")
	ErrRequestNotFound = errors.New("recovery request not found")
)
