package recovery

import (
	"context"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"github.com/FusionX-io/bridge-go/bridge"
	"github.com/FusionX-io/bridge-go/eventbus"
	"github.com/FusionX-io/bridge-go/state"
)

// Monitor owns the recovery state machine. A periodic scan queues a
// timeout_refund for every order stuck past timelock+grace; manual
// escalations enter the same execute/retry pipeline through Trigger.
type Monitor struct {
	cfg   *Config
	store *state.Store
	orc   *bridge.Orchestrator
	bus   *eventbus.Bus
	reqdb *RequestDB

	// Now is the monitor clock, swappable in tests.
	Now func() time.Time
}

func NewMonitor(cfg *Config, store *state.Store, orc *bridge.Orchestrator, bus *eventbus.Bus, reqdb *RequestDB) *Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Monitor{
		cfg:   cfg,
		store: store,
		orc:   orc,
		bus:   bus,
		reqdb: reqdb,
		Now:   time.Now,
	}
}

// Start runs the scan loop until the context is cancelled. Runs on its
// own timer; never blocks request handling.
func (m *Monitor) Start(ctx context.Context) error {
	logger.Info("starting recovery monitor")
	defer logger.Info("stopped recovery monitor")

	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.ProcessOnce(ctx); err != nil {
				logger.Errorf("recovery pass failed: err=%v", err)
			}
		}
	}
}

// ProcessOnce runs one scan + execution pass. Exposed so tests and the
// manual trigger path can drive the monitor without the ticker.
func (m *Monitor) ProcessOnce(ctx context.Context) error {
	if err := m.scan(); err != nil {
		return err
	}
	return m.executeDue(ctx)
}

// scan marks expired orders and queues automatic timeout refunds.
// Running it twice never creates a duplicate request for an order.
func (m *Monitor) scan() error {
	orders, err := m.store.ListActive()
	if err != nil {
		return err
	}

	now := m.Now()
	for _, o := range orders {
		if now.Before(o.Timelock) {
			continue
		}

		if o.Status != state.OrderStatusExpired {
			if _, err := m.store.SetStatus(o.ID, state.OrderStatusExpired); err != nil {
				logger.Errorf("failed to mark order expired: order=%s err=%v", o.ID, err)
				continue
			}
		}

		if now.Before(o.Timelock.Add(m.cfg.GracePeriod)) {
			continue
		}
		if o.SrcOnchainID == "" && o.DstOnchainID == "" {
			// nothing was ever locked, no funds to recover
			continue
		}

		exists, err := m.reqdb.HasRequest(o.ID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		if err := m.enqueue(o.ID, TypeTimeoutRefund, "recovery-monitor", "timelock expired without fill"); err != nil {
			return err
		}
		logger.WithFields(logger.Fields{"order": o.ID}).Warn("queued automatic timeout refund")
	}
	return nil
}

func (m *Monitor) enqueue(orderID string, rtype RecoveryType, initiator, reason string) error {
	now := m.Now().UTC()
	req := &Request{
		ID:            uuid.NewString(),
		OrderID:       orderID,
		Type:          rtype,
		Status:        StatusPending,
		Initiator:     initiator,
		Reason:        reason,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.reqdb.Insert(req); err != nil {
		return err
	}

	m.bus.Publish(eventbus.ProgressUpdatePayload{
		OrderID: orderID,
		Stage:   "recovery_queued",
		Detail:  string(rtype) + ": " + reason,
	}, eventbus.Metadata{OrderID: orderID, Urgent: true})
	return nil
}

// Trigger starts a manual recovery. force_recovery is owner-gated: the
// initiator must be on the configured operator list.
func (m *Monitor) Trigger(ctx context.Context, orderID string, rtype RecoveryType, initiator, reason string) error {
	if !rtype.Valid() {
		return ErrBadRecoveryType
	}
	if rtype == TypeForceRecovery && !m.isOperator(initiator) {
		return ErrUnauthorized
	}
	if _, err := m.store.GetOrder(orderID); err != nil {
		return err
	}

	exists, err := m.reqdb.HasRequest(orderID)
	if err != nil {
		return err
	}
	if exists {
		return ErrRequestExists
	}

	if err := m.enqueue(orderID, rtype, initiator, reason); err != nil {
		return err
	}
	return m.executeDue(ctx)
}

func (m *Monitor) isOperator(initiator string) bool {
	for _, op := range m.cfg.Operators {
		if op == initiator {
			return true
		}
	}
	return false
}

// executeDue drives every pending request whose backoff has elapsed
// through the refund pipeline.
func (m *Monitor) executeDue(ctx context.Context) error {
	due, err := m.reqdb.Due(m.Now())
	if err != nil {
		return err
	}

	for _, req := range due {
		m.execute(ctx, req)
	}
	return nil
}

func (m *Monitor) execute(ctx context.Context, req *Request) {
	newLogger := logger.WithFields(logger.Fields{
		"request": req.ID,
		"order":   req.OrderID,
		"type":    string(req.Type),
		"attempt": req.RetryCount + 1,
	})

	req.Status = StatusInProgress
	req.UpdatedAt = m.Now().UTC()
	if err := m.reqdb.Update(req); err != nil {
		newLogger.Errorf("failed to mark request in progress: err=%v", err)
		return
	}

	// Refund both chains; the orchestrator only reports success once
	// both legs landed, so a half-refunded order keeps retrying here.
	_, err := m.orc.RefundOrder(ctx, req.OrderID, req.Type.bypassesTimelock())
	if err == nil {
		req.Status = StatusCompleted
		req.UpdatedAt = m.Now().UTC()
		if err := m.reqdb.Update(req); err != nil {
			newLogger.Errorf("failed to mark request completed: err=%v", err)
			return
		}
		m.bus.Publish(eventbus.ProgressUpdatePayload{
			OrderID: req.OrderID,
			Stage:   "recovery_completed",
			Detail:  string(req.Type),
		}, eventbus.Metadata{OrderID: req.OrderID})
		newLogger.Info("recovery completed")
		return
	}

	req.RetryCount++
	req.UpdatedAt = m.Now().UTC()
	if req.RetryCount > m.cfg.MaxRetries {
		req.Status = StatusFailed
		if uerr := m.reqdb.Update(req); uerr != nil {
			newLogger.Errorf("failed to mark request failed: err=%v", uerr)
			return
		}
		// operator-visible alert; the order stays recoverable
		newLogger.Errorf("recovery permanently failed after %d attempts: err=%v", req.RetryCount, err)
		m.bus.Publish(eventbus.OrderInvalidPayload{
			OrderID: req.OrderID,
			Reason:  "recovery failed permanently: " + err.Error(),
		}, eventbus.Metadata{OrderID: req.OrderID, Urgent: true})
		return
	}

	req.Status = StatusPending
	req.NextAttemptAt = m.Now().Add(time.Duration(req.RetryCount) * m.cfg.RetryDelay).UTC()
	if uerr := m.reqdb.Update(req); uerr != nil {
		newLogger.Errorf("failed to reschedule request: err=%v", uerr)
		return
	}
	newLogger.Warnf("recovery attempt failed, rescheduled: err=%v", err)
}

// Requests exposes the audit trail for the RPC statistics surface.
func (m *Monitor) Requests(orderID string) ([]*Request, error) {
	return m.reqdb.ListByOrder(orderID)
}
