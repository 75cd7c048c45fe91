// Package command issues remote start, stop and reset requests and follows
// their effect through the reconciliation cascade.
//
// A successful dispatch only means the backend accepted the command for
// delivery. The effect is confirmed, or reported unconfirmed, by forcing
// re-polls of the charger on the cascade schedule.
package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/adapter/queue"
	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/observability/telemetry"
	"github.com/seu-repo/sigec-ve-client/internal/ports"
	"github.com/seu-repo/sigec-ve-client/internal/service/cascade"
)

// Target is the per-charger state a command acts on.
type Target interface {
	ChargePointID() string
	// State returns the latest charge point, session reference and transaction.
	State() (*domain.ChargePoint, domain.SessionReference, *domain.Transaction)
	// PrepareStart discards the current reference and the remembered id.
	PrepareStart(ctx context.Context)
	// Invalidate drops cached copies of the charge point, of the transaction of
	// prior and of the current transaction.
	Invalidate(ctx context.Context, prior domain.SessionReference)
	// Observe forces a charge point refetch followed by a transaction refetch.
	Observe(ctx context.Context) (*domain.ChargePoint, *domain.Transaction, error)
	SetCommandStatus(status domain.CommandStatus)
	// Spawn runs fn in the session scope. fn's context is cancelled on dismiss.
	Spawn(fn func(ctx context.Context))
}

// Receipt acknowledges that the backend accepted a command for delivery.
type Receipt struct {
	ID            string               `json:"id"`
	Kind          domain.CommandKind   `json:"kind"`
	ChargePointID string               `json:"charge_point_id"`
	TransactionID domain.TransactionID `json:"transaction_id,omitempty"`
	AcceptedAt    time.Time            `json:"accepted_at"`
}

// Goal reports whether an observation shows the command's effect.
type Goal func(cp *domain.ChargePoint, tx *domain.Transaction) bool

type Dispatcher struct {
	api      ports.ChargerAPI
	schedule cascade.Schedule
	clock    clockwork.Clock
	mq       queue.MessageQueue
	log      *zap.Logger

	mu       sync.Mutex
	inFlight map[string]domain.CommandKind
}

func NewDispatcher(api ports.ChargerAPI, schedule cascade.Schedule, clock clockwork.Clock, mq queue.MessageQueue, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		api:      api,
		schedule: schedule,
		clock:    clock,
		mq:       mq,
		log:      log,
		inFlight: make(map[string]domain.CommandKind),
	}
}

// Start requests a remote start. The charger must be connected, Preparing and
// without a current transaction. The remembered session is cleared as soon as
// the preconditions pass, before the backend answers.
func (d *Dispatcher) Start(ctx context.Context, t Target, connectorID int, idTag string) (*Receipt, error) {
	if connectorID <= 0 {
		connectorID = 1
	}
	cp, _, _ := t.State()
	switch {
	case cp == nil:
		return nil, d.precondition(domain.CommandStart, "charge point state unknown")
	case idTag == "":
		return nil, d.precondition(domain.CommandStart, "id tag is required")
	case !cp.Connected:
		return nil, d.precondition(domain.CommandStart, "charge point is not connected")
	case cp.HasCurrentTransaction():
		return nil, d.precondition(domain.CommandStart, fmt.Sprintf("transaction %s already running", cp.CurrentTransaction))
	case cp.Status != domain.ChargePointStatusPreparing:
		return nil, d.precondition(domain.CommandStart, fmt.Sprintf("charge point is %s, expected %s", cp.Status, domain.ChargePointStatusPreparing))
	}

	return d.dispatch(ctx, t, domain.CommandStart, 0, startGoal, func(ctx context.Context) error {
		t.PrepareStart(ctx)
		return d.api.RemoteStart(ctx, t.ChargePointID(), connectorID, idTag)
	})
}

// Stop requests a remote stop of the charger's current transaction.
func (d *Dispatcher) Stop(ctx context.Context, t Target, reason string) (*Receipt, error) {
	cp, _, tx := t.State()
	if cp == nil {
		return nil, d.precondition(domain.CommandStop, "charge point state unknown")
	}
	if !cp.HasCurrentTransaction() {
		return nil, d.precondition(domain.CommandStop, "no transaction in progress")
	}
	running := tx != nil && tx.ID == cp.CurrentTransaction && tx.IsRunning()
	if cp.Status != domain.ChargePointStatusCharging && !running {
		return nil, d.precondition(domain.CommandStop, fmt.Sprintf("charge point is %s and transaction is not running", cp.Status))
	}

	txID := cp.CurrentTransaction
	return d.dispatch(ctx, t, domain.CommandStop, txID, stopGoal(txID), func(ctx context.Context) error {
		return d.api.RemoteStop(ctx, t.ChargePointID(), txID, reason)
	})
}

// Reset requests a Soft or Hard reset of a connected charger.
func (d *Dispatcher) Reset(ctx context.Context, t Target, resetType domain.ResetType) (*Receipt, error) {
	if resetType == "" {
		resetType = domain.ResetSoft
	}
	if resetType != domain.ResetSoft && resetType != domain.ResetHard {
		return nil, d.precondition(domain.CommandReset, fmt.Sprintf("invalid reset type %q", resetType))
	}
	cp, _, _ := t.State()
	if cp == nil || !cp.Connected {
		return nil, d.precondition(domain.CommandReset, "charge point is not connected")
	}

	return d.dispatch(ctx, t, domain.CommandReset, 0, resetGoal, func(ctx context.Context) error {
		return d.api.Reset(ctx, t.ChargePointID(), resetType)
	})
}

func (d *Dispatcher) precondition(kind domain.CommandKind, msg string) error {
	telemetry.CommandsTotal.WithLabelValues(string(kind), string(domain.KindPreconditionFailed)).Inc()
	return fmt.Errorf("%w: %s", domain.ErrPreconditionFailed, msg)
}

func (d *Dispatcher) acquire(chargePointID string, kind domain.CommandKind) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if running, ok := d.inFlight[chargePointID]; ok {
		return fmt.Errorf("%w: %s command for %s", domain.ErrAlreadyInProgress, running, chargePointID)
	}
	d.inFlight[chargePointID] = kind
	return nil
}

func (d *Dispatcher) release(chargePointID string) {
	d.mu.Lock()
	delete(d.inFlight, chargePointID)
	d.mu.Unlock()
}

func (d *Dispatcher) dispatch(
	ctx context.Context,
	t Target,
	kind domain.CommandKind,
	txID domain.TransactionID,
	goal Goal,
	send func(ctx context.Context) error,
) (*Receipt, error) {
	id := t.ChargePointID()
	if err := d.acquire(id, kind); err != nil {
		telemetry.CommandsTotal.WithLabelValues(string(kind), string(domain.KindAlreadyInProgress)).Inc()
		return nil, err
	}

	_, prior, _ := t.State()
	err := send(ctx)
	d.release(id)

	if err != nil {
		err = classify(err)
		telemetry.CommandsTotal.WithLabelValues(string(kind), string(domain.KindOf(err))).Inc()
		d.log.Warn("Command not accepted",
			zap.String("charge_point_id", id),
			zap.String("command", string(kind)),
			zap.Error(err),
		)
		return nil, err
	}

	now := d.clock.Now()
	receipt := &Receipt{
		ID:            uuid.NewString(),
		Kind:          kind,
		ChargePointID: id,
		TransactionID: txID,
		AcceptedAt:    now,
	}
	telemetry.CommandsTotal.WithLabelValues(string(kind), "accepted").Inc()
	d.log.Info("Command accepted for delivery",
		zap.String("charge_point_id", id),
		zap.String("command", string(kind)),
		zap.String("command_id", receipt.ID),
	)

	t.Invalidate(ctx, prior)

	status := domain.CommandStatus{
		ID:            receipt.ID,
		Kind:          kind,
		ChargePointID: id,
		TransactionID: txID,
		State:         domain.CommandPending,
		AcceptedAt:    now,
		UpdatedAt:     now,
	}
	t.SetCommandStatus(status)
	t.Spawn(func(ctx context.Context) {
		d.reconcile(ctx, t, status, goal)
	})

	return receipt, nil
}

// reconcile runs the cascade for an accepted command and records its outcome.
func (d *Dispatcher) reconcile(ctx context.Context, t Target, status domain.CommandStatus, goal Goal) {
	result := d.schedule.Run(ctx, d.clock, func(ctx context.Context, attempt int) bool {
		cp, tx, err := t.Observe(ctx)
		if err != nil {
			d.log.Debug("Cascade observation failed",
				zap.String("charge_point_id", status.ChargePointID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return false
		}
		return goal(cp, tx)
	})

	switch result.Outcome {
	case cascade.OutcomeObserved:
		status.State = domain.CommandConfirmed
	case cascade.OutcomeExhausted:
		status.State = domain.CommandUnconfirmed
		status.Message = domain.UnconfirmedMessage
	default:
		status.State = domain.CommandCancelled
	}
	status.Steps = result.Steps
	status.UpdatedAt = d.clock.Now()

	telemetry.CascadeOutcomes.WithLabelValues(string(status.Kind), string(result.Outcome)).Inc()
	telemetry.CascadeSteps.Observe(float64(result.Steps))

	if status.State == domain.CommandUnconfirmed {
		d.log.Warn("Command effect not observed, may have failed",
			zap.String("charge_point_id", status.ChargePointID),
			zap.String("command", string(status.Kind)),
			zap.Int("steps", result.Steps),
		)
	}

	t.SetCommandStatus(status)
	if err := queue.PublishJSON(d.mq, domain.SubjectCommandOutcome, domain.CommandOutcomeEvent{Command: status}); err != nil {
		d.log.Warn("Failed to publish command outcome", zap.Error(err))
	}
}

func startGoal(cp *domain.ChargePoint, tx *domain.Transaction) bool {
	return cp.HasCurrentTransaction() && tx != nil && tx.ID == cp.CurrentTransaction && tx.IsRunning()
}

func stopGoal(stopped domain.TransactionID) Goal {
	return func(cp *domain.ChargePoint, tx *domain.Transaction) bool {
		return tx != nil && tx.ID == stopped && tx.IsTerminal()
	}
}

func resetGoal(cp *domain.ChargePoint, tx *domain.Transaction) bool {
	return cp != nil && cp.Connected && cp.Status == domain.ChargePointStatusAvailable
}

// classify makes sure a command failure carries one of the command error
// kinds. Errors of unknown origin are treated as transient.
func classify(err error) error {
	for _, known := range []error{
		domain.ErrNotConnected,
		domain.ErrDeviceRejected,
		domain.ErrTransient,
		domain.ErrNotFound,
		domain.ErrUnauthorized,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrTransient, err)
}
