package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/adapter/queue"
	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/ports"
	"github.com/seu-repo/sigec-ve-client/internal/service/command"
	"github.com/seu-repo/sigec-ve-client/internal/service/poller"
)

// Settler builds the billing view of a terminal transaction.
type Settler interface {
	Settle(ctx context.Context, tx *domain.Transaction) (*domain.Settlement, error)
}

// Intervals configures the polling cadence of a tracker.
type Intervals struct {
	ChargePointActive time.Duration
	ChargePointIdle   time.Duration
	Transaction       time.Duration
	MeterValues       time.Duration
	MeterWindow       int
}

func DefaultIntervals() Intervals {
	return Intervals{
		ChargePointActive: 2 * time.Second,
		ChargePointIdle:   3 * time.Second,
		Transaction:       2 * time.Second,
		MeterValues:       3 * time.Second,
		MeterWindow:       20,
	}
}

// Tracker reconciles the charge point, transaction and meter pollers of one
// charger into a single session view.
//
// Pollers run in the tracker scope and stop on Close. Cascades and settlement
// run in the session scope, which Dismiss cancels and renews.
type Tracker struct {
	id        string
	api       ports.ChargerAPI
	resolver  *Resolver
	resources *ResourceCache
	billing   Settler
	mq        queue.MessageQueue
	clock     clockwork.Clock
	intervals Intervals
	log       *zap.Logger

	cp    *poller.Poller[*domain.ChargePoint]
	tx    *poller.Poller[*domain.Transaction]
	meter *poller.Poller[*domain.MeterWindow]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	closed        bool
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	ref           domain.SessionReference
	// superseded is the reference discarded by the last start or dismiss. A
	// recent transaction equal to it is ignored until a new current one shows up.
	superseded   domain.TransactionID
	terminal     map[domain.TransactionID]*domain.Transaction
	settlement   *domain.Settlement
	settling     bool
	command      *domain.CommandStatus
	listeners    map[int]chan View
	nextListener int
}

func newTracker(
	ctx context.Context,
	id string,
	deps Dependencies,
	intervals Intervals,
	log *zap.Logger,
) (*Tracker, error) {
	log = log.With(zap.String("charge_point_id", id))

	resolver, err := NewResolver(ctx, id, deps.Store, log)
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		id:        id,
		api:       deps.API,
		resolver:  resolver,
		resources: deps.Resources,
		billing:   deps.Billing,
		mq:        deps.Queue,
		clock:     deps.Clock,
		intervals: intervals,
		log:       log,
		ref:       domain.NoSession(),
		terminal:  make(map[domain.TransactionID]*domain.Transaction),
		listeners: make(map[int]chan View),
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.sessionCtx, t.sessionCancel = context.WithCancel(t.ctx)

	t.cp = poller.New(poller.Config[*domain.ChargePoint]{
		Resource: ResourceChargePoint,
		Fetch:    t.fetchChargePoint,
		Policy:   t.chargePointPolicy,
		OnUpdate: t.onChargePoint,
	}, t.clock, log)
	t.tx = poller.New(poller.Config[*domain.Transaction]{
		Resource: ResourceTransaction,
		Fetch:    t.fetchTransaction,
		Policy:   t.sessionPolicy(intervals.Transaction),
		OnUpdate: t.onTransaction,
	}, t.clock, log)
	t.meter = poller.New(poller.Config[*domain.MeterWindow]{
		Resource: ResourceMeterValues,
		Fetch:    t.fetchMeter,
		Policy:   t.sessionPolicy(intervals.MeterValues),
		OnUpdate: t.onMeter,
	}, t.clock, log)

	return t, nil
}

// start launches the scheduled polling loops.
func (t *Tracker) start() {
	t.spawn(t.ctx, t.cp.Run)
	t.spawn(t.ctx, t.tx.Run)
	t.spawn(t.ctx, t.meter.Run)
}

// spawn runs fn in a goroutine tracked by Close.
func (t *Tracker) spawn(ctx context.Context, fn func(ctx context.Context)) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		fn(ctx)
	}()
}

func (t *Tracker) ChargePointID() string {
	return t.id
}

func (t *Tracker) reference() domain.SessionReference {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ref
}

func (t *Tracker) chargePointPolicy() (time.Duration, bool) {
	cp, _ := t.cp.Latest()
	if cp.HasCurrentTransaction() {
		return t.intervals.ChargePointActive, true
	}
	return t.intervals.ChargePointIdle, true
}

// sessionPolicy enables a dependent poller only while a reference exists and
// its transaction has not been seen terminal.
func (t *Tracker) sessionPolicy(interval time.Duration) poller.Policy {
	return func() (time.Duration, bool) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.ref.IsNone() {
			return interval, false
		}
		return interval, t.terminal[t.ref.TransactionID] == nil
	}
}

func (t *Tracker) fetchChargePoint(ctx context.Context) (*domain.ChargePoint, error) {
	cp, err := t.api.GetChargePoint(ctx, t.id)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, domain.ErrNotFound
	}
	return cp, nil
}

func (t *Tracker) fetchTransaction(ctx context.Context) (*domain.Transaction, error) {
	ref := t.reference()
	if ref.IsNone() {
		return nil, nil
	}
	tx, err := t.api.GetTransaction(ctx, ref.TransactionID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, domain.ErrNotFound
	}

	t.mu.Lock()
	seen := t.terminal[tx.ID]
	t.mu.Unlock()
	if seen != nil && !tx.IsTerminal() {
		t.log.Debug("Ignoring non-terminal observation of a terminal transaction",
			zap.Stringer("transaction_id", tx.ID),
			zap.String("status", string(tx.Status)),
		)
		return seen, nil
	}
	return tx, nil
}

func (t *Tracker) fetchMeter(ctx context.Context) (*domain.MeterWindow, error) {
	ref := t.reference()
	if ref.IsNone() {
		return nil, nil
	}
	samples, err := t.api.GetMeterValues(ctx, ref.TransactionID)
	if err != nil {
		return nil, err
	}
	w := domain.NewMeterWindow(samples, t.intervals.MeterWindow)
	return &w, nil
}

func (t *Tracker) onChargePoint(cp *domain.ChargePoint) {
	if cp == nil || t.ctx.Err() != nil {
		return
	}
	t.resources.Put(t.ctx, ResourceChargePoint, t.id, cp)

	ref := t.resolver.Resolve(t.ctx, cp)

	t.mu.Lock()
	if cp.HasCurrentTransaction() {
		t.superseded = 0
	}
	if ref.Provenance == domain.ProvenanceRecent && ref.TransactionID == t.superseded {
		ref = domain.NoSession()
		if rem := t.resolver.Remembered(); rem.Valid() && rem != t.superseded {
			ref = domain.SessionReference{TransactionID: rem, Provenance: domain.ProvenanceRemembered}
		}
	}

	prev := t.ref
	changed := prev != ref
	if changed {
		t.ref = ref
		if t.settlement != nil && t.settlement.TransactionID != ref.TransactionID {
			t.settlement = nil
		}
	}
	var unsettled *domain.Transaction
	if !ref.IsNone() && t.needsSettlementLocked(ref.TransactionID) {
		unsettled = t.terminal[ref.TransactionID]
	}
	sessionCtx := t.sessionCtx
	t.mu.Unlock()

	if changed {
		t.referenceChanged(sessionCtx, prev, ref)
	}
	if unsettled != nil {
		t.settle(unsettled)
	}
	t.notify()
}

func (t *Tracker) referenceChanged(sessionCtx context.Context, prev, ref domain.SessionReference) {
	t.tx.Reset()
	t.meter.Reset()

	t.log.Info("Session reference changed",
		zap.Stringer("from", prev.TransactionID),
		zap.String("from_provenance", string(prev.Provenance)),
		zap.Stringer("to", ref.TransactionID),
		zap.String("to_provenance", string(ref.Provenance)),
	)
	if err := queue.PublishJSON(t.mq, domain.SubjectSessionReference, domain.SessionReferenceEvent{
		ChargePointID: t.id,
		Previous:      prev,
		Current:       ref,
		At:            t.clock.Now(),
	}); err != nil {
		t.log.Warn("Failed to publish session reference", zap.Error(err))
	}

	if !ref.IsNone() {
		t.spawn(sessionCtx, func(ctx context.Context) {
			_, _ = t.tx.Refresh(ctx)
			_, _ = t.meter.Refresh(ctx)
		})
	}
}

func (t *Tracker) onTransaction(tx *domain.Transaction) {
	if t.ctx.Err() != nil {
		return
	}
	if tx != nil {
		t.resources.Put(t.ctx, ResourceTransaction, tx.ID.String(), tx)
	}
	if tx.IsTerminal() {
		t.mu.Lock()
		if t.terminal[tx.ID] == nil {
			t.terminal[tx.ID] = tx
		}
		need := tx.ID == t.ref.TransactionID && t.needsSettlementLocked(tx.ID)
		t.mu.Unlock()

		if need {
			t.settle(tx)
		}
	}
	t.notify()
}

func (t *Tracker) onMeter(w *domain.MeterWindow) {
	if t.ctx.Err() != nil {
		return
	}
	if ref := t.reference(); w != nil && !ref.IsNone() {
		t.resources.Put(t.ctx, ResourceMeterValues, ref.TransactionID.String(), w)
	}
	t.notify()
}

func (t *Tracker) needsSettlementLocked(id domain.TransactionID) bool {
	if t.billing == nil || t.settling || t.terminal[id] == nil {
		return false
	}
	return t.settlement == nil || t.settlement.TransactionID != id
}

// settle computes the billing view of tx once. A failed attempt is retried
// on the next charge point update.
func (t *Tracker) settle(tx *domain.Transaction) {
	t.mu.Lock()
	if t.settling {
		t.mu.Unlock()
		return
	}
	t.settling = true
	ctx := t.sessionCtx
	t.mu.Unlock()

	t.spawn(ctx, func(ctx context.Context) {
		s, err := t.billing.Settle(ctx, tx)

		t.mu.Lock()
		t.settling = false
		if err == nil && t.ref.TransactionID == tx.ID {
			t.settlement = s
		}
		t.mu.Unlock()

		if err != nil {
			t.log.Warn("Settlement failed, retrying on next update",
				zap.Stringer("transaction_id", tx.ID),
				zap.Error(err),
			)
			return
		}
		t.notify()
	})
}

// State returns the latest charge point, reference and transaction.
func (t *Tracker) State() (*domain.ChargePoint, domain.SessionReference, *domain.Transaction) {
	cp, _ := t.cp.Latest()
	tx, _ := t.tx.Latest()
	return cp, t.reference(), tx
}

// Snapshot returns the current view.
func (t *Tracker) Snapshot() View {
	cp, cpStatus := t.cp.Latest()
	tx, txStatus := t.tx.Latest()
	meter, meterStatus := t.meter.Latest()

	t.mu.Lock()
	defer t.mu.Unlock()

	v := View{
		ChargePointID:     t.id,
		ChargePoint:       cp,
		ChargePointStatus: cpStatus,
		Reference:         t.ref,
		Transaction:       tx,
		TransactionStatus: txStatus,
		Meter:             meter,
		MeterStatus:       meterStatus,
		Settlement:        t.settlement,
		UpdatedAt:         t.clock.Now(),
	}
	if t.command != nil {
		c := *t.command
		v.Command = &c
	}
	return v
}

// Observe forces a charge point refetch followed by a transaction refetch.
func (t *Tracker) Observe(ctx context.Context) (*domain.ChargePoint, *domain.Transaction, error) {
	cp, err := t.cp.Refresh(ctx)
	if err != nil {
		return nil, nil, err
	}
	if t.reference().IsNone() {
		return cp, nil, nil
	}
	tx, err := t.tx.Refresh(ctx)
	if err != nil {
		return cp, nil, err
	}
	return cp, tx, nil
}

// Refresh is the on-demand one-shot refresh of every resource of the session.
func (t *Tracker) Refresh(ctx context.Context) (View, error) {
	if _, _, err := t.Observe(ctx); err != nil {
		return t.Snapshot(), err
	}
	if !t.reference().IsNone() {
		_, _ = t.meter.Refresh(ctx)
	}
	return t.Snapshot(), nil
}

func (t *Tracker) loaded() bool {
	_, st := t.cp.Latest()
	return st.HasValue
}

// PrepareStart discards the reference and the remembered id before a start
// command goes out.
func (t *Tracker) PrepareStart(ctx context.Context) {
	t.discard(ctx, false)
}

// Dismiss discards the session, cancels its cascades and forgets the
// remembered id.
func (t *Tracker) Dismiss(ctx context.Context) error {
	return t.discard(ctx, true)
}

func (t *Tracker) discard(ctx context.Context, cancelSession bool) error {
	t.mu.Lock()
	prev := t.ref
	if prev.TransactionID.Valid() {
		t.superseded = prev.TransactionID
	}
	t.ref = domain.NoSession()
	t.settlement = nil
	if cancelSession {
		t.sessionCancel()
		t.sessionCtx, t.sessionCancel = context.WithCancel(t.ctx)
		t.command = nil
	}
	t.mu.Unlock()

	err := t.resolver.Clear(ctx)
	if err != nil {
		t.log.Warn("Failed to clear remembered session", zap.Error(err))
	}

	t.tx.Reset()
	t.meter.Reset()

	if prev != domain.NoSession() {
		t.referenceChanged(t.ctx, prev, domain.NoSession())
	}
	t.notify()
	return err
}

// Invalidate drops the cached charge point, the transaction of prior and the
// transaction of this session.
func (t *Tracker) Invalidate(ctx context.Context, prior domain.SessionReference) {
	t.resources.Invalidate(ctx, ResourceChargePoint, t.id)
	if !prior.IsNone() {
		t.resources.Invalidate(ctx, ResourceTransaction, prior.TransactionID.String())
	}
	if ref := t.reference(); !ref.IsNone() && ref.TransactionID != prior.TransactionID {
		t.resources.Invalidate(ctx, ResourceTransaction, ref.TransactionID.String())
	}
}

// SetCommandStatus records the state of the command being reconciled. Updates
// for a command other than the latest one are ignored.
func (t *Tracker) SetCommandStatus(status domain.CommandStatus) {
	t.mu.Lock()
	if status.State != domain.CommandPending && (t.command == nil || t.command.ID != status.ID) {
		t.mu.Unlock()
		return
	}
	t.command = &status
	t.mu.Unlock()

	t.notify()
}

// Spawn runs fn in the session scope.
func (t *Tracker) Spawn(fn func(ctx context.Context)) {
	t.mu.Lock()
	ctx := t.sessionCtx
	t.mu.Unlock()
	t.spawn(ctx, fn)
}

// Subscribe streams views of this session. The channel holds only the latest
// view and is closed by the returned cancel func or by Close.
func (t *Tracker) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	ch <- t.Snapshot()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := t.nextListener
	t.nextListener++
	t.listeners[id] = ch
	t.mu.Unlock()

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.listeners[id]; ok {
			delete(t.listeners, id)
			close(c)
		}
	}
}

func (t *Tracker) notify() {
	v := t.Snapshot()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.listeners {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// Close stops every goroutine of the tracker and closes its subscriptions.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for id, ch := range t.listeners {
		delete(t.listeners, id)
		close(ch)
	}
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
}

var _ command.Target = (*Tracker)(nil)
