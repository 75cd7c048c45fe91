package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/mocks"
	"github.com/seu-repo/sigec-ve-client/internal/service/cascade"
	"github.com/seu-repo/sigec-ve-client/internal/service/command"
)

// backend is a scripted charger whose snapshot tests replace at will.
type backend struct {
	api *mocks.MockBackendAPI

	mu  sync.Mutex
	cp  domain.ChargePoint
	txs map[domain.TransactionID]domain.Transaction
}

func newBackend(cp domain.ChargePoint) *backend {
	b := &backend{api: mocks.NewMockBackendAPI(), cp: cp, txs: make(map[domain.TransactionID]domain.Transaction)}
	b.api.GetChargePointFunc = func(ctx context.Context, id string) (*domain.ChargePoint, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		cp := b.cp
		return &cp, nil
	}
	b.api.GetTransactionFunc = func(ctx context.Context, id domain.TransactionID) (*domain.Transaction, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		tx, ok := b.txs[id]
		if !ok {
			return nil, domain.ErrNotFound
		}
		return &tx, nil
	}
	return b
}

func (b *backend) set(cp domain.ChargePoint, txs ...domain.Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cp = cp
	for _, tx := range txs {
		b.txs[tx.ID] = tx
	}
}

type settlerFunc func(ctx context.Context, tx *domain.Transaction) (*domain.Settlement, error)

func (f settlerFunc) Settle(ctx context.Context, tx *domain.Transaction) (*domain.Settlement, error) {
	return f(ctx, tx)
}

// slowIntervals keeps scheduled ticks out of the way of tests that drive the
// trackers through Refresh and the cascade.
func slowIntervals() Intervals {
	return Intervals{
		ChargePointActive: time.Hour,
		ChargePointIdle:   time.Hour,
		Transaction:       time.Hour,
		MeterValues:       time.Hour,
		MeterWindow:       5,
	}
}

type fixture struct {
	manager *Manager
	backend *backend
	store   *mocks.MockRememberedStore
	cache   *mocks.MockCache
	mq      *mocks.MockMessageQueue
	clock   clockwork.FakeClock
}

func newFixture(t *testing.T, cp domain.ChargePoint, billing Settler) *fixture {
	t.Helper()
	f := &fixture{
		backend: newBackend(cp),
		store:   mocks.NewMockRememberedStore(),
		cache:   mocks.NewMockCache(),
		mq:      mocks.NewMockMessageQueue(),
		clock:   clockwork.NewFakeClock(),
	}
	log := zap.NewNop()
	f.manager = NewManager(Dependencies{
		API:        f.backend.api,
		Store:      f.store,
		Resources:  NewResourceCache(f.cache, time.Hour, f.clock, log),
		Billing:    billing,
		Dispatcher: command.NewDispatcher(f.backend.api, cascade.DefaultSchedule(), f.clock, f.mq, log),
		Queue:      f.mq,
		Clock:      f.clock,
	}, slowIntervals(), log)
	t.Cleanup(f.manager.Close)
	return f
}

func preparingCP() domain.ChargePoint {
	return domain.ChargePoint{ID: "CP-1", Status: domain.ChargePointStatusPreparing, Connected: true}
}

func chargingCP(id domain.TransactionID) domain.ChargePoint {
	return domain.ChargePoint{ID: "CP-1", Status: domain.ChargePointStatusCharging, Connected: true, CurrentTransaction: id}
}

func running(id domain.TransactionID) domain.Transaction {
	return domain.Transaction{ID: id, ChargePointID: "CP-1", Status: domain.TransactionStatusRunning}
}

func completedTx(id domain.TransactionID) domain.Transaction {
	return domain.Transaction{ID: id, ChargePointID: "CP-1", Status: domain.TransactionStatusCompleted}
}

func TestManager_StartConfirmedAsCurrentSession(t *testing.T) {
	f := newFixture(t, preparingCP(), nil)
	ctx := context.Background()
	f.backend.api.RemoteStartFunc = func(ctx context.Context, id string, connector int, tag string) error {
		f.backend.set(chargingCP(42), running(42))
		return nil
	}

	view, err := f.manager.ResolveSession(ctx, "CP-1")
	require.NoError(t, err)
	assert.True(t, view.Reference.IsNone())

	receipt, err := f.manager.DispatchStart(ctx, "CP-1", 1, "TAG-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CommandStart, receipt.Kind)

	// three polling loops plus the cascade
	f.clock.BlockUntil(4)
	f.clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		v, _ := f.manager.ResolveSession(ctx, "CP-1")
		return v.Command != nil && v.Command.State == domain.CommandConfirmed
	}, 2*time.Second, 10*time.Millisecond)

	view, err = f.manager.ResolveSession(ctx, "CP-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionReference{TransactionID: 42, Provenance: domain.ProvenanceCurrent}, view.Reference)
	require.NotNil(t, view.Transaction)
	assert.Equal(t, domain.TransactionStatusRunning, view.Transaction.Status)
	assert.Equal(t, 1, view.Command.Steps)

	remembered, _ := f.store.Get(ctx, "CP-1")
	assert.Equal(t, domain.TransactionID(42), remembered)
	assert.NotEmpty(t, f.mq.GetPublishedMessages(domain.SubjectSessionReference))
}

func TestManager_RecentIgnoredAfterStartUntilNewCurrent(t *testing.T) {
	cp := preparingCP()
	cp.RecentTransaction = 41
	f := newFixture(t, cp, nil)
	f.backend.set(cp, completedTx(41))
	ctx := context.Background()

	view, err := f.manager.ResolveSession(ctx, "CP-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionReference{TransactionID: 41, Provenance: domain.ProvenanceRecent}, view.Reference)

	_, err = f.manager.DispatchStart(ctx, "CP-1", 1, "TAG-1")
	require.NoError(t, err)

	view, err = f.manager.Refresh(ctx, "CP-1")
	require.NoError(t, err)
	assert.True(t, view.Reference.IsNone(), "stale recent transaction must not come back after a start")

	f.backend.set(chargingCP(42), running(42))
	view, err = f.manager.Refresh(ctx, "CP-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionReference{TransactionID: 42, Provenance: domain.ProvenanceCurrent}, view.Reference)
}

func TestManager_StartPreconditionKeepsRemembered(t *testing.T) {
	f := newFixture(t, domain.ChargePoint{ID: "CP-1", Status: domain.ChargePointStatusAvailable, Connected: true}, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, "CP-1", 40))
	f.backend.set(domain.ChargePoint{ID: "CP-1", Status: domain.ChargePointStatusAvailable, Connected: true}, completedTx(40))

	_, err := f.manager.DispatchStart(ctx, "CP-1", 1, "TAG-1")

	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
	assert.Equal(t, 0, f.backend.api.CallCount("RemoteStart"))
	remembered, _ := f.store.Get(ctx, "CP-1")
	assert.Equal(t, domain.TransactionID(40), remembered)
}

func TestManager_RememberedThenDismiss(t *testing.T) {
	f := newFixture(t, chargingCP(42), nil)
	f.backend.set(chargingCP(42), running(42))
	ctx := context.Background()

	view, err := f.manager.ResolveSession(ctx, "CP-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProvenanceCurrent, view.Reference.Provenance)

	f.backend.set(domain.ChargePoint{ID: "CP-1", Status: domain.ChargePointStatusAvailable, Connected: true}, completedTx(42))
	view, err = f.manager.Refresh(ctx, "CP-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionReference{TransactionID: 42, Provenance: domain.ProvenanceRemembered}, view.Reference)

	require.NoError(t, f.manager.Dismiss(ctx, "CP-1"))
	view, err = f.manager.Refresh(ctx, "CP-1")
	require.NoError(t, err)
	assert.True(t, view.Reference.IsNone())

	remembered, _ := f.store.Get(ctx, "CP-1")
	assert.False(t, remembered.Valid())
}

func TestManager_TerminalTransactionSettledOnceAndNeverRunningAgain(t *testing.T) {
	var settles atomic.Int32
	billing := settlerFunc(func(ctx context.Context, tx *domain.Transaction) (*domain.Settlement, error) {
		settles.Add(1)
		return &domain.Settlement{TransactionID: tx.ID, State: domain.SettlementNoBillingRequired}, nil
	})
	cp := domain.ChargePoint{ID: "CP-1", Status: domain.ChargePointStatusFinishing, Connected: true, RecentTransaction: 42}
	f := newFixture(t, cp, billing)
	f.backend.set(cp, completedTx(42))
	ctx := context.Background()

	_, err := f.manager.Refresh(ctx, "CP-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, _ := f.manager.ResolveSession(ctx, "CP-1")
		return v.Settlement != nil
	}, 2*time.Second, 10*time.Millisecond)

	f.backend.set(cp, running(42))
	view, err := f.manager.Refresh(ctx, "CP-1")
	require.NoError(t, err)

	require.NotNil(t, view.Transaction)
	assert.Equal(t, domain.TransactionStatusCompleted, view.Transaction.Status)
	assert.Equal(t, int32(1), settles.Load())
}

func TestManager_InvalidChargePointID(t *testing.T) {
	f := newFixture(t, preparingCP(), nil)

	_, err := f.manager.ResolveSession(context.Background(), "CP 1/../x")

	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
	assert.Equal(t, 0, f.backend.api.TotalCalls())
}

func TestManager_UnknownChargerNotTracked(t *testing.T) {
	f := newFixture(t, preparingCP(), nil)
	f.backend.api.GetChargePointFunc = func(ctx context.Context, id string) (*domain.ChargePoint, error) {
		return nil, domain.ErrNotFound
	}

	_, err := f.manager.ResolveSession(context.Background(), "CP-9")

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.manager.Tracked())
}

func TestManager_UnknownChargerReleasedOnEveryEntryPoint(t *testing.T) {
	f := newFixture(t, preparingCP(), nil)
	f.backend.api.GetChargePointFunc = func(ctx context.Context, id string) (*domain.ChargePoint, error) {
		return nil, domain.ErrNotFound
	}
	ctx := context.Background()

	_, err := f.manager.Refresh(ctx, "CP-9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.manager.Tracked())

	err = f.manager.Dismiss(ctx, "CP-8")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.manager.Tracked())

	_, _, err = f.manager.Subscribe(ctx, "CP-7")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.manager.Tracked())
}

func TestManager_SubscribeSurvivesTransientFirstFetch(t *testing.T) {
	f := newFixture(t, preparingCP(), nil)
	f.backend.api.GetChargePointFunc = func(ctx context.Context, id string) (*domain.ChargePoint, error) {
		return nil, domain.ErrTransient
	}

	ch, cancel, err := f.manager.Subscribe(context.Background(), "CP-1")
	require.NoError(t, err)
	defer cancel()

	<-ch
	assert.Equal(t, []string{"CP-1"}, f.manager.Tracked())
}

func outcomes(t *testing.T, mq *mocks.MockMessageQueue) []domain.CommandStatus {
	t.Helper()
	var out []domain.CommandStatus
	for _, raw := range mq.GetPublishedMessages(domain.SubjectCommandOutcome) {
		var ev domain.CommandOutcomeEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev.Command)
	}
	return out
}

func TestManager_DismissCancelsCascade(t *testing.T) {
	f := newFixture(t, preparingCP(), nil)
	ctx := context.Background()

	_, err := f.manager.DispatchStart(ctx, "CP-1", 1, "TAG-1")
	require.NoError(t, err)
	f.clock.BlockUntil(4)

	require.NoError(t, f.manager.Dismiss(ctx, "CP-1"))

	require.Eventually(t, func() bool {
		return len(outcomes(t, f.mq)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.CommandCancelled, outcomes(t, f.mq)[0].State)

	before := f.backend.api.CallCount("GetChargePoint")
	f.clock.Advance(10 * time.Second)

	assert.Never(t, func() bool {
		return f.backend.api.CallCount("GetChargePoint") != before
	}, 100*time.Millisecond, 10*time.Millisecond)

	view, err := f.manager.ResolveSession(ctx, "CP-1")
	require.NoError(t, err)
	assert.Nil(t, view.Command)
}

func TestManager_StopConfirmedThroughTracker(t *testing.T) {
	f := newFixture(t, chargingCP(42), nil)
	f.backend.set(chargingCP(42), running(42))
	ctx := context.Background()
	f.backend.api.RemoteStopFunc = func(ctx context.Context, id string, txID domain.TransactionID, reason string) error {
		f.backend.set(domain.ChargePoint{
			ID:                "CP-1",
			Status:            domain.ChargePointStatusFinishing,
			Connected:         true,
			RecentTransaction: txID,
		}, completedTx(txID))
		return nil
	}

	_, err := f.manager.ResolveSession(ctx, "CP-1")
	require.NoError(t, err)

	receipt, err := f.manager.DispatchStop(ctx, "CP-1", "Local")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionID(42), receipt.TransactionID)

	f.clock.BlockUntil(4)
	f.clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		v, _ := f.manager.ResolveSession(ctx, "CP-1")
		return v.Command != nil && v.Command.State == domain.CommandConfirmed
	}, 2*time.Second, 10*time.Millisecond)

	view, err := f.manager.ResolveSession(ctx, "CP-1")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Command.Steps)
	assert.Equal(t, domain.SessionReference{TransactionID: 42, Provenance: domain.ProvenanceRecent}, view.Reference)
}

func TestManager_CachedChargePoint(t *testing.T) {
	f := newFixture(t, preparingCP(), nil)
	ctx := context.Background()

	_, err := f.manager.Cached(ctx, "CP-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.manager.ResolveSession(ctx, "CP-1")
	require.NoError(t, err)

	entry, err := f.manager.Cached(ctx, "CP-1")
	require.NoError(t, err)
	assert.Equal(t, ResourceChargePoint, entry.Type)
	assert.True(t, f.clock.Now().Equal(entry.FetchedAt))
	assert.Contains(t, string(entry.Value), `"Preparing"`)
}

func TestManager_ReleaseClosesSubscriptions(t *testing.T) {
	f := newFixture(t, preparingCP(), nil)
	ctx := context.Background()

	ch, cancel, err := f.manager.Subscribe(ctx, "CP-1")
	require.NoError(t, err)
	defer cancel()

	<-ch // initial view
	f.manager.Release("CP-1")

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Empty(t, f.manager.Tracked())
}
