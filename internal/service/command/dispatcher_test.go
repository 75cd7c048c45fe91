package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/mocks"
	"github.com/seu-repo/sigec-ve-client/internal/service/cascade"
)

type fakeTarget struct {
	mu       sync.Mutex
	cp       *domain.ChargePoint
	ref      domain.SessionReference
	tx       *domain.Transaction
	events   []string
	dropped  []domain.SessionReference
	statuses []domain.CommandStatus
	observe  func(attempt int) (*domain.ChargePoint, *domain.Transaction, error)
	observed int
	done     chan struct{}
	ctx      context.Context
}

func newFakeTarget(cp *domain.ChargePoint) *fakeTarget {
	return &fakeTarget{cp: cp, ref: domain.NoSession(), done: make(chan struct{}), ctx: context.Background()}
}

func (f *fakeTarget) record(e string) {
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
}

func (f *fakeTarget) ChargePointID() string { return "CP-1" }

func (f *fakeTarget) State() (*domain.ChargePoint, domain.SessionReference, *domain.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cp, f.ref, f.tx
}

func (f *fakeTarget) PrepareStart(ctx context.Context) {
	f.mu.Lock()
	f.ref = domain.NoSession()
	f.mu.Unlock()
	f.record("prepare_start")
}
func (f *fakeTarget) Invalidate(ctx context.Context, prior domain.SessionReference) {
	f.mu.Lock()
	f.dropped = append(f.dropped, prior)
	f.mu.Unlock()
	f.record("invalidate")
}

func (f *fakeTarget) Observe(ctx context.Context) (*domain.ChargePoint, *domain.Transaction, error) {
	f.mu.Lock()
	f.observed++
	n := f.observed
	f.mu.Unlock()
	if f.observe != nil {
		return f.observe(n)
	}
	return f.cp, f.tx, nil
}

func (f *fakeTarget) SetCommandStatus(s domain.CommandStatus) {
	f.mu.Lock()
	f.statuses = append(f.statuses, s)
	f.mu.Unlock()
}

func (f *fakeTarget) Spawn(fn func(ctx context.Context)) {
	go func() {
		defer close(f.done)
		fn(f.ctx)
	}()
}

func (f *fakeTarget) firstStatus() domain.CommandStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[0]
}

func (f *fakeTarget) hasEvent(e string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.events {
		if got == e {
			return true
		}
	}
	return false
}

func (f *fakeTarget) lastStatus() domain.CommandStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[len(f.statuses)-1]
}

func (f *fakeTarget) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("cascade did not finish")
	}
}

func preparing() *domain.ChargePoint {
	return &domain.ChargePoint{ID: "CP-1", Status: domain.ChargePointStatusPreparing, Connected: true}
}

func charging(tx domain.TransactionID) *domain.ChargePoint {
	return &domain.ChargePoint{ID: "CP-1", Status: domain.ChargePointStatusCharging, Connected: true, CurrentTransaction: tx}
}

func newDispatcher(api *mocks.MockBackendAPI, clock clockwork.Clock, mq *mocks.MockMessageQueue) *Dispatcher {
	if mq == nil {
		mq = mocks.NewMockMessageQueue()
	}
	return NewDispatcher(api, cascade.DefaultSchedule(), clock, mq, zap.NewNop())
}

func TestStart_PreconditionsFailWithoutNetworkCall(t *testing.T) {
	tests := []struct {
		name string
		cp   *domain.ChargePoint
	}{
		{"unknown state", nil},
		{"offline", &domain.ChargePoint{Status: domain.ChargePointStatusPreparing}},
		{"available", &domain.ChargePoint{Status: domain.ChargePointStatusAvailable, Connected: true}},
		{"already charging", charging(42)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := mocks.NewMockBackendAPI()
			target := newFakeTarget(tt.cp)
			d := newDispatcher(api, clockwork.NewFakeClock(), nil)

			_, err := d.Start(context.Background(), target, 1, "TAG")

			assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
			assert.Equal(t, 0, api.TotalCalls())
			assert.Empty(t, target.events, "remembered session must survive a rejected start")
		})
	}
}

func TestStop_PreconditionsFailWithoutNetworkCall(t *testing.T) {
	api := mocks.NewMockBackendAPI()
	d := newDispatcher(api, clockwork.NewFakeClock(), nil)

	_, err := d.Stop(context.Background(), newFakeTarget(preparing()), "")
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	finishing := charging(42)
	finishing.Status = domain.ChargePointStatusFinishing
	_, err = d.Stop(context.Background(), newFakeTarget(finishing), "")
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	assert.Equal(t, 0, api.TotalCalls())
}

func TestStop_AllowedWhenTransactionRunning(t *testing.T) {
	api := mocks.NewMockBackendAPI()
	cp := charging(42)
	cp.Status = domain.ChargePointStatusSuspendedEV
	target := newFakeTarget(cp)
	target.tx = &domain.Transaction{ID: 42, Status: domain.TransactionStatusRunning}
	target.observe = func(int) (*domain.ChargePoint, *domain.Transaction, error) {
		return preparing(), &domain.Transaction{ID: 42, Status: domain.TransactionStatusCompleted}, nil
	}
	clock := clockwork.NewFakeClock()
	d := newDispatcher(api, clock, nil)

	receipt, err := d.Stop(context.Background(), target, "Remote")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionID(42), receipt.TransactionID)

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	target.wait(t)

	assert.Equal(t, domain.CommandConfirmed, target.lastStatus().State)
	assert.Equal(t, 1, target.lastStatus().Steps)
}

func TestStart_ClearsRememberedBeforeNetworkCall(t *testing.T) {
	api := mocks.NewMockBackendAPI()
	target := newFakeTarget(preparing())
	api.RemoteStartFunc = func(ctx context.Context, id string, connector int, tag string) error {
		target.record("remote_start")
		return domain.ErrTransient
	}
	d := newDispatcher(api, clockwork.NewFakeClock(), nil)

	_, err := d.Start(context.Background(), target, 1, "TAG")

	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, []string{"prepare_start", "remote_start"}, target.events)
}

func TestStart_InvalidatesPriorTransaction(t *testing.T) {
	api := mocks.NewMockBackendAPI()
	target := newFakeTarget(preparing())
	target.ref = domain.SessionReference{TransactionID: 41, Provenance: domain.ProvenanceRecent}
	d := newDispatcher(api, clockwork.NewFakeClock(), nil)

	_, err := d.Start(context.Background(), target, 1, "TAG")
	require.NoError(t, err)

	target.mu.Lock()
	defer target.mu.Unlock()
	require.Len(t, target.dropped, 1)
	assert.Equal(t, domain.TransactionID(41), target.dropped[0].TransactionID)
}

func TestStart_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not connected", domain.ErrNotConnected, domain.ErrNotConnected},
		{"rejected", domain.ErrDeviceRejected, domain.ErrDeviceRejected},
		{"unknown error is transient", errors.New("connection reset"), domain.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := mocks.NewMockBackendAPI()
			api.RemoteStartFunc = func(ctx context.Context, id string, connector int, tag string) error {
				return tt.err
			}
			d := newDispatcher(api, clockwork.NewFakeClock(), nil)

			receipt, err := d.Start(context.Background(), newFakeTarget(preparing()), 1, "TAG")

			assert.Nil(t, receipt)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, api.CallCount("RemoteStart"), "commands are never retried")
		})
	}
}

func TestDispatch_SecondCommandWhileInFlight(t *testing.T) {
	api := mocks.NewMockBackendAPI()
	entered := make(chan struct{})
	gate := make(chan struct{})
	api.RemoteStartFunc = func(ctx context.Context, id string, connector int, tag string) error {
		close(entered)
		<-gate
		return nil
	}
	d := newDispatcher(api, clockwork.NewFakeClock(), nil)
	target := newFakeTarget(preparing())

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Start(context.Background(), target, 1, "TAG")
		errCh <- err
	}()
	<-entered

	_, err := d.Start(context.Background(), newFakeTarget(preparing()), 1, "TAG")
	assert.ErrorIs(t, err, domain.ErrAlreadyInProgress)

	close(gate)
	require.NoError(t, <-errCh)
	assert.Equal(t, 1, api.CallCount("RemoteStart"))
}

func TestStart_CascadeConfirmsOnGoal(t *testing.T) {
	api := mocks.NewMockBackendAPI()
	clock := clockwork.NewFakeClock()
	mq := mocks.NewMockMessageQueue()
	target := newFakeTarget(preparing())
	target.observe = func(n int) (*domain.ChargePoint, *domain.Transaction, error) {
		if n < 3 {
			return preparing(), nil, nil
		}
		return charging(42), &domain.Transaction{ID: 42, Status: domain.TransactionStatusRunning}, nil
	}
	d := newDispatcher(api, clock, mq)

	receipt, err := d.Start(context.Background(), target, 1, "TAG")
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.ID)
	assert.Equal(t, domain.CommandPending, target.firstStatus().State)
	assert.True(t, target.hasEvent("invalidate"))

	for _, step := range []time.Duration{time.Second, time.Second, 2 * time.Second} {
		clock.BlockUntil(1)
		clock.Advance(step)
	}
	target.wait(t)

	final := target.lastStatus()
	assert.Equal(t, domain.CommandConfirmed, final.State)
	assert.Equal(t, 3, final.Steps)
	assert.Len(t, mq.GetPublishedMessages(domain.SubjectCommandOutcome), 1)
}

func TestReset_CascadeExhaustedIsUnconfirmed(t *testing.T) {
	api := mocks.NewMockBackendAPI()
	clock := clockwork.NewFakeClock()
	target := newFakeTarget(&domain.ChargePoint{ID: "CP-1", Status: domain.ChargePointStatusFaulted, Connected: true})
	d := newDispatcher(api, clock, nil)

	_, err := d.Reset(context.Background(), target, domain.ResetHard)
	require.NoError(t, err)

	for _, step := range []time.Duration{time.Second, time.Second, 2 * time.Second, 4 * time.Second} {
		clock.BlockUntil(1)
		clock.Advance(step)
	}
	target.wait(t)

	assert.Equal(t, domain.CommandUnconfirmed, target.lastStatus().State)
	assert.Equal(t, domain.UnconfirmedMessage, target.lastStatus().Message)
	assert.Equal(t, 4, target.lastStatus().Steps)
	assert.Equal(t, 4, target.observed)
}

func TestReset_InvalidType(t *testing.T) {
	api := mocks.NewMockBackendAPI()
	d := newDispatcher(api, clockwork.NewFakeClock(), nil)

	_, err := d.Reset(context.Background(), newFakeTarget(preparing()), domain.ResetType("Warm"))

	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
	assert.Equal(t, 0, api.TotalCalls())
}
