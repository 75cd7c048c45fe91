package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/adapter/queue"
	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/observability/telemetry"
	"github.com/seu-repo/sigec-ve-client/internal/ports"
	"github.com/seu-repo/sigec-ve-client/internal/service/command"
)

var chargePointIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("session manager closed")

// Dependencies are the collaborators shared by every tracker.
type Dependencies struct {
	API        ports.ChargerAPI
	Store      ports.RememberedStore
	Resources  *ResourceCache
	Billing    Settler
	Dispatcher *command.Dispatcher
	Queue      queue.MessageQueue
	Clock      clockwork.Clock
}

// Manager owns one Tracker per watched charger.
type Manager struct {
	deps      Dependencies
	intervals Intervals
	log       *zap.Logger

	mu       sync.Mutex
	trackers map[string]*Tracker
	closed   bool
}

func NewManager(deps Dependencies, intervals Intervals, log *zap.Logger) *Manager {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Manager{
		deps:      deps,
		intervals: intervals,
		log:       log,
		trackers:  make(map[string]*Tracker),
	}
}

func ValidateChargePointID(id string) error {
	if !chargePointIDPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid charge point id %q", domain.ErrPreconditionFailed, id)
	}
	return nil
}

func (m *Manager) tracker(ctx context.Context, id string) (*Tracker, error) {
	if err := ValidateChargePointID(id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if t, ok := m.trackers[id]; ok {
		return t, nil
	}

	t, err := newTracker(ctx, id, m.deps, m.intervals, m.log)
	if err != nil {
		return nil, err
	}
	t.start()
	m.trackers[id] = t
	telemetry.TrackedSessions.Inc()

	m.log.Info("Tracking charge point", zap.String("charge_point_id", id))
	return t, nil
}

// loadedTracker returns the tracker of id after its first charge point fetch.
// A charger unknown to the backend is not kept.
func (m *Manager) loadedTracker(ctx context.Context, id string) (*Tracker, error) {
	t, err := m.tracker(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.loaded() {
		return t, nil
	}
	if _, _, err := t.Observe(ctx); err != nil && !t.loaded() {
		m.releaseUnknown(t, err)
		return nil, fmt.Errorf("failed to load charge point %s: %w", id, err)
	}
	return t, nil
}

// releaseUnknown stops tracking t when its charge point was never loaded and
// err says the backend does not know it.
func (m *Manager) releaseUnknown(t *Tracker, err error) {
	if errors.Is(err, domain.ErrNotFound) && !t.loaded() {
		m.Release(t.ChargePointID())
	}
}

// ResolveSession returns the current view of a charger, starting to track it
// if needed.
func (m *Manager) ResolveSession(ctx context.Context, id string) (View, error) {
	t, err := m.loadedTracker(ctx, id)
	if err != nil {
		return View{}, err
	}
	return t.Snapshot(), nil
}

// Refresh forces a one-shot refresh of every resource of the session.
func (m *Manager) Refresh(ctx context.Context, id string) (View, error) {
	t, err := m.tracker(ctx, id)
	if err != nil {
		return View{}, err
	}
	view, err := t.Refresh(ctx)
	if err != nil {
		m.releaseUnknown(t, err)
	}
	return view, err
}

func (m *Manager) DispatchStart(ctx context.Context, id string, connectorID int, idTag string) (*command.Receipt, error) {
	t, err := m.loadedTracker(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.deps.Dispatcher.Start(ctx, t, connectorID, idTag)
}

func (m *Manager) DispatchStop(ctx context.Context, id string, reason string) (*command.Receipt, error) {
	t, err := m.loadedTracker(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.deps.Dispatcher.Stop(ctx, t, reason)
}

func (m *Manager) DispatchReset(ctx context.Context, id string, resetType domain.ResetType) (*command.Receipt, error) {
	t, err := m.loadedTracker(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.deps.Dispatcher.Reset(ctx, t, resetType)
}

// Dismiss discards the session reference of a charger and its remembered id.
func (m *Manager) Dismiss(ctx context.Context, id string) error {
	t, err := m.loadedTracker(ctx, id)
	if err != nil {
		return err
	}
	return t.Dismiss(ctx)
}

// Subscribe streams the views of a charger until cancel is called. Only a
// charger unknown to the backend fails the subscription.
func (m *Manager) Subscribe(ctx context.Context, id string) (<-chan View, func(), error) {
	t, err := m.tracker(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !t.loaded() {
		if _, _, err := t.Observe(ctx); errors.Is(err, domain.ErrNotFound) && !t.loaded() {
			m.releaseUnknown(t, err)
			return nil, nil, fmt.Errorf("failed to load charge point %s: %w", id, err)
		}
	}
	ch, cancel := t.Subscribe()
	return ch, cancel, nil
}

// Cached returns the last cached copy of a charger.
func (m *Manager) Cached(ctx context.Context, id string) (*CachedResource, error) {
	if err := ValidateChargePointID(id); err != nil {
		return nil, err
	}
	entry, err := m.deps.Resources.Get(ctx, ResourceChargePoint, id)
	if errors.Is(err, ports.ErrCacheMiss) {
		return nil, fmt.Errorf("%w: no cached charge point %s", domain.ErrNotFound, id)
	}
	return entry, err
}

// Tracked lists the chargers currently tracked.
func (m *Manager) Tracked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.trackers))
	for id := range m.trackers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Release stops tracking a charger. Its remembered id is kept.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	t, ok := m.trackers[id]
	delete(m.trackers, id)
	m.mu.Unlock()

	if !ok {
		return
	}
	t.Close()
	telemetry.TrackedSessions.Dec()
	m.log.Info("Released charge point", zap.String("charge_point_id", id))
}

// Close releases every tracker.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	trackers := m.trackers
	m.trackers = make(map[string]*Tracker)
	m.mu.Unlock()

	for _, t := range trackers {
		t.Close()
		telemetry.TrackedSessions.Dec()
	}
}
