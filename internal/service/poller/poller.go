// Package poller keeps one remote resource fresh on an adaptive cadence.
//
// A Poller allows at most one request in flight. Scheduled ticks that find a
// request in flight are dropped and the next tick keeps the original cadence.
// Forced refreshes wait for the in-flight request and then issue their own, so
// they always observe state newer than the moment they were called. Responses
// are applied in issue order and a Reset discards responses for the old key.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/observability/telemetry"
)

// ErrSuperseded is returned by Refresh when the poller was reset while the
// request was in flight and the response was discarded.
var ErrSuperseded = errors.New("poller: response superseded")

// Fetcher performs one request for the resource.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Policy returns the interval until the next scheduled tick and whether
// scheduled ticks should fetch at all. It is evaluated on every tick.
type Policy func() (interval time.Duration, enabled bool)

type Config[T any] struct {
	Resource string
	Fetch    Fetcher[T]
	Policy   Policy
	// OnUpdate receives every applied value, in issue order.
	OnUpdate func(T)
}

// Status describes the freshness of the held value.
type Status struct {
	HasValue  bool      `json:"has_value"`
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale"`
	LastError string    `json:"last_error,omitempty"`
}

type Poller[T any] struct {
	resource string
	fetch    Fetcher[T]
	policy   Policy
	onUpdate func(T)
	clock    clockwork.Clock
	log      *zap.Logger

	slot chan struct{}

	mu         sync.Mutex
	generation uint64
	issued     uint64
	applied    uint64
	value      T
	status     Status
}

func New[T any](cfg Config[T], clock clockwork.Clock, log *zap.Logger) *Poller[T] {
	policy := cfg.Policy
	if policy == nil {
		policy = func() (time.Duration, bool) { return 3 * time.Second, true }
	}
	return &Poller[T]{
		resource: cfg.Resource,
		fetch:    cfg.Fetch,
		policy:   policy,
		onUpdate: cfg.OnUpdate,
		clock:    clock,
		log:      log.With(zap.String("resource", cfg.Resource)),
		slot:     make(chan struct{}, 1),
	}
}

// Run drives scheduled ticks until ctx is done.
func (p *Poller[T]) Run(ctx context.Context) {
	interval, _ := p.policy()
	if interval <= 0 {
		interval = time.Second
	}
	due := p.clock.Now().Add(interval)

	for {
		if wait := due.Sub(p.clock.Now()); wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-p.clock.After(wait):
			}
		} else if ctx.Err() != nil {
			return
		}

		interval, enabled := p.policy()
		if enabled {
			p.Tick(ctx)
		}
		if interval <= 0 {
			interval = time.Second
		}

		due = due.Add(interval)
		for now := p.clock.Now(); !due.After(now); {
			due = due.Add(interval)
		}
	}
}

// Tick starts a fetch unless one is already in flight. It reports whether a
// request was issued.
func (p *Poller[T]) Tick(ctx context.Context) bool {
	select {
	case p.slot <- struct{}{}:
	default:
		telemetry.PollTicksDropped.WithLabelValues(p.resource).Inc()
		p.log.Debug("Poll tick dropped, request in flight")
		return false
	}

	go func() {
		defer p.release()
		p.fetchAndApply(ctx)
	}()
	return true
}

// Refresh waits for any in-flight request, then fetches and applies a fresh value.
func (p *Poller[T]) Refresh(ctx context.Context) (T, error) {
	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	defer p.release()

	return p.fetchAndApply(ctx)
}

// Reset forgets the held value and discards responses of requests already in flight.
func (p *Poller[T]) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	p.generation++
	p.value = zero
	p.status = Status{}
}

// Latest returns the held value and its freshness.
func (p *Poller[T]) Latest() (T, Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.status
}

func (p *Poller[T]) release() {
	<-p.slot
}

func (p *Poller[T]) fetchAndApply(ctx context.Context) (T, error) {
	p.mu.Lock()
	p.issued++
	seq := p.issued
	gen := p.generation
	p.mu.Unlock()

	v, err := p.fetch(ctx)

	p.mu.Lock()
	if gen != p.generation || seq <= p.applied {
		p.mu.Unlock()
		telemetry.StaleResponsesDiscarded.WithLabelValues(p.resource).Inc()
		p.log.Debug("Discarding superseded response", zap.Uint64("seq", seq))
		var zero T
		return zero, ErrSuperseded
	}
	p.applied = seq

	if err != nil {
		if ctx.Err() != nil {
			p.mu.Unlock()
			return v, err
		}
		p.status.Stale = true
		p.status.LastError = err.Error()
		p.mu.Unlock()

		telemetry.PollsTotal.WithLabelValues(p.resource, "error").Inc()
		p.log.Warn("Poll failed, keeping stale value", zap.Error(err))
		return v, err
	}

	p.value = v
	p.status = Status{HasValue: true, FetchedAt: p.clock.Now()}
	onUpdate := p.onUpdate
	p.mu.Unlock()

	telemetry.PollsTotal.WithLabelValues(p.resource, "ok").Inc()
	if onUpdate != nil {
		onUpdate(v)
	}
	return v, nil
}
