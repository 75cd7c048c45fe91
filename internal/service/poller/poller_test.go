package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// gatedFetcher blocks every call until a value is sent on gate.
type gatedFetcher struct {
	calls   atomic.Int32
	started chan struct{}
	gate    chan int
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{started: make(chan struct{}, 8), gate: make(chan int)}
}

func (g *gatedFetcher) fetch(ctx context.Context) (int, error) {
	g.calls.Add(1)
	g.started <- struct{}{}
	select {
	case v := <-g.gate:
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// waitIdle blocks until the in-flight slot is free again.
func waitIdle[T any](t *testing.T, p *Poller[T]) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case p.slot <- struct{}{}:
			<-p.slot
			return
		default:
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatal("poller never became idle")
}

func TestTick_DropsWhileInFlight(t *testing.T) {
	// Arrange
	g := newGatedFetcher()
	updated := make(chan struct{}, 4)
	p := New(Config[int]{
		Resource: "test",
		Fetch:    g.fetch,
		OnUpdate: func(int) { updated <- struct{}{} },
	}, clockwork.NewFakeClock(), zap.NewNop())
	ctx := context.Background()

	// Act
	first := p.Tick(ctx)
	waitFor(t, g.started, "first fetch")
	second := p.Tick(ctx)
	g.gate <- 7
	waitFor(t, updated, "update")

	// Assert
	if !first {
		t.Error("expected first tick to issue a request")
	}
	if second {
		t.Error("expected second tick to be dropped")
	}
	if got := g.calls.Load(); got != 1 {
		t.Errorf("expected 1 fetch, got %d", got)
	}
	v, st := p.Latest()
	if v != 7 || !st.HasValue || st.Stale {
		t.Errorf("unexpected latest value %d status %+v", v, st)
	}
}

func TestRefresh_WaitsForInFlightAndIssuesItsOwn(t *testing.T) {
	g := newGatedFetcher()
	p := New(Config[int]{Resource: "test", Fetch: g.fetch}, clockwork.NewFakeClock(), zap.NewNop())
	ctx := context.Background()

	p.Tick(ctx)
	waitFor(t, g.started, "tick fetch")

	type result struct {
		v   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := p.Refresh(ctx)
		done <- result{v, err}
	}()

	g.gate <- 1
	waitFor(t, g.started, "refresh fetch")
	g.gate <- 2

	res := <-done
	if res.err != nil {
		t.Fatalf("expected no error, got %v", res.err)
	}
	if res.v != 2 {
		t.Errorf("expected refresh to return its own response 2, got %d", res.v)
	}
	if got := g.calls.Load(); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
	if v, _ := p.Latest(); v != 2 {
		t.Errorf("expected latest 2, got %d", v)
	}
}

func TestReset_DiscardsInFlightResponse(t *testing.T) {
	g := newGatedFetcher()
	var updates atomic.Int32
	p := New(Config[int]{
		Resource: "test",
		Fetch:    g.fetch,
		OnUpdate: func(int) { updates.Add(1) },
	}, clockwork.NewFakeClock(), zap.NewNop())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := p.Refresh(ctx)
		done <- err
	}()
	waitFor(t, g.started, "fetch")

	p.Reset()
	g.gate <- 42

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if v, st := p.Latest(); v != 0 || st.HasValue {
		t.Errorf("expected no value after reset, got %d %+v", v, st)
	}
	if updates.Load() != 0 {
		t.Error("expected no update for a superseded response")
	}
}

func TestRefresh_ErrorMarksStaleAndKeepsValue(t *testing.T) {
	fail := atomic.Bool{}
	p := New(Config[int]{
		Resource: "test",
		Fetch: func(ctx context.Context) (int, error) {
			if fail.Load() {
				return 0, errors.New("boom")
			}
			return 5, nil
		},
	}, clockwork.NewFakeClock(), zap.NewNop())
	ctx := context.Background()

	if _, err := p.Refresh(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	fail.Store(true)
	if _, err := p.Refresh(ctx); err == nil {
		t.Fatal("expected error")
	}
	v, st := p.Latest()
	if v != 5 {
		t.Errorf("expected stale value 5 kept, got %d", v)
	}
	if !st.Stale || st.LastError != "boom" {
		t.Errorf("expected stale status, got %+v", st)
	}

	fail.Store(false)
	if _, err := p.Refresh(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, st := p.Latest(); st.Stale {
		t.Error("expected stale flag cleared after success")
	}
}

func TestRun_FollowsPolicyCadence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fetched := make(chan struct{}, 8)
	enabled := atomic.Bool{}
	enabled.Store(true)

	p := New(Config[int]{
		Resource: "test",
		Fetch: func(ctx context.Context) (int, error) {
			return 1, nil
		},
		Policy:   func() (time.Duration, bool) { return 2 * time.Second, enabled.Load() },
		OnUpdate: func(int) { fetched <- struct{}{} },
	}, clock, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(2 * time.Second)
		waitFor(t, fetched, "scheduled fetch")
		waitIdle(t, p)
	}

	enabled.Store(false)
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	clock.BlockUntil(1)

	select {
	case <-fetched:
		t.Fatal("expected no fetch while disabled")
	default:
	}
}

func TestRun_KeepsCadenceWhenTickDropped(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newGatedFetcher()
	updated := make(chan struct{}, 4)

	p := New(Config[int]{
		Resource: "test",
		Fetch:    g.fetch,
		Policy:   func() (time.Duration, bool) { return 2 * time.Second, true },
		OnUpdate: func(int) { updated <- struct{}{} },
	}, clock, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// t=2s: first fetch starts and hangs
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	waitFor(t, g.started, "first fetch")

	// t=4s: tick finds the request in flight and is dropped
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	clock.BlockUntil(1)
	if got := g.calls.Load(); got != 1 {
		t.Fatalf("expected dropped tick, got %d fetches", got)
	}

	g.gate <- 1
	waitFor(t, updated, "first update")
	waitIdle(t, p)

	// t=6s: back on the original cadence
	clock.Advance(2 * time.Second)
	waitFor(t, g.started, "second fetch")
	g.gate <- 2
	waitFor(t, updated, "second update")

	if got := g.calls.Load(); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
}
