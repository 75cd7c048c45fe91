// Package cascade runs a bounded series of delayed forced observations after a
// remote command was accepted, stopping at the first one that sees the goal state.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Schedule is a finite, strictly increasing list of delays measured from the
// moment the command was accepted.
type Schedule struct {
	delays []time.Duration
}

// NewSchedule validates delays.
func NewSchedule(delays ...time.Duration) (Schedule, error) {
	if len(delays) == 0 {
		return Schedule{}, errors.New("cascade: schedule needs at least one delay")
	}
	var prev time.Duration
	for i, d := range delays {
		if d <= prev {
			return Schedule{}, fmt.Errorf("cascade: delay %d (%s) must be greater than %s", i, d, prev)
		}
		prev = d
	}
	out := make([]time.Duration, len(delays))
	copy(out, delays)
	return Schedule{delays: out}, nil
}

// DefaultSchedule re-observes at 1s, 2s, 4s and 8s.
func DefaultSchedule() Schedule {
	return Schedule{delays: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}}
}

func (s Schedule) Delays() []time.Duration {
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

func (s Schedule) Len() int {
	return len(s.delays)
}

type Outcome string

const (
	OutcomeObserved  Outcome = "observed"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeCancelled Outcome = "cancelled"
)

type Result struct {
	Outcome Outcome
	Steps   int
}

// Step forces one observation and reports whether the goal state was seen.
// attempt starts at 1.
type Step func(ctx context.Context, attempt int) bool

// Run executes step at every delay of the schedule until it reports the goal,
// the schedule is exhausted or ctx is cancelled. It never loops past the last delay.
func (s Schedule) Run(ctx context.Context, clock clockwork.Clock, step Step) Result {
	start := clock.Now()

	for i, d := range s.delays {
		if wait := start.Add(d).Sub(clock.Now()); wait > 0 {
			select {
			case <-ctx.Done():
				return Result{Outcome: OutcomeCancelled, Steps: i}
			case <-clock.After(wait):
			}
		} else if ctx.Err() != nil {
			return Result{Outcome: OutcomeCancelled, Steps: i}
		}

		if step(ctx, i+1) {
			return Result{Outcome: OutcomeObserved, Steps: i + 1}
		}
	}

	if ctx.Err() != nil {
		return Result{Outcome: OutcomeCancelled, Steps: len(s.delays)}
	}
	return Result{Outcome: OutcomeExhausted, Steps: len(s.delays)}
}
