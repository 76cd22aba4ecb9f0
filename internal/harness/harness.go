package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/logagg/internal/app"
	"github.com/roach88/logagg/internal/config"
	"github.com/roach88/logagg/internal/engine"
	"github.com/roach88/logagg/internal/event"
	"github.com/roach88/logagg/internal/store"
	"github.com/roach88/logagg/internal/testutil"
)

// idleTimeout bounds each wait for quiescence.
const idleTimeout = 30 * time.Second

const (
	defaultTimestamp = "2025-01-01T00:00:00Z"
	defaultSource    = "harness"
)

// Run executes a scenario against a fresh in-memory ledger and returns the
// result. A returned error means the scenario could not run at all; failed
// expectations are reported in Result.Errors.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	clock := testutil.NewDeterministicClock()
	st, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	res := &Result{
		Name:        s.Name,
		Outcomes:    map[string]int{},
		recordTrace: s.RecordTrace,
	}
	var mu sync.Mutex
	hook := func(o engine.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		res.Trace = append(res.Trace, TraceEntry{
			Seq:     len(res.Trace) + 1,
			Topic:   o.Key.Topic,
			EventID: o.Key.EventID,
			State:   o.State.String(),
			Reason:  o.Reason,
		})
		res.Outcomes[OutcomeKey(o.State.String(), o.Reason)]++
	}

	a := app.New(scenarioConfig(s), st,
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		app.WithClock(clock.Now),
		app.WithOutcomeHook(hook),
	)
	defer a.Close()

	running := false
	if !s.Paused {
		if err := a.Start(ctx); err != nil {
			return nil, fmt.Errorf("start consumer: %w", err)
		}
		running = true
	}

	for i, step := range s.Steps {
		if step.Start && !running {
			if err := a.Start(ctx); err != nil {
				return nil, fmt.Errorf("steps[%d]: start consumer: %w", i, err)
			}
			running = true
		}

		batch := stepEvents(step)
		if len(batch) == 0 {
			if running {
				if err := waitIdle(ctx, a); err != nil {
					return nil, fmt.Errorf("steps[%d]: %w", i, err)
				}
			}
			continue
		}

		want := step.Expect
		if want == "" {
			want = ExpectAccepted
		}
		for r := 0; r < max(step.Repeat, 1); r++ {
			_, err := a.Submit(ctx, batch)
			if got := classify(err); got != want {
				res.addError("steps[%d] submission %d: expected %s, got %s (%v)", i, r+1, want, got, err)
			}
			if running {
				if err := waitIdle(ctx, a); err != nil {
					return nil, fmt.Errorf("steps[%d]: %w", i, err)
				}
			}
		}
	}

	if running {
		if err := waitIdle(ctx, a); err != nil {
			return nil, err
		}
	}
	a.Stop()

	if res.Stats, err = a.Statistics(ctx); err != nil {
		return nil, fmt.Errorf("read statistics: %w", err)
	}

	for i, as := range s.Assertions {
		if err := evaluate(ctx, a, res, as); err != nil {
			res.addError("assertions[%d] (%s): %v", i, as.Type, err)
		}
	}
	return res, nil
}

// scenarioConfig is the default configuration with observability off and no
// retry pauses.
func scenarioConfig(s *Scenario) *config.Config {
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	cfg.Log.Detailed = false
	cfg.Consumer.ErrorBackoff = 0
	if s.QueueCapacity > 0 {
		cfg.Queue.MaxSize = s.QueueCapacity
	}
	return cfg
}

func waitIdle(ctx context.Context, a *app.App) error {
	ctx, cancel := context.WithTimeout(ctx, idleTimeout)
	defer cancel()
	if err := a.WaitIdle(ctx); err != nil {
		return fmt.Errorf("wait for quiescence: %w", err)
	}
	return nil
}

// stepEvents builds the step's batch. Generated ids restart at 1 for every
// step, so two generate steps with the same prefix overlap.
func stepEvents(step Step) []event.Event {
	if g := step.Generate; g != nil {
		gen := testutil.NewSequentialIDGenerator(g.Prefix)
		out := make([]event.Event, 0, g.Count)
		for i := 0; i < g.Count; i++ {
			out = append(out, event.Event{
				Topic:     g.Topic,
				EventID:   gen.Generate(),
				Timestamp: defaultTimestamp,
				Source:    defaultSource,
				Payload:   map[string]any{"seq": int64(i + 1)},
			})
		}
		return out
	}

	out := make([]event.Event, 0, len(step.Publish))
	for _, es := range step.Publish {
		ev := event.Event{
			Topic:     es.Topic,
			EventID:   es.EventID,
			Timestamp: es.Timestamp,
			Source:    es.Source,
			Payload:   es.Payload,
		}
		if ev.Timestamp == "" {
			ev.Timestamp = defaultTimestamp
		}
		if ev.Source == "" {
			ev.Source = defaultSource
		}
		if ev.Payload == nil {
			ev.Payload = map[string]any{}
		}
		out = append(out, ev)
	}
	return out
}

// classify maps a Submit error to a step expectation name.
func classify(err error) string {
	switch {
	case err == nil:
		return ExpectAccepted
	case errors.Is(err, engine.ErrQueueFull):
		return ExpectBackpressure
	case event.IsValidationError(err):
		return ExpectValidation
	default:
		return "error"
	}
}
