// Package tracking defines the optional experiment-tracking collaborator.
//
// A tracker receives a run-scoped start/stop bracket, the resolved
// parameters and scalar metrics. Tracking never decides the outcome of a
// run: Bracket logs and swallows every tracker failure.
package tracking

import (
	"context"
	"sync"

	"github.com/vk/pagirun/internal/ctxlog"
)

// Run statuses reported on Stop.
const (
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

// Tracker records runs.
type Tracker interface {
	Start(ctx context.Context, runID, experimentID string) error
	LogParams(ctx context.Context, params map[string]any) error
	LogMetric(ctx context.Context, key string, value float64, step int) error
	Stop(ctx context.Context, status string) error
}

// Noop is a Tracker that records nothing.
type Noop struct{}

func (Noop) Start(context.Context, string, string) error            { return nil }
func (Noop) LogParams(context.Context, map[string]any) error        { return nil }
func (Noop) LogMetric(context.Context, string, float64, int) error { return nil }
func (Noop) Stop(context.Context, string) error                     { return nil }

// safe logs tracker failures instead of returning them.
type safe struct {
	t Tracker
}

func (s safe) Start(ctx context.Context, runID, experimentID string) error {
	if err := s.t.Start(ctx, runID, experimentID); err != nil {
		ctxlog.FromContext(ctx).Warn("Tracking start failed.", "error", err)
	}
	return nil
}

func (s safe) LogParams(ctx context.Context, params map[string]any) error {
	if err := s.t.LogParams(ctx, params); err != nil {
		ctxlog.FromContext(ctx).Warn("Tracking params failed.", "error", err)
	}
	return nil
}

func (s safe) LogMetric(ctx context.Context, key string, value float64, step int) error {
	if err := s.t.LogMetric(ctx, key, value, step); err != nil {
		ctxlog.FromContext(ctx).Warn("Tracking metric failed.", "key", key, "step", step, "error", err)
	}
	return nil
}

func (s safe) Stop(ctx context.Context, status string) error {
	if err := s.t.Stop(ctx, status); err != nil {
		ctxlog.FromContext(ctx).Warn("Tracking stop failed.", "error", err)
	}
	return nil
}

// Bracket runs fn between Start and Stop of t. The tracker passed to fn
// never returns errors. If Start fails, fn runs with a Noop tracker. The
// error of fn is returned unchanged.
func Bracket(ctx context.Context, t Tracker, runID, experimentID string, fn func(ctx context.Context, t Tracker) error) error {
	logger := ctxlog.FromContext(ctx)
	if t == nil {
		return fn(ctx, Noop{})
	}

	if err := t.Start(ctx, runID, experimentID); err != nil {
		logger.Warn("Tracking unavailable, continuing without it.", "error", err)
		return fn(ctx, Noop{})
	}
	logger.Debug("Tracking started.", "run_id", runID, "experiment_id", experimentID)

	err := fn(ctx, safe{t: t})

	status := StatusFinished
	if err != nil {
		status = StatusFailed
	}
	// Stop even if ctx was cancelled so the run is closed on the server.
	stopCtx := context.WithoutCancel(ctx)
	if stopErr := t.Stop(stopCtx, status); stopErr != nil {
		logger.Warn("Tracking stop failed.", "error", stopErr)
	}
	return err
}

// Event is one call recorded by Memory.
type Event struct {
	Kind   string
	RunID  string
	Params map[string]any
	Key    string
	Value  float64
	Step   int
	Status string
}

// Memory records every call. It is used in tests and for dry runs.
type Memory struct {
	// Err is returned from every call when set.
	Err error

	mu     sync.Mutex
	runID  string
	events []Event
}

func (m *Memory) record(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Kind == "start" {
		m.runID = e.RunID
	}
	e.RunID = m.runID
	m.events = append(m.events, e)
	return m.Err
}

func (m *Memory) Start(_ context.Context, runID, experimentID string) error {
	return m.record(Event{Kind: "start", RunID: runID, Key: experimentID})
}

func (m *Memory) LogParams(_ context.Context, params map[string]any) error {
	return m.record(Event{Kind: "params", Params: params})
}

func (m *Memory) LogMetric(_ context.Context, key string, value float64, step int) error {
	return m.record(Event{Kind: "metric", Key: key, Value: value, Step: step})
}

func (m *Memory) Stop(_ context.Context, status string) error {
	return m.record(Event{Kind: "stop", Status: status})
}

// Events returns a copy of the recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Kinds returns the kind of every recorded event.
func (m *Memory) Kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Kind
	}
	return out
}
