// Package executor implements the step coordinator: it drives the staged
// protocol of one or more composed components around exactly one call into
// the execution engine.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/ctxlog"
	"github.com/vk/pagirun/internal/session"
)

var (
	// ErrStepExecution wraps failures of the engine call itself.
	ErrStepExecution = errors.New("step execution failed")
	// ErrMutatingFetch is returned when an Encoding step requests a
	// computation that would mutate learned state.
	ErrMutatingFetch = errors.New("encoding step requested a state-mutating fetch")
)

// Phase names the stage of a step in which an error happened.
type Phase string

const (
	PhaseUpdateFeed Phase = "update_feed_dict"
	PhaseAddFetches Phase = "add_fetches"
	PhaseExecute    Phase = "execute"
	PhaseSetFetches Phase = "set_fetches"
)

// StepError describes a failed step.
type StepError struct {
	Phase     Phase
	BatchType component.BatchType
	// Component is the position of the failing component in the
	// composition, or -1 when the failure is not tied to one.
	Component int
	Err       error
}

func (e *StepError) Error() string {
	if e.Component < 0 {
		return fmt.Sprintf("%s step failed during %s: %v", e.BatchType, e.Phase, e.Err)
	}
	return fmt.Sprintf("%s step failed during %s of component #%d: %v", e.BatchType, e.Phase, e.Component, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Coordinator executes single steps against one session.
type Coordinator struct {
	sess session.Session
}

// New returns a Coordinator bound to sess.
func New(sess session.Session) *Coordinator {
	return &Coordinator{sess: sess}
}

// Step runs one batch of the given type for the components, in composition
// order. Any failure before the engine call aborts the step without
// executing anything. A failure of the engine call is returned wrapped in
// ErrStepExecution and no component sees results.
//
// Each component registers its requests in its own FetchDict; the engine is
// called once with the union of all requests and every component then
// receives exactly the entries it requested. SetFetches is offered to every
// component even if an earlier one fails; such failures are reported
// together after the step and do not undo state the engine already changed.
func (c *Coordinator) Step(ctx context.Context, components []component.Component, batchType component.BatchType) (component.FetchDict, error) {
	logger := ctxlog.FromContext(ctx)

	feed := make(component.FeedDict)
	for i, comp := range components {
		if err := comp.UpdateFeedDict(ctx, feed, batchType); err != nil {
			return nil, &StepError{Phase: PhaseUpdateFeed, BatchType: batchType, Component: i, Err: err}
		}
	}

	fetches := make(component.FetchDict)
	requests := make([]component.FetchDict, len(components))
	for i, comp := range components {
		own := make(component.FetchDict)
		if err := comp.AddFetches(ctx, own, batchType); err != nil {
			return nil, &StepError{Phase: PhaseAddFetches, BatchType: batchType, Component: i, Err: err}
		}
		for _, h := range own.Keys() {
			if batchType == component.Encoding && c.sess.Mutates(h) {
				return nil, &StepError{
					Phase:     PhaseAddFetches,
					BatchType: batchType,
					Component: i,
					Err:       fmt.Errorf("%w: %q", ErrMutatingFetch, h.Name()),
				}
			}
			fetches[h] = nil
		}
		requests[i] = own
	}

	requested := fetches.Keys()
	logger.Debug("Executing step.", "batch_type", batchType.String(), "feeds", len(feed), "fetches", len(requested))

	results, err := c.sess.Run(ctx, feed, requested)
	if err != nil {
		return nil, &StepError{Phase: PhaseExecute, BatchType: batchType, Component: -1, Err: fmt.Errorf("%w: %w", ErrStepExecution, err)}
	}
	for _, h := range requested {
		v, ok := results[h]
		if !ok {
			return nil, &StepError{
				Phase:     PhaseExecute,
				BatchType: batchType,
				Component: -1,
				Err:       fmt.Errorf("%w: engine returned no result for %q", ErrStepExecution, h.Name()),
			}
		}
		fetches[h] = v
	}

	var errs []error
	for i, comp := range components {
		own := requests[i]
		for h := range own {
			own[h] = fetches[h]
		}
		if err := comp.SetFetches(ctx, own, batchType); err != nil {
			errs = append(errs, &StepError{Phase: PhaseSetFetches, BatchType: batchType, Component: i, Err: err})
		}
	}
	return fetches, errors.Join(errs...)
}
