package component

import (
	"context"
	"fmt"

	"github.com/vk/pagirun/internal/options"
	"github.com/vk/pagirun/internal/session"
	"github.com/vk/pagirun/internal/summary"
)

// BatchType selects how a step treats learned state.
type BatchType int

const (
	// Training batches may mutate learned state.
	Training BatchType = iota
	// Encoding batches are inference only and must not mutate learned state.
	Encoding
)

func (b BatchType) String() string {
	switch b {
	case Training:
		return "training"
	case Encoding:
		return "encoding"
	default:
		return fmt.Sprintf("batch_type(%d)", int(b))
	}
}

// BatchTypes lists every batch type in a stable order.
var BatchTypes = []BatchType{Training, Encoding}

// FeedDict and FetchDict are owned by a single in-flight step.
type (
	FeedDict  = session.FeedDict
	FetchDict = session.FetchDict
)

// Component is a polymorphic unit of learning logic.
type Component interface {
	// DefaultHyperparameters returns a fresh OptionSet with the component's
	// declared defaults. It must not have side effects.
	DefaultHyperparameters() *options.OptionSet

	// Reset clears transient per-run state. It is idempotent and safe to call
	// before the first step.
	Reset()

	// UpdateFeedDict adds input bindings for the upcoming step. It must not
	// read from feed.
	UpdateFeedDict(ctx context.Context, feed FeedDict, batchType BatchType) error

	// AddFetches registers output requests for the upcoming step. For
	// Encoding batches no request may mutate learned state.
	AddFetches(ctx context.Context, fetches FetchDict, batchType BatchType) error

	// SetFetches receives the results of the entries the component requested
	// in AddFetches. Keys it did not request are not present.
	SetFetches(ctx context.Context, fetched FetchDict, batchType BatchType) error

	// BuildSummaries prepares diagnostic artifacts for the given batch types.
	// It is called once per run.
	BuildSummaries(batchTypes []BatchType, maxOutputs int, scope string)

	// WriteSummaries emits the artifacts built for batchType, tagged with step.
	WriteSummaries(ctx context.Context, step int, writer summary.Writer, batchType BatchType) error
}

// Encoder is implemented by components whose last Encoding step produced a
// feature vector per input row.
type Encoder interface {
	Encoding() [][]float64
}

// FilterExporter is implemented by components with learned filters that can
// be rendered as images. Each filter has width*height weights.
type FilterExporter interface {
	Filters() (filters [][]float64, width, height int)
}

// Lossy is implemented by components that report a scalar loss for the
// last step.
type Lossy interface {
	Loss() float64
}
