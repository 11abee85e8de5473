package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/pagirun/internal/checkpoint"
	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/dataset"
	"github.com/vk/pagirun/internal/options"
	"github.com/vk/pagirun/internal/session"
	"github.com/vk/pagirun/internal/tracking"
)

// Name is the registry name of the default workflow.
const Name = "workflow"

// ErrNaNLoss is returned when a training step reports a NaN loss and
// stop_on_nan is set.
var ErrNaNLoss = errors.New("loss is NaN")

// State is the position of a workflow in its life cycle.
type State int32

const (
	Initializing State = iota
	Training
	Evaluating
	Checkpointing
	Finished
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Training:
		return "training"
	case Evaluating:
		return "evaluating"
	case Checkpointing:
		return "checkpointing"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Workflow runs an experiment for a number of batches.
type Workflow interface {
	Run(ctx context.Context, batches int) error
	// State and Batch may be called concurrently with Run.
	State() State
	Batch() int
}

// Deps is everything a workflow needs to run. The option sets are the
// resolved sets for this run and are not shared with other runs.
type Deps struct {
	Factory session.Factory
	Dataset dataset.Dataset

	ComponentName string
	Component     component.Constructor
	HParams       *options.OptionSet

	Options    *options.OptionSet
	Export     *options.OptionSet
	Classifier *options.OptionSet
	Checkpoint component.CheckpointOptions

	// Store reads and writes checkpoints. Nil uses a checkpoint.FileStore.
	Store checkpoint.Store
	// SummaryDir receives summaries and exports. Empty disables both.
	SummaryDir string
	Summarize  bool
	// Tracker receives metrics. Nil disables tracking.
	Tracker tracking.Tracker
	Seed    uint64
}

// Constructor builds a workflow.
type Constructor func(deps Deps) (Workflow, error)
