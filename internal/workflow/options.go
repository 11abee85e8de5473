package workflow

import (
	"fmt"

	"github.com/vk/pagirun/internal/dataset"
	"github.com/vk/pagirun/internal/options"
)

// DefaultOptions returns the declared workflow options.
func DefaultOptions() *options.OptionSet {
	return options.New(
		options.Bool("train", true),
		options.Bool("evaluate", true),
		// Zero follows the classifier interval_batches.
		options.Int("evaluate_interval", 0),
		options.Int("summarize_interval", 1),
		options.Int("max_outputs", 3),
		options.Int("eval_batches", 1),
		options.Bool("stop_on_nan", true),
	)
}

// Settings are the decoded workflow options.
type Settings struct {
	Train             bool `opt:"train"`
	Evaluate          bool `opt:"evaluate"`
	EvaluateInterval  int  `opt:"evaluate_interval"`
	SummarizeInterval int  `opt:"summarize_interval"`
	MaxOutputs        int  `opt:"max_outputs"`
	EvalBatches       int  `opt:"eval_batches"`
	StopOnNaN         bool `opt:"stop_on_nan"`
}

type exportSettings struct {
	Filters    bool `opt:"export_filters"`
	Checkpoint bool `opt:"export_checkpoint"`
	Interval   int  `opt:"interval_batches"`
}

func decodeSettings(set *options.OptionSet) (Settings, error) {
	var s Settings
	if err := set.Decode(&s); err != nil {
		return s, fmt.Errorf("workflow options: %w", err)
	}
	switch {
	case s.EvaluateInterval < 0:
		return s, fmt.Errorf("workflow options: evaluate_interval must not be negative, got %d", s.EvaluateInterval)
	case s.SummarizeInterval < 1:
		return s, fmt.Errorf("workflow options: summarize_interval must be positive, got %d", s.SummarizeInterval)
	case s.EvalBatches < 1:
		return s, fmt.Errorf("workflow options: eval_batches must be positive, got %d", s.EvalBatches)
	case s.MaxOutputs < 0:
		return s, fmt.Errorf("workflow options: max_outputs must not be negative, got %d", s.MaxOutputs)
	}
	return s, nil
}

func decodeExport(set *options.OptionSet) (exportSettings, error) {
	var s exportSettings
	if err := set.Decode(&s); err != nil {
		return s, fmt.Errorf("export options: %w", err)
	}
	if s.Interval < 1 {
		return s, fmt.Errorf("export options: interval_batches must be positive, got %d", s.Interval)
	}
	return s, nil
}

// defaultBatchSize is used for components that declare no batch_size.
const defaultBatchSize = 32

// batchSize reads batch_size from the hyperparameters when the component
// declares one.
func batchSize(hp *options.OptionSet) (int, error) {
	if hp == nil || !hp.Has("batch_size") {
		return defaultBatchSize, nil
	}
	if k := hp.Kind("batch_size"); k != options.KindInt {
		return 0, fmt.Errorf("hyperparameters: batch_size must be an integer, declared as %s", k)
	}
	n := hp.Int("batch_size")
	if n < 1 || n > dataset.MaxBatchSize {
		return 0, fmt.Errorf("hyperparameters: batch_size must be in [1, %d], got %d", dataset.MaxBatchSize, n)
	}
	return n, nil
}
