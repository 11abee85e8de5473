package component

import (
	"context"

	"github.com/vk/pagirun/internal/summary"
)

// Base provides no-op Reset and summary methods. It is meant to be embedded
// by components that have nothing to reset or report.
type Base struct{}

func (Base) Reset() {}

func (Base) BuildSummaries(batchTypes []BatchType, maxOutputs int, scope string) {}

func (Base) WriteSummaries(ctx context.Context, step int, writer summary.Writer, batchType BatchType) error {
	return nil
}
