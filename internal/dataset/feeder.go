package dataset

import (
	"context"
	"fmt"

	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/options"
	"github.com/vk/pagirun/internal/session"
)

// Feeder is the component that binds the next batch of a dataset to the
// input placeholder. It is placed first in a composition. Training steps
// draw from the training split, Encoding steps from the test split.
type Feeder struct {
	component.Base

	input session.Handle
	iters map[component.BatchType]Iterator
	last  map[component.BatchType]Batch
}

var _ component.Component = (*Feeder)(nil)

// NewFeeder returns a Feeder for ds that feeds input.
func NewFeeder(input session.Handle, ds Dataset, trainBatch, testBatch int) *Feeder {
	return &Feeder{
		input: input,
		iters: map[component.BatchType]Iterator{
			component.Training: ds.Train(trainBatch),
			component.Encoding: ds.Test(testBatch),
		},
		last: make(map[component.BatchType]Batch),
	}
}

func (f *Feeder) DefaultHyperparameters() *options.OptionSet { return options.New() }

// Reset rewinds both iterators.
func (f *Feeder) Reset() {
	for _, it := range f.iters {
		it.Reset()
	}
	clear(f.last)
}

func (f *Feeder) UpdateFeedDict(ctx context.Context, feed component.FeedDict, batchType component.BatchType) error {
	it, ok := f.iters[batchType]
	if !ok {
		return fmt.Errorf("no split for %s batches", batchType)
	}
	b, err := it.Next(ctx)
	if err != nil {
		return fmt.Errorf("reading %s batch: %w", batchType, err)
	}
	t, err := session.FromRows(b.Inputs)
	if err != nil {
		return err
	}
	feed[f.input] = t
	f.last[batchType] = b
	return nil
}

func (f *Feeder) AddFetches(context.Context, component.FetchDict, component.BatchType) error {
	return nil
}

func (f *Feeder) SetFetches(context.Context, component.FetchDict, component.BatchType) error {
	return nil
}

// Last returns the batch fed on the most recent step of batchType.
func (f *Feeder) Last(batchType component.BatchType) (Batch, bool) {
	b, ok := f.last[batchType]
	return b, ok
}
