package dataset

import (
	"context"
	"fmt"
	"math/rand/v2"
)

// Batch is one slice of labelled examples. Inputs are flattened samples.
type Batch struct {
	Inputs [][]float64
	Labels []int
}

// Len returns the number of examples in the batch.
func (b Batch) Len() int { return len(b.Inputs) }

// Iterator yields batches forever, reshuffling after every pass.
type Iterator interface {
	Next(ctx context.Context) (Batch, error)
	// Reset rewinds the iterator to the state it had after construction.
	Reset()
}

// Dataset is a labelled example source with a training and a test split.
type Dataset interface {
	Name() string
	// Shape is the shape of one sample, e.g. [28 28].
	Shape() []int
	NumClasses() int
	Train(batchSize int) Iterator
	Test(batchSize int) Iterator
}

// Options are passed to dataset constructors.
type Options struct {
	// Location is where the dataset files live, if the dataset has any.
	Location string
	// SourceURL is a mirror that missing files are downloaded from. Empty
	// disables downloads.
	SourceURL string
	Seed      uint64
}

// MaxBatchSize bounds the number of examples in one batch.
const MaxBatchSize = 1 << 16

// Constructor builds a dataset.
type Constructor func(ctx context.Context, opts Options) (Dataset, error)

// Examples is an in-memory split.
type Examples struct {
	Inputs [][]float64
	Labels []int
}

// Validate checks that inputs and labels line up and every input has size
// values.
func (e Examples) Validate(size, classes int) error {
	if len(e.Inputs) == 0 {
		return fmt.Errorf("split is empty")
	}
	if len(e.Inputs) != len(e.Labels) {
		return fmt.Errorf("%d inputs but %d labels", len(e.Inputs), len(e.Labels))
	}
	for i, in := range e.Inputs {
		if len(in) != size {
			return fmt.Errorf("example %d has %d values, expected %d", i, len(in), size)
		}
		if l := e.Labels[i]; l < 0 || l >= classes {
			return fmt.Errorf("example %d has label %d outside [0, %d)", i, l, classes)
		}
	}
	return nil
}

type iterator struct {
	examples  Examples
	batchSize int
	seed      uint64
	rng       *rand.Rand
	order     []int
	pos       int
}

// NewIterator returns an Iterator over examples. Passes are shuffled with a
// generator seeded from seed, so two iterators with the same seed yield the
// same batches.
func NewIterator(examples Examples, batchSize int, seed uint64) Iterator {
	if batchSize <= 0 {
		panic(fmt.Sprintf("dataset: batch size must be positive, got %d", batchSize))
	}
	it := &iterator{examples: examples, batchSize: batchSize, seed: seed}
	it.Reset()
	return it
}

func (it *iterator) Reset() {
	it.rng = rand.New(rand.NewPCG(it.seed, it.seed^0x9e3779b97f4a7c15))
	it.order = make([]int, len(it.examples.Inputs))
	for i := range it.order {
		it.order[i] = i
	}
	it.shuffle()
}

func (it *iterator) shuffle() {
	it.rng.Shuffle(len(it.order), func(i, j int) { it.order[i], it.order[j] = it.order[j], it.order[i] })
	it.pos = 0
}

func (it *iterator) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	if len(it.order) == 0 {
		return Batch{}, fmt.Errorf("dataset split is empty")
	}
	b := Batch{
		Inputs: make([][]float64, 0, it.batchSize),
		Labels: make([]int, 0, it.batchSize),
	}
	for len(b.Inputs) < it.batchSize {
		if it.pos == len(it.order) {
			it.shuffle()
		}
		idx := it.order[it.pos]
		it.pos++
		b.Inputs = append(b.Inputs, it.examples.Inputs[idx])
		b.Labels = append(b.Labels, it.examples.Labels[idx])
	}
	return b, nil
}
