package dataset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/session"
)

func examples(n int) Examples {
	e := Examples{}
	for i := 0; i < n; i++ {
		e.Inputs = append(e.Inputs, []float64{float64(i), float64(i)})
		e.Labels = append(e.Labels, i%2)
	}
	return e
}

func drain(t *testing.T, it Iterator, n int) []int {
	t.Helper()
	var labels []int
	for i := 0; i < n; i++ {
		b, err := it.Next(context.Background())
		require.NoError(t, err)
		for _, in := range b.Inputs {
			labels = append(labels, int(in[0]))
		}
	}
	return labels
}

func TestIterator_CyclesEveryExampleOncePerPass(t *testing.T) {
	t.Parallel()

	it := NewIterator(examples(6), 3, 42)
	seen := drain(t, it, 2)

	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5}, seen)
	next := drain(t, it, 2)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5}, next, "the second pass covers the split again")
}

func TestIterator_DeterministicAndResettable(t *testing.T) {
	t.Parallel()

	a := NewIterator(examples(10), 4, 7)
	b := NewIterator(examples(10), 4, 7)
	first := drain(t, a, 5)
	assert.Equal(t, first, drain(t, b, 5))

	a.Reset()
	assert.Equal(t, first, drain(t, a, 5))
}

func TestIterator_BatchesSpanPasses(t *testing.T) {
	t.Parallel()

	it := NewIterator(examples(3), 5, 1)
	b, err := it.Next(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 5, b.Len())
	assert.Len(t, b.Labels, 5)
}

func TestExamples_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, examples(4).Validate(2, 2))
	assert.ErrorContains(t, Examples{}.Validate(2, 2), "empty")
	assert.ErrorContains(t, examples(4).Validate(3, 2), "expected 3")
	assert.ErrorContains(t, examples(4).Validate(2, 1), "outside")

	bad := examples(2)
	bad.Labels = bad.Labels[:1]
	assert.ErrorContains(t, bad.Validate(2, 2), "2 inputs but 1 labels")
}

type splitDataset struct {
	train, test Examples
}

func (d splitDataset) Name() string    { return "split" }
func (d splitDataset) Shape() []int    { return []int{2} }
func (d splitDataset) NumClasses() int { return 2 }
func (d splitDataset) Train(n int) Iterator {
	return NewIterator(d.train, n, 1)
}
func (d splitDataset) Test(n int) Iterator {
	return NewIterator(d.test, n, 2)
}

func TestFeeder_FeedsSplitPerBatchType(t *testing.T) {
	t.Parallel()

	// Arrange
	g := session.NewGraph()
	input := g.Placeholder("input")
	test := Examples{Inputs: [][]float64{{100, 100}}, Labels: []int{1}}
	f := NewFeeder(input, splitDataset{train: examples(4), test: test}, 2, 1)
	ctx := context.Background()

	// Act
	trainFeed := component.FeedDict{}
	require.NoError(t, f.UpdateFeedDict(ctx, trainFeed, component.Training))
	encFeed := component.FeedDict{}
	require.NoError(t, f.UpdateFeedDict(ctx, encFeed, component.Encoding))

	// Assert
	tt := trainFeed[input].(session.Tensor)
	assert.Equal(t, []int{2, 2}, tt.Shape)
	et := encFeed[input].(session.Tensor)
	assert.Equal(t, []float64{100, 100}, et.Data)

	last, ok := f.Last(component.Encoding)
	require.True(t, ok)
	assert.Equal(t, []int{1}, last.Labels)
}

func TestFeeder_ResetReplaysFromStart(t *testing.T) {
	t.Parallel()

	g := session.NewGraph()
	input := g.Placeholder("input")
	f := NewFeeder(input, splitDataset{train: examples(8), test: examples(2)}, 3, 1)
	ctx := context.Background()

	first := component.FeedDict{}
	require.NoError(t, f.UpdateFeedDict(ctx, first, component.Training))
	f.Reset()
	_, ok := f.Last(component.Training)
	assert.False(t, ok)
	again := component.FeedDict{}
	require.NoError(t, f.UpdateFeedDict(ctx, again, component.Training))

	assert.Equal(t, first[input], again[input])
}
