// Package kmeans provides an online k-means component. Centroids move
// toward the mean of the samples assigned to them on every training step;
// the encoding of a sample is its soft assignment to every centroid.
package kmeans

import (
	"context"
	"fmt"
	"math"

	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/options"
	"github.com/vk/pagirun/internal/registry"
	"github.com/vk/pagirun/internal/session"
	"github.com/vk/pagirun/internal/summary"
)

// Name is the registry name of the component.
const Name = "kmeans"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the component with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterComponent(Name, &registry.RegisteredComponent{
		New:      func(p component.Params) (component.Component, error) { return New(p) },
		Defaults: DefaultHyperparameters,
	})
}

// HParams are the decoded hyperparameters.
type HParams struct {
	Clusters     int     `opt:"clusters"`
	LearningRate float64 `opt:"learning_rate"`
	BatchSize    int     `opt:"batch_size"`
	Temperature  float64 `opt:"temperature"`
}

// DefaultHyperparameters returns the declared defaults.
func DefaultHyperparameters() *options.OptionSet {
	return options.New(
		options.Int("clusters", 8),
		options.Float("learning_rate", 0.1),
		options.Int("batch_size", 32),
		options.Float("temperature", 1.0),
	)
}

// KMeans is the k-means component.
type KMeans struct {
	hp        HParams
	inputSize int
	shape     []int

	centroids  session.Handle
	assign     session.Handle
	distortion session.Handle
	encoding   session.Handle
	update     session.Handle

	lastDistortion float64
	lastEncoding   [][]float64
	lastCentroids  [][]float64
	counts         []int

	summaries map[component.BatchType]bool
	tag       string
}

var (
	_ component.Component      = (*KMeans)(nil)
	_ component.Encoder        = (*KMeans)(nil)
	_ component.FilterExporter = (*KMeans)(nil)
	_ component.Lossy          = (*KMeans)(nil)
)

// assignment is the nearest centroid of every row of a batch.
type assignment struct {
	x       session.Tensor
	c       session.Tensor
	nearest []int
	dist    []float64
	// all holds the squared distance of every row to every centroid.
	all session.Tensor
}

// New declares the component on p.Graph. Centroids live under the "kmeans"
// scope.
func New(p component.Params) (*KMeans, error) {
	var hp HParams
	if err := p.HParams.Decode(&hp); err != nil {
		return nil, fmt.Errorf("%s: %w", Name, err)
	}
	switch {
	case hp.Clusters < 1:
		return nil, fmt.Errorf("%s: clusters must be positive, got %d", Name, hp.Clusters)
	case hp.LearningRate <= 0 || hp.LearningRate > 1:
		return nil, fmt.Errorf("%s: learning_rate must be in (0, 1], got %g", Name, hp.LearningRate)
	case hp.Temperature <= 0:
		return nil, fmt.Errorf("%s: temperature must be positive, got %g", Name, hp.Temperature)
	case hp.BatchSize <= 0:
		return nil, fmt.Errorf("%s: batch_size must be positive, got %d", Name, hp.BatchSize)
	case p.Rand == nil:
		return nil, fmt.Errorf("%s: a random source is required", Name)
	}

	k := &KMeans{hp: hp, inputSize: p.InputSize(), shape: append([]int(nil), p.InputShape...)}

	start := session.Zeros(hp.Clusters, k.inputSize)
	for i := range start.Data {
		start.Data[i] = p.Rand.Float64()
	}
	k.centroids = p.Graph.Scope("kmeans").Variable("centroids", start)

	k.assign = p.Graph.Op("assign", func(ctx session.Context) (any, error) {
		return k.evalAssign(ctx, p.Input)
	})
	k.distortion = p.Graph.Op("distortion", func(ctx session.Context) (any, error) {
		a, err := k.assignment(ctx)
		if err != nil {
			return nil, err
		}
		if len(a.dist) == 0 {
			return 0.0, nil
		}
		var sum float64
		for _, d := range a.dist {
			sum += d
		}
		return sum / float64(len(a.dist)), nil
	})
	k.encoding = p.Graph.Op("encoding", func(ctx session.Context) (any, error) {
		a, err := k.assignment(ctx)
		if err != nil {
			return nil, err
		}
		return softAssign(a.all, hp.Temperature), nil
	})
	k.update = p.Graph.Update("update", func(ctx session.Context) (any, error) {
		a, err := k.assignment(ctx)
		if err != nil {
			return nil, err
		}
		next, counts := k.move(a)
		if err := ctx.Assign(k.centroids, next); err != nil {
			return nil, err
		}
		return counts, nil
	})
	return k, nil
}

func (k *KMeans) DefaultHyperparameters() *options.OptionSet { return DefaultHyperparameters() }

func (k *KMeans) Reset() {
	k.lastDistortion = 0
	k.lastEncoding = nil
	k.lastCentroids = nil
	k.counts = nil
}

func (k *KMeans) UpdateFeedDict(context.Context, component.FeedDict, component.BatchType) error {
	return nil
}

func (k *KMeans) AddFetches(_ context.Context, fetches component.FetchDict, batchType component.BatchType) error {
	fetches[k.distortion] = nil
	switch batchType {
	case component.Training:
		fetches[k.update] = nil
	case component.Encoding:
		fetches[k.encoding] = nil
		fetches[k.centroids] = nil
	default:
		return fmt.Errorf("unsupported batch type %s", batchType)
	}
	return nil
}

func (k *KMeans) SetFetches(_ context.Context, fetched component.FetchDict, batchType component.BatchType) error {
	d, ok := fetched[k.distortion].(float64)
	if !ok {
		return fmt.Errorf("distortion: unexpected result %T", fetched[k.distortion])
	}
	k.lastDistortion = d

	switch batchType {
	case component.Training:
		counts, ok := fetched[k.update].([]int)
		if !ok {
			return fmt.Errorf("update: unexpected result %T", fetched[k.update])
		}
		k.counts = counts
	case component.Encoding:
		enc, ok := fetched[k.encoding].(session.Tensor)
		if !ok {
			return fmt.Errorf("encoding: unexpected result %T", fetched[k.encoding])
		}
		c, ok := fetched[k.centroids].(session.Tensor)
		if !ok {
			return fmt.Errorf("centroids: unexpected result %T", fetched[k.centroids])
		}
		k.lastEncoding = tensorRows(enc)
		k.lastCentroids = tensorRows(c)
	}
	return nil
}

func (k *KMeans) BuildSummaries(batchTypes []component.BatchType, _ int, scope string) {
	k.summaries = make(map[component.BatchType]bool, len(batchTypes))
	for _, bt := range batchTypes {
		k.summaries[bt] = true
	}
	k.tag = scope
}

// WriteSummaries writes the distortion and, after training steps, how many
// samples each centroid received.
func (k *KMeans) WriteSummaries(_ context.Context, step int, w summary.Writer, batchType component.BatchType) error {
	if !k.summaries[batchType] {
		return nil
	}
	if err := w.Scalar(k.tag+"/distortion", step, k.lastDistortion); err != nil {
		return err
	}
	if batchType != component.Training || k.counts == nil {
		return nil
	}
	counts := make([]float64, len(k.counts))
	for i, c := range k.counts {
		counts[i] = float64(c)
	}
	return w.Histogram(k.tag+"/assignments", step, counts)
}

// Loss implements component.Lossy.
func (k *KMeans) Loss() float64 { return k.lastDistortion }

// Encoding implements component.Encoder.
func (k *KMeans) Encoding() [][]float64 { return k.lastEncoding }

// Filters implements component.FilterExporter with one filter per centroid.
func (k *KMeans) Filters() ([][]float64, int, int) {
	width, height := k.inputSize, 1
	if len(k.shape) == 2 {
		height, width = k.shape[0], k.shape[1]
	}
	return k.lastCentroids, width, height
}

func (k *KMeans) assignment(ctx session.Context) (assignment, error) {
	v, err := ctx.Eval(k.assign)
	if err != nil {
		return assignment{}, err
	}
	return v.(assignment), nil
}

func (k *KMeans) evalAssign(ctx session.Context, input session.Handle) (assignment, error) {
	xv, err := ctx.Eval(input)
	if err != nil {
		return assignment{}, err
	}
	x, ok := xv.(session.Tensor)
	if !ok {
		return assignment{}, fmt.Errorf("input: expected a tensor, got %T", xv)
	}
	if x.Cols() != k.inputSize {
		return assignment{}, fmt.Errorf("input has %d columns, expected %d", x.Cols(), k.inputSize)
	}
	cv, err := ctx.Eval(k.centroids)
	if err != nil {
		return assignment{}, err
	}
	c := cv.(session.Tensor)

	a := assignment{
		x:       x,
		c:       c,
		nearest: make([]int, x.Rows()),
		dist:    make([]float64, x.Rows()),
		all:     session.Zeros(x.Rows(), c.Rows()),
	}
	for i := 0; i < x.Rows(); i++ {
		row := x.Row(i)
		best := math.Inf(1)
		for j := 0; j < c.Rows(); j++ {
			var d float64
			for l, cj := range c.Row(j) {
				diff := row[l] - cj
				d += diff * diff
			}
			a.all.Row(i)[j] = d
			if d < best {
				best = d
				a.nearest[i] = j
			}
		}
		a.dist[i] = best
	}
	return a, nil
}

// move returns the centroids after one step toward the mean of their
// assigned rows. Centroids without rows stay put.
func (k *KMeans) move(a assignment) (session.Tensor, []int) {
	next := a.c.Clone()
	sums := session.Zeros(a.c.Rows(), a.c.Cols())
	counts := make([]int, a.c.Rows())
	for i, j := range a.nearest {
		counts[j]++
		s := sums.Row(j)
		for l, v := range a.x.Row(i) {
			s[l] += v
		}
	}
	for j, n := range counts {
		if n == 0 {
			continue
		}
		c, s := next.Row(j), sums.Row(j)
		for l := range c {
			c[l] += k.hp.LearningRate * (s[l]/float64(n) - c[l])
		}
	}
	return next, counts
}

// softAssign turns squared distances into per row probabilities.
func softAssign(dist session.Tensor, temperature float64) session.Tensor {
	out := session.Zeros(dist.Rows(), dist.Cols())
	for i := 0; i < dist.Rows(); i++ {
		d, o := dist.Row(i), out.Row(i)
		lo := math.Inf(1)
		for _, v := range d {
			lo = math.Min(lo, v)
		}
		var sum float64
		for j, v := range d {
			o[j] = math.Exp(-(v - lo) / temperature)
			sum += o[j]
		}
		for j := range o {
			o[j] /= sum
		}
	}
	return out
}

func tensorRows(t session.Tensor) [][]float64 {
	out := make([][]float64, t.Rows())
	for i := range out {
		out[i] = append([]float64(nil), t.Row(i)...)
	}
	return out
}
