package autoencoder

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/options"
	"github.com/vk/pagirun/internal/session"
	"github.com/vk/pagirun/internal/summary"
)

// Autoencoder is the sparse autoencoder component.
type Autoencoder struct {
	hp        HParams
	inputSize int
	shape     []int

	encW, encB session.Handle
	decW, decB session.Handle

	forward  session.Handle
	encoding session.Handle
	loss     session.Handle
	filters  session.Handle
	train    session.Handle

	lastLoss     float64
	lastEncoding [][]float64
	lastFilters  [][]float64

	summaries  map[component.BatchType]bool
	maxOutputs int
	tag        string
}

var (
	_ component.Component      = (*Autoencoder)(nil)
	_ component.Encoder        = (*Autoencoder)(nil)
	_ component.FilterExporter = (*Autoencoder)(nil)
	_ component.Lossy          = (*Autoencoder)(nil)
)

// New declares the autoencoder on p.Graph. Encoder variables live under the
// "encoder" scope and decoder variables under "decoder".
func New(p component.Params) (*Autoencoder, error) {
	var hp HParams
	if err := p.HParams.Decode(&hp); err != nil {
		return nil, fmt.Errorf("%s: %w", Name, err)
	}
	if hp.Filters <= 0 {
		return nil, fmt.Errorf("%s: filters must be positive, got %d", Name, hp.Filters)
	}
	if hp.Sparsity < 0 || hp.Sparsity > hp.Filters {
		return nil, fmt.Errorf("%s: sparsity must be in [0, %d], got %d", Name, hp.Filters, hp.Sparsity)
	}
	if hp.LearningRate <= 0 {
		return nil, fmt.Errorf("%s: learning_rate must be positive, got %g", Name, hp.LearningRate)
	}
	if hp.BatchSize <= 0 {
		return nil, fmt.Errorf("%s: batch_size must be positive, got %d", Name, hp.BatchSize)
	}
	if p.Rand == nil {
		return nil, fmt.Errorf("%s: a random source is required", Name)
	}

	a := &Autoencoder{
		hp:        hp,
		inputSize: p.InputSize(),
		shape:     append([]int(nil), p.InputShape...),
	}
	n, f := a.inputSize, hp.Filters

	random := func(shape ...int) session.Tensor {
		t := session.Zeros(shape...)
		for i := range t.Data {
			t.Data[i] = p.Rand.NormFloat64() * hp.InitStddev
		}
		return t
	}

	enc := p.Graph.Scope("encoder")
	a.encW = enc.Variable("weights", random(f, n))
	a.encB = enc.Variable("bias", session.Zeros(f))
	dec := p.Graph.Scope("decoder")
	if !hp.TiedWeights {
		a.decW = dec.Variable("weights", random(n, f))
	}
	a.decB = dec.Variable("bias", session.Zeros(n))

	// The forward pass is memoised per step, so the ops below share it.
	a.forward = p.Graph.Op("forward", func(ctx session.Context) (any, error) {
		return a.evalForward(ctx, p.Input)
	})
	a.encoding = p.Graph.Op("encoding", func(ctx session.Context) (any, error) {
		fw, err := a.pass(ctx)
		if err != nil {
			return nil, err
		}
		return fw.code, nil
	})
	a.loss = p.Graph.Op("loss", func(ctx session.Context) (any, error) {
		fw, err := a.pass(ctx)
		if err != nil {
			return nil, err
		}
		return fw.loss(), nil
	})
	a.filters = p.Graph.Op("filters", func(ctx session.Context) (any, error) {
		return evalTensor(ctx, a.encW)
	})
	a.train = p.Graph.Update("train", func(ctx session.Context) (any, error) {
		fw, err := a.pass(ctx)
		if err != nil {
			return nil, err
		}
		return nil, a.step(ctx, fw)
	})
	return a, nil
}

// DefaultHyperparameters implements component.Component.
func (a *Autoencoder) DefaultHyperparameters() *options.OptionSet { return DefaultHyperparameters() }

// Reset implements component.Component.
func (a *Autoencoder) Reset() {
	a.lastLoss = 0
	a.lastEncoding = nil
	a.lastFilters = nil
}

// UpdateFeedDict implements component.Component. The input batch is fed by
// the dataset feeder.
func (a *Autoencoder) UpdateFeedDict(context.Context, component.FeedDict, component.BatchType) error {
	return nil
}

// AddFetches implements component.Component.
func (a *Autoencoder) AddFetches(_ context.Context, fetches component.FetchDict, batchType component.BatchType) error {
	fetches[a.loss] = nil
	switch batchType {
	case component.Training:
		fetches[a.train] = nil
	case component.Encoding:
		fetches[a.encoding] = nil
		fetches[a.filters] = nil
	default:
		return fmt.Errorf("unsupported batch type %s", batchType)
	}
	return nil
}

// SetFetches implements component.Component.
func (a *Autoencoder) SetFetches(_ context.Context, fetched component.FetchDict, batchType component.BatchType) error {
	loss, ok := fetched[a.loss].(float64)
	if !ok {
		return fmt.Errorf("loss: unexpected result %T", fetched[a.loss])
	}
	a.lastLoss = loss
	if batchType != component.Encoding {
		return nil
	}

	code, ok := fetched[a.encoding].(session.Tensor)
	if !ok {
		return fmt.Errorf("encoding: unexpected result %T", fetched[a.encoding])
	}
	a.lastEncoding = rows(code)
	w, ok := fetched[a.filters].(session.Tensor)
	if !ok {
		return fmt.Errorf("filters: unexpected result %T", fetched[a.filters])
	}
	a.lastFilters = rows(w)
	return nil
}

// BuildSummaries implements component.Component.
func (a *Autoencoder) BuildSummaries(batchTypes []component.BatchType, maxOutputs int, scope string) {
	a.summaries = make(map[component.BatchType]bool, len(batchTypes))
	for _, bt := range batchTypes {
		a.summaries[bt] = true
	}
	a.maxOutputs = maxOutputs
	a.tag = scope
}

// WriteSummaries implements component.Component. It writes the loss and, for
// encoding batches, a histogram of the first maxOutputs codes.
func (a *Autoencoder) WriteSummaries(_ context.Context, step int, w summary.Writer, batchType component.BatchType) error {
	if !a.summaries[batchType] {
		return nil
	}
	if err := w.Scalar(a.tag+"/loss", step, a.lastLoss); err != nil {
		return err
	}
	if batchType != component.Encoding || len(a.lastEncoding) == 0 {
		return nil
	}
	var values []float64
	for i := 0; i < len(a.lastEncoding) && i < a.maxOutputs; i++ {
		values = append(values, a.lastEncoding[i]...)
	}
	return w.Histogram(a.tag+"/encoding", step, values)
}

// Loss implements component.Lossy.
func (a *Autoencoder) Loss() float64 { return a.lastLoss }

// Encoding implements component.Encoder.
func (a *Autoencoder) Encoding() [][]float64 { return a.lastEncoding }

// Filters implements component.FilterExporter. Each encoder row is one
// filter shaped like an input sample.
func (a *Autoencoder) Filters() ([][]float64, int, int) {
	width, height := a.inputSize, 1
	if len(a.shape) == 2 {
		height, width = a.shape[0], a.shape[1]
	}
	return a.lastFilters, width, height
}

// forwardPass holds the intermediate values of one evaluation.
type forwardPass struct {
	x, code, recon session.Tensor
	w, dw          session.Tensor
}

func (fw forwardPass) loss() float64 {
	rows := fw.x.Rows()
	if rows == 0 {
		return 0
	}
	var sum float64
	for i, v := range fw.recon.Data {
		d := v - fw.x.Data[i]
		sum += d * d
	}
	return sum / (2 * float64(rows))
}

func (a *Autoencoder) pass(ctx session.Context) (forwardPass, error) {
	v, err := ctx.Eval(a.forward)
	if err != nil {
		return forwardPass{}, err
	}
	return v.(forwardPass), nil
}

func (a *Autoencoder) evalForward(ctx session.Context, input session.Handle) (forwardPass, error) {
	var fw forwardPass
	var err error
	if fw.x, err = evalTensor(ctx, input); err != nil {
		return fw, err
	}
	if fw.x.Cols() != a.inputSize {
		return fw, fmt.Errorf("input has %d columns, expected %d", fw.x.Cols(), a.inputSize)
	}
	if fw.w, err = evalTensor(ctx, a.encW); err != nil {
		return fw, err
	}
	b, err := evalTensor(ctx, a.encB)
	if err != nil {
		return fw, err
	}
	if a.hp.TiedWeights {
		fw.dw = transpose(fw.w)
	} else if fw.dw, err = evalTensor(ctx, a.decW); err != nil {
		return fw, err
	}
	db, err := evalTensor(ctx, a.decB)
	if err != nil {
		return fw, err
	}

	fw.code = matMulT(fw.x, fw.w)
	for i := 0; i < fw.code.Rows(); i++ {
		row := fw.code.Row(i)
		for j := range row {
			row[j] = math.Max(0, row[j]+b.Data[j])
		}
		topK(row, a.hp.Sparsity)
	}
	fw.recon = matMulT(fw.code, fw.dw)
	for i := 0; i < fw.recon.Rows(); i++ {
		row := fw.recon.Row(i)
		for j := range row {
			row[j] += db.Data[j]
		}
	}
	return fw, nil
}

// step applies one gradient descent update computed from fw.
func (a *Autoencoder) step(ctx session.Context, fw forwardPass) error {
	m := fw.x.Rows()
	if m == 0 {
		return nil
	}
	n, f := a.inputSize, a.hp.Filters
	lr := a.hp.LearningRate

	// Reconstruction error scaled by the batch size.
	dr := session.Zeros(m, n)
	for i, v := range fw.recon.Data {
		dr.Data[i] = (v - fw.x.Data[i]) / float64(m)
	}

	gDecW := session.Zeros(n, f)
	gDecB := session.Zeros(n)
	dh := session.Zeros(m, f)
	for s := 0; s < m; s++ {
		r, h, g := dr.Row(s), fw.code.Row(s), dh.Row(s)
		for i := 0; i < n; i++ {
			gDecB.Data[i] += r[i]
			wrow := fw.dw.Row(i)
			grow := gDecW.Row(i)
			for j := 0; j < f; j++ {
				grow[j] += r[i] * h[j]
				g[j] += r[i] * wrow[j]
			}
		}
		// Only active units pass the gradient through.
		for j := 0; j < f; j++ {
			if h[j] <= 0 {
				g[j] = 0
			}
		}
	}

	gEncW := session.Zeros(f, n)
	gEncB := session.Zeros(f)
	for s := 0; s < m; s++ {
		g, x := dh.Row(s), fw.x.Row(s)
		for j := 0; j < f; j++ {
			if g[j] == 0 {
				continue
			}
			gEncB.Data[j] += g[j]
			grow := gEncW.Row(j)
			for k := 0; k < n; k++ {
				grow[k] += g[j] * x[k]
			}
		}
	}
	if a.hp.TiedWeights {
		for j := 0; j < f; j++ {
			grow := gEncW.Row(j)
			for k := 0; k < n; k++ {
				grow[k] += gDecW.Row(k)[j]
			}
		}
	}

	update := func(h session.Handle, grad session.Tensor) error {
		cur, err := evalTensor(ctx, h)
		if err != nil {
			return err
		}
		for i := range cur.Data {
			cur.Data[i] -= lr * grad.Data[i]
		}
		return ctx.Assign(h, cur)
	}
	if err := update(a.encW, gEncW); err != nil {
		return err
	}
	if err := update(a.encB, gEncB); err != nil {
		return err
	}
	if !a.hp.TiedWeights {
		if err := update(a.decW, gDecW); err != nil {
			return err
		}
	}
	return update(a.decB, gDecB)
}

func evalTensor(ctx session.Context, h session.Handle) (session.Tensor, error) {
	v, err := ctx.Eval(h)
	if err != nil {
		return session.Tensor{}, err
	}
	t, ok := v.(session.Tensor)
	if !ok {
		return session.Tensor{}, fmt.Errorf("%s: expected a tensor, got %T", h.Name(), v)
	}
	return t, nil
}

// matMulT returns a * bᵀ for a of shape [m, k] and b of shape [n, k].
func matMulT(a, b session.Tensor) session.Tensor {
	m, n, k := a.Rows(), b.Rows(), a.Cols()
	out := session.Zeros(m, n)
	for i := 0; i < m; i++ {
		ar := a.Row(i)
		or := out.Row(i)
		for j := 0; j < n; j++ {
			br := b.Row(j)
			var sum float64
			for l := 0; l < k; l++ {
				sum += ar[l] * br[l]
			}
			or[j] = sum
		}
	}
	return out
}

func transpose(t session.Tensor) session.Tensor {
	r, c := t.Rows(), t.Cols()
	out := session.Zeros(c, r)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Data[j*r+i] = t.Data[i*c+j]
		}
	}
	return out
}

// topK zeroes every value of row except the k largest. k == 0 keeps all.
func topK(row []float64, k int) {
	if k <= 0 || k >= len(row) {
		return
	}
	idx := make([]int, len(row))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return row[idx[i]] > row[idx[j]] })
	for _, i := range idx[k:] {
		row[i] = 0
	}
}

func rows(t session.Tensor) [][]float64 {
	out := make([][]float64, t.Rows())
	for i := range out {
		out[i] = append([]float64(nil), t.Row(i)...)
	}
	return out
}
