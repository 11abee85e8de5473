package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/vk/pagirun/internal/options"
)

const (
	ModelLogistic = "logistic"
	ModelSVM      = "svm"
)

const (
	epochs       = 200
	learningRate = 0.1
	holdout      = 0.2
)

// ErrTooFewExamples is returned when there is not enough data to hold out a
// validation split.
var ErrTooFewExamples = errors.New("too few examples to evaluate a classifier")

// Options configures an evaluation.
type Options struct {
	Model     string
	UnitRange bool
	C         []float64
	Seed      uint64
}

// OptionsFrom reads classifier options: model, unit_range and the C values
// under hparams.<model>.C.
func OptionsFrom(set *options.OptionSet, seed uint64) (Options, error) {
	o := Options{
		Model:     set.String("model"),
		UnitRange: set.Bool("unit_range"),
		Seed:      seed,
	}
	hp, ok := set.Map("hparams")[o.Model]
	if !ok {
		return o, fmt.Errorf("no hparams for classifier model %q", o.Model)
	}
	raw, ok := options.ToGo(hp).(map[string]any)
	if !ok {
		return o, fmt.Errorf("hparams for %q must be a mapping", o.Model)
	}
	cs, ok := raw["C"].([]any)
	if !ok || len(cs) == 0 {
		return o, fmt.Errorf("hparams for %q need a non-empty list C", o.Model)
	}
	for _, c := range cs {
		var v float64
		switch n := c.(type) {
		case int64:
			v = float64(n)
		case float64:
			v = n
		default:
			return o, fmt.Errorf("hparams for %q: C value %v is not a number", o.Model, c)
		}
		if v <= 0 {
			return o, fmt.Errorf("hparams for %q: C must be positive, got %v", o.Model, v)
		}
		o.C = append(o.C, v)
	}
	return o, nil
}

// Model predicts a class for one feature vector.
type Model interface {
	Predict(x []float64) int
}

// Score is the held-out accuracy for one C.
type Score struct {
	C        float64
	Accuracy float64
}

// Result summarizes an evaluation.
type Result struct {
	Model    string
	Best     Score
	Scores   []Score
	Train    int
	Validate int
}

// Evaluate fits opts.Model for every C on a shuffled training split of x and
// reports the held-out accuracy of each.
func Evaluate(ctx context.Context, opts Options, x [][]float64, y []int, classes int) (Result, error) {
	if len(x) != len(y) {
		return Result{}, fmt.Errorf("%d examples but %d labels", len(x), len(y))
	}
	if len(x) < 2 {
		return Result{}, ErrTooFewExamples
	}
	if len(opts.C) == 0 {
		return Result{}, errors.New("no C values to evaluate")
	}

	if opts.UnitRange {
		x = UnitRange(x)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed+1))
	idx := rng.Perm(len(x))
	nVal := int(math.Max(1, math.Round(holdout*float64(len(x)))))
	trainX, trainY := pick(x, y, idx[nVal:])
	valX, valY := pick(x, y, idx[:nVal])

	res := Result{Model: opts.Model, Train: len(trainX), Validate: len(valX)}
	for _, c := range opts.C {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		m, err := Fit(opts.Model, c, trainX, trainY, classes)
		if err != nil {
			return Result{}, err
		}
		s := Score{C: c, Accuracy: Accuracy(m, valX, valY)}
		res.Scores = append(res.Scores, s)
		if len(res.Scores) == 1 || s.Accuracy > res.Best.Accuracy {
			res.Best = s
		}
	}
	return res, nil
}

func pick(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	sort.Ints(idx)
	px := make([][]float64, len(idx))
	py := make([]int, len(idx))
	for i, j := range idx {
		px[i] = x[j]
		py[i] = y[j]
	}
	return px, py
}

// Fit trains a model of the given kind.
func Fit(model string, c float64, x [][]float64, y []int, classes int) (Model, error) {
	if len(x) == 0 {
		return nil, ErrTooFewExamples
	}
	if classes < 2 {
		return nil, fmt.Errorf("need at least two classes, got %d", classes)
	}
	for i, l := range y {
		if l < 0 || l >= classes {
			return nil, fmt.Errorf("label %d of example %d outside [0, %d)", l, i, classes)
		}
	}
	switch model {
	case ModelLogistic:
		return fitLogistic(c, x, y, classes), nil
	case ModelSVM:
		return fitSVM(c, x, y, classes), nil
	default:
		return nil, fmt.Errorf("unknown classifier model %q", model)
	}
}

// Accuracy returns the share of examples m classifies correctly.
func Accuracy(m Model, x [][]float64, y []int) float64 {
	if len(x) == 0 {
		return 0
	}
	correct := 0
	for i := range x {
		if m.Predict(x[i]) == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(x))
}

// UnitRange rescales every feature to [0, 1] across the examples. Constant
// features become zero.
func UnitRange(x [][]float64) [][]float64 {
	if len(x) == 0 {
		return x
	}
	dims := len(x[0])
	lo := make([]float64, dims)
	hi := make([]float64, dims)
	copy(lo, x[0])
	copy(hi, x[0])
	for _, row := range x[1:] {
		for j, v := range row {
			lo[j] = math.Min(lo[j], v)
			hi[j] = math.Max(hi[j], v)
		}
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		r := make([]float64, dims)
		for j, v := range row {
			if span := hi[j] - lo[j]; span > 0 {
				r[j] = (v - lo[j]) / span
			}
		}
		out[i] = r
	}
	return out
}
