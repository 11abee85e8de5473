package classifier_test

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pagirun/internal/classifier"
	"github.com/vk/pagirun/internal/config"
	"github.com/vk/pagirun/internal/options"
)

// blobs returns well separated clusters placed evenly on a circle.
func blobs(n, classes int) ([][]float64, []int) {
	rng := rand.New(rand.NewPCG(1, 2))
	var x [][]float64
	var y []int
	for i := 0; i < n; i++ {
		k := i % classes
		angle := 2 * math.Pi * float64(k) / float64(classes)
		x = append(x, []float64{3*math.Cos(angle) + 0.3*rng.NormFloat64(), 3*math.Sin(angle) + 0.3*rng.NormFloat64()})
		y = append(y, k)
	}
	return x, y
}

func TestFit_SeparableData(t *testing.T) {
	t.Parallel()

	for _, model := range []string{classifier.ModelLogistic, classifier.ModelSVM} {
		t.Run(model, func(t *testing.T) {
			t.Parallel()
			x, y := blobs(60, 3)

			m, err := classifier.Fit(model, 10, x, y, 3)

			require.NoError(t, err)
			assert.GreaterOrEqual(t, classifier.Accuracy(m, x, y), 0.95)
		})
	}
}

func TestFit_Errors(t *testing.T) {
	t.Parallel()

	x, y := blobs(4, 2)
	_, err := classifier.Fit("forest", 1, x, y, 2)
	assert.ErrorContains(t, err, `unknown classifier model "forest"`)

	_, err = classifier.Fit(classifier.ModelLogistic, 1, x, y, 1)
	assert.ErrorContains(t, err, "at least two classes")

	_, err = classifier.Fit(classifier.ModelLogistic, 1, x, []int{0, 1, 2, 0}, 2)
	assert.ErrorContains(t, err, "outside [0, 2)")

	_, err = classifier.Fit(classifier.ModelLogistic, 1, nil, nil, 2)
	assert.ErrorIs(t, err, classifier.ErrTooFewExamples)
}

func TestEvaluate_ReportsEveryC(t *testing.T) {
	t.Parallel()

	// Arrange
	x, y := blobs(50, 2)
	opts := classifier.Options{Model: classifier.ModelLogistic, C: []float64{0.1, 1, 10}, Seed: 3}

	// Act
	res, err := classifier.Evaluate(context.Background(), opts, x, y, 2)

	// Assert
	require.NoError(t, err)
	require.Len(t, res.Scores, 3)
	assert.Equal(t, 40, res.Train)
	assert.Equal(t, 10, res.Validate)
	for _, s := range res.Scores {
		assert.LessOrEqual(t, s.Accuracy, res.Best.Accuracy)
	}
	assert.GreaterOrEqual(t, res.Best.Accuracy, 0.9)

	again, err := classifier.Evaluate(context.Background(), opts, x, y, 2)
	require.NoError(t, err)
	assert.Equal(t, res, again, "evaluation is deterministic for a seed")
}

func TestEvaluate_TooFewExamples(t *testing.T) {
	t.Parallel()

	_, err := classifier.Evaluate(context.Background(), classifier.Options{Model: "svm", C: []float64{1}}, [][]float64{{1}}, []int{0}, 2)
	assert.ErrorIs(t, err, classifier.ErrTooFewExamples)
}

func TestOptionsFrom(t *testing.T) {
	t.Parallel()

	set := config.DefaultClassifierOptions(10)
	opts, err := classifier.OptionsFrom(set, 9)
	require.NoError(t, err)
	assert.Equal(t, classifier.Options{Model: "logistic", C: []float64{0.01, 0.1, 1, 10}, Seed: 9}, opts)

	svm := config.DefaultClassifierOptions(10)
	require.NoError(t, svm.Override(options.MustMapping(map[string]any{
		"model":      "svm",
		"unit_range": true,
		"hparams":    map[string]any{"svm": map[string]any{"C": []any{2, 20}}},
	}), options.Strict))
	opts, err = classifier.OptionsFrom(svm, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 20}, opts.C)
	assert.True(t, opts.UnitRange)

	missing := config.DefaultClassifierOptions(10)
	require.NoError(t, missing.Override(options.MustMapping(map[string]any{
		"hparams": map[string]any{"svm": map[string]any{"C": []any{1}}},
	}), options.Strict))
	_, err = classifier.OptionsFrom(missing, 0)
	assert.ErrorContains(t, err, `no hparams for classifier model "logistic"`)
}

func TestUnitRange(t *testing.T) {
	t.Parallel()

	got := classifier.UnitRange([][]float64{{0, 5}, {10, 5}, {5, 5}})

	assert.Equal(t, [][]float64{{0, 0}, {1, 0}, {0.5, 0}}, got)
}
