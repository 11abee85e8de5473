// Package synthetic provides a seeded dataset of Gaussian blobs shaped as
// small square images. It needs no files and is used for demos and tests.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/vk/pagirun/internal/dataset"
	"github.com/vk/pagirun/internal/registry"
)

// Name is the registry name of the dataset.
const Name = "synthetic"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the dataset constructor.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterDataset(Name, func(ctx context.Context, opts dataset.Options) (dataset.Dataset, error) {
		cfg := DefaultConfig()
		cfg.Seed = opts.Seed
		return New(cfg)
	})
}

// Config shapes the generated data.
type Config struct {
	// Side is the width and height of one sample.
	Side    int
	Classes int
	Train   int
	Test    int
	// Spread is the standard deviation around each class center.
	Spread float64
	Seed   uint64
}

// DefaultConfig returns 4x4 samples in three classes.
func DefaultConfig() Config {
	return Config{Side: 4, Classes: 3, Train: 300, Test: 90, Spread: 0.15}
}

// Dataset is the generated dataset.
type Dataset struct {
	cfg   Config
	train dataset.Examples
	test  dataset.Examples
}

var _ dataset.Dataset = (*Dataset)(nil)

// New generates a dataset. The same config always yields the same data.
func New(cfg Config) (*Dataset, error) {
	if cfg.Side <= 0 || cfg.Classes < 2 || cfg.Train <= 0 || cfg.Test <= 0 {
		return nil, fmt.Errorf("invalid synthetic dataset config %+v", cfg)
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5deece66d))
	dims := cfg.Side * cfg.Side

	centers := make([][]float64, cfg.Classes)
	for k := range centers {
		centers[k] = make([]float64, dims)
		for j := range centers[k] {
			centers[k][j] = rng.Float64()
		}
	}

	gen := func(n int) dataset.Examples {
		e := dataset.Examples{Inputs: make([][]float64, n), Labels: make([]int, n)}
		for i := 0; i < n; i++ {
			k := i % cfg.Classes
			x := make([]float64, dims)
			for j := range x {
				x[j] = math.Min(1, math.Max(0, centers[k][j]+cfg.Spread*rng.NormFloat64()))
			}
			e.Inputs[i] = x
			e.Labels[i] = k
		}
		return e
	}

	d := &Dataset{cfg: cfg, train: gen(cfg.Train), test: gen(cfg.Test)}
	return d, nil
}

func (d *Dataset) Name() string    { return Name }
func (d *Dataset) Shape() []int    { return []int{d.cfg.Side, d.cfg.Side} }
func (d *Dataset) NumClasses() int { return d.cfg.Classes }

func (d *Dataset) Train(batchSize int) dataset.Iterator {
	return dataset.NewIterator(d.train, batchSize, d.cfg.Seed)
}

func (d *Dataset) Test(batchSize int) dataset.Iterator {
	return dataset.NewIterator(d.test, batchSize, d.cfg.Seed+1)
}
