// Package mnist reads the MNIST handwritten digit dataset from its gzipped
// IDX files.
//
// The four files are looked up by name under the configured location and
// then under /tmp/mnist. When a source URL is configured, missing files are
// downloaded into the location first. Pixel values are scaled to [0, 1].
package mnist

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/vk/pagirun/internal/ctxlog"
	"github.com/vk/pagirun/internal/dataset"
	"github.com/vk/pagirun/internal/fsutil"
	"github.com/vk/pagirun/internal/registry"
)

// Name is the registry name of the dataset.
const Name = "mnist"

const (
	trainImages = "train-images-idx3-ubyte.gz"
	trainLabels = "train-labels-idx1-ubyte.gz"
	testImages  = "t10k-images-idx3-ubyte.gz"
	testLabels  = "t10k-labels-idx1-ubyte.gz"

	imagesMagic = 0x00000803
	labelsMagic = 0x00000801
	classes     = 10
)

const defaultDirectory = "/tmp/mnist"

// DefaultMirror serves the original gzipped IDX files.
const DefaultMirror = "https://storage.googleapis.com/cvdf-datasets/mnist/"

// Published SHA-256 digests of the original files.
var digests = map[string]string{
	trainImages: "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609",
	trainLabels: "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c",
	testImages:  "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6",
	testLabels:  "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6",
}

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the dataset constructor.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterDataset(Name, func(ctx context.Context, opts dataset.Options) (dataset.Dataset, error) {
		return Load(ctx, opts)
	})
}

// Dataset is MNIST held in memory.
type Dataset struct {
	rows, cols int
	train      dataset.Examples
	test       dataset.Examples
	seed       uint64
}

var _ dataset.Dataset = (*Dataset)(nil)

// Load reads both splits.
func Load(ctx context.Context, opts dataset.Options) (*Dataset, error) {
	logger := ctxlog.FromContext(ctx)
	roots := []string{opts.Location, defaultDirectory}

	if opts.SourceURL != "" {
		dir := opts.Location
		if dir == "" {
			dir = defaultDirectory
		}
		client := newDownloadClient(downloadTimeout)
		defer client.CloseIdleConnections()
		for _, name := range []string{trainImages, trainLabels, testImages, testLabels} {
			if _, err := fsutil.FindFile(roots, name); err == nil {
				continue
			}
			if err := download(ctx, client, opts.SourceURL, dir, name); err != nil {
				return nil, err
			}
		}
	}

	d := &Dataset{seed: opts.Seed}
	var err error
	var rows, cols int
	if d.train, rows, cols, err = loadSplit(ctx, roots, trainImages, trainLabels); err != nil {
		return nil, err
	}
	if d.test, d.rows, d.cols, err = loadSplit(ctx, roots, testImages, testLabels); err != nil {
		return nil, err
	}
	if rows != d.rows || cols != d.cols {
		return nil, fmt.Errorf("mnist: train images are %dx%d but test images are %dx%d", rows, cols, d.rows, d.cols)
	}

	logger.Info("MNIST loaded.", "train", len(d.train.Inputs), "test", len(d.test.Inputs), "rows", d.rows, "cols", d.cols)
	return d, nil
}

func loadSplit(ctx context.Context, roots []string, imagesFile, labelsFile string) (dataset.Examples, int, int, error) {
	imgData, err := readFile(ctx, roots, imagesFile)
	if err != nil {
		return dataset.Examples{}, 0, 0, err
	}
	lblData, err := readFile(ctx, roots, labelsFile)
	if err != nil {
		return dataset.Examples{}, 0, 0, err
	}

	inputs, rows, cols, err := parseImages(imgData)
	if err != nil {
		return dataset.Examples{}, 0, 0, fmt.Errorf("mnist: %s: %w", imagesFile, err)
	}
	labels, err := parseLabels(lblData)
	if err != nil {
		return dataset.Examples{}, 0, 0, fmt.Errorf("mnist: %s: %w", labelsFile, err)
	}

	e := dataset.Examples{Inputs: inputs, Labels: labels}
	if err := e.Validate(rows*cols, classes); err != nil {
		return dataset.Examples{}, 0, 0, fmt.Errorf("mnist: %s: %w", imagesFile, err)
	}
	return e, rows, cols, nil
}

// readFile locates name, checks its digest and returns the decompressed
// contents.
func readFile(ctx context.Context, roots []string, name string) ([]byte, error) {
	path, err := fsutil.FindFile(roots, name)
	if err != nil {
		return nil, fmt.Errorf("mnist: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mnist: %w", err)
	}

	sum := sha256.Sum256(raw)
	if got := hex.EncodeToString(sum[:]); got != digests[name] {
		ctxlog.FromContext(ctx).Warn("MNIST file digest differs from the published one.", "path", path, "sha256", got)
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("mnist: gzip file '%s': %w", path, err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("mnist: buffering file '%s': %w", path, err)
	}
	return data, nil
}

func parseImages(data []byte) ([][]float64, int, int, error) {
	if len(data) < 16 {
		return nil, 0, 0, fmt.Errorf("truncated header")
	}
	if m := binary.BigEndian.Uint32(data[0:4]); m != imagesMagic {
		return nil, 0, 0, fmt.Errorf("bad magic %#08x", m)
	}
	n := int(binary.BigEndian.Uint32(data[4:8]))
	rows := int(binary.BigEndian.Uint32(data[8:12]))
	cols := int(binary.BigEndian.Uint32(data[12:16]))
	size := rows * cols
	body := data[16:]
	if len(body) != n*size {
		return nil, 0, 0, fmt.Errorf("expected %d bytes of pixels, got %d", n*size, len(body))
	}
	out := make([][]float64, n)
	for i := range out {
		img := make([]float64, size)
		for j, px := range body[i*size : (i+1)*size] {
			img[j] = float64(px) / 255
		}
		out[i] = img
	}
	return out, rows, cols, nil
}

func parseLabels(data []byte) ([]int, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("truncated header")
	}
	if m := binary.BigEndian.Uint32(data[0:4]); m != labelsMagic {
		return nil, fmt.Errorf("bad magic %#08x", m)
	}
	n := int(binary.BigEndian.Uint32(data[4:8]))
	body := data[8:]
	if len(body) != n {
		return nil, fmt.Errorf("expected %d labels, got %d", n, len(body))
	}
	out := make([]int, n)
	for i, b := range body {
		out[i] = int(b)
	}
	return out, nil
}

func (d *Dataset) Name() string    { return Name }
func (d *Dataset) Shape() []int    { return []int{d.rows, d.cols} }
func (d *Dataset) NumClasses() int { return classes }

func (d *Dataset) Train(batchSize int) dataset.Iterator {
	return dataset.NewIterator(d.train, batchSize, d.seed)
}

func (d *Dataset) Test(batchSize int) dataset.Iterator {
	return dataset.NewIterator(d.test, batchSize, d.seed+1)
}
