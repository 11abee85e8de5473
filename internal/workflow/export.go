package workflow

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/vk/pagirun/internal/checkpoint"
	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/ctxlog"
)

// CheckpointPath returns where the checkpoint of batch is exported under dir.
func CheckpointPath(dir string, batch int) string {
	return filepath.Join(dir, "checkpoints", fmt.Sprintf("model-%d.ckpt", batch))
}

// FiltersPath returns where the filter image of batch is exported under dir.
func FiltersPath(dir string, batch int) string {
	return filepath.Join(dir, "filters", fmt.Sprintf("filters-%d.png", batch))
}

// exportArtifacts writes the checkpoint and filter image of batch. Failures
// are logged only.
func (w *Default) exportArtifacts(ctx context.Context, r *run, batch int) {
	logger := ctxlog.FromContext(ctx)
	dir := w.deps.SummaryDir
	if dir == "" {
		logger.Debug("No summary directory, export skipped.", "batch", batch)
		return
	}

	if w.export.Checkpoint {
		path := CheckpointPath(dir, batch)
		if err := checkpoint.Export(ctx, w.deps.Store, r.sess, path); err != nil {
			logger.Warn("Checkpoint export failed.", "batch", batch, "error", err)
		} else {
			r.exported++
			logger.Info("Checkpoint exported.", "batch", batch, "path", path)
		}
	}

	if w.export.Filters {
		fe, ok := r.comp.(component.FilterExporter)
		if !ok {
			return
		}
		filters, width, height := fe.Filters()
		if len(filters) == 0 {
			logger.Debug("No filters to export yet.", "batch", batch)
			return
		}
		path := FiltersPath(dir, batch)
		if err := writeFilters(path, filters, width, height); err != nil {
			logger.Warn("Filter export failed.", "batch", batch, "error", err)
			return
		}
		r.exported++
		logger.Info("Filters exported.", "batch", batch, "path", path, "count", len(filters))
	}
}

// writeFilters renders filters as a grayscale grid, one tile per filter,
// each scaled to its own value range.
func writeFilters(path string, filters [][]float64, width, height int) error {
	if width*height <= 0 {
		return fmt.Errorf("invalid filter size %dx%d", width, height)
	}
	const pad = 1
	cols := int(math.Ceil(math.Sqrt(float64(len(filters)))))
	rows := (len(filters) + cols - 1) / cols
	img := image.NewGray(image.Rect(0, 0, cols*(width+pad)+pad, rows*(height+pad)+pad))

	for n, f := range filters {
		if len(f) != width*height {
			return fmt.Errorf("filter %d has %d values, expected %d", n, len(f), width*height)
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range f {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
		span := hi - lo
		x0 := pad + (n%cols)*(width+pad)
		y0 := pad + (n/cols)*(height+pad)
		for i, v := range f {
			var g uint8
			if span > 0 {
				g = uint8(math.Round(255 * (v - lo) / span))
			}
			img.SetGray(x0+i%width, y0+i/width, color.Gray{Y: g})
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
