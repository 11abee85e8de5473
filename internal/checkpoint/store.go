package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vk/pagirun/internal/ctxlog"
	"github.com/vk/pagirun/internal/session"
	"github.com/vmihailenco/msgpack/v5"
)

const formatVersion byte = 1

var magic = []byte("PGCK")

var (
	// ErrFormat is returned for files that are not checkpoints or use an
	// unsupported format version.
	ErrFormat = errors.New("invalid checkpoint format")
	// ErrRestore wraps every failure to restore a session from a checkpoint.
	ErrRestore = errors.New("checkpoint restore failed")
)

// Store saves and loads variable maps.
type Store interface {
	Save(ctx context.Context, path string, vars map[string]session.Tensor) error
	Load(ctx context.Context, path string) (map[string]session.Tensor, error)
}

type tensor struct {
	Shape []int     `msgpack:"shape"`
	Data  []float64 `msgpack:"data"`
}

type payload struct {
	Created   time.Time         `msgpack:"created"`
	Variables map[string]tensor `msgpack:"variables"`
}

// FileStore stores checkpoints on the local filesystem.
type FileStore struct {
	// Level is the zstd compression level. The zero value selects
	// zstd.SpeedDefault.
	Level zstd.EncoderLevel
}

// NewFileStore returns a FileStore with default compression.
func NewFileStore() *FileStore {
	return &FileStore{Level: zstd.SpeedDefault}
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, path string, vars map[string]session.Tensor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := payload{Created: time.Now().UTC(), Variables: make(map[string]tensor, len(vars))}
	for name, t := range vars {
		p.Variables[name] = tensor{Shape: t.Shape, Data: t.Data}
	}
	raw, err := msgpack.Marshal(&p)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	level := s.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	var buf bytes.Buffer
	buf.Write(magic)
	buf.WriteByte(formatVersion)
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(level))
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return fmt.Errorf("compressing checkpoint: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("compressing checkpoint: %w", err)
	}

	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("Checkpoint saved.", "path", path, "variables", len(vars), "bytes", buf.Len())
	return nil
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, path string) (map[string]session.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	header := len(magic) + 1
	if len(data) < header || !bytes.Equal(data[:len(magic)], magic) {
		return nil, fmt.Errorf("%w: %s: bad magic", ErrFormat, path)
	}
	if v := data[len(magic)]; v != formatVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrFormat, path, v)
	}

	dec, err := zstd.NewReader(bytes.NewReader(data[header:]))
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}

	var p payload
	if err := msgpack.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}
	out := make(map[string]session.Tensor, len(p.Variables))
	for name, t := range p.Variables {
		n := 1
		for _, d := range t.Shape {
			n *= d
		}
		if n != len(t.Data) {
			return nil, fmt.Errorf("%w: %s: variable %q has %d values for shape %v", ErrFormat, path, name, len(t.Data), t.Shape)
		}
		out[name] = session.Tensor{Shape: t.Shape, Data: t.Data}
	}
	ctxlog.FromContext(ctx).Debug("Checkpoint loaded.", "path", path, "variables", len(out), "created", p.Created)
	return out, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("moving checkpoint into place: %w", err)
	}
	return nil
}
