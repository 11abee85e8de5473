// Package summary writes diagnostic records produced by components and by
// the workflow, tagged with the batch index they belong to.
package summary

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Writer receives summary records for one batch type.
type Writer interface {
	Scalar(tag string, step int, value float64) error
	Histogram(tag string, step int, values []float64) error
	Flush() error
	Close() error
}

// Record is a single summary entry as written to disk.
type Record struct {
	Time      time.Time  `json:"time"`
	Step      int        `json:"step"`
	Tag       string     `json:"tag"`
	Value     *float64   `json:"value,omitempty"`
	Histogram *Histogram `json:"histogram,omitempty"`
}

// Histogram summarises a set of values.
type Histogram struct {
	Count   int       `json:"count"`
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
	Mean    float64   `json:"mean"`
	Buckets []int     `json:"buckets"`
	Edges   []float64 `json:"edges"`
}

// histogramBuckets is the number of equal-width buckets per histogram.
const histogramBuckets = 10

// NewHistogram computes a histogram of values.
func NewHistogram(values []float64) *Histogram {
	h := &Histogram{Count: len(values), Buckets: make([]int, histogramBuckets)}
	if len(values) == 0 {
		return h
	}
	h.Min, h.Max = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, v := range values {
		h.Min = math.Min(h.Min, v)
		h.Max = math.Max(h.Max, v)
		sum += v
	}
	h.Mean = sum / float64(len(values))

	width := (h.Max - h.Min) / histogramBuckets
	h.Edges = make([]float64, histogramBuckets+1)
	for i := range h.Edges {
		h.Edges[i] = h.Min + float64(i)*width
	}
	for _, v := range values {
		i := histogramBuckets - 1
		if width > 0 {
			i = int((v - h.Min) / width)
			if i >= histogramBuckets {
				i = histogramBuckets - 1
			}
		}
		h.Buckets[i]++
	}
	return h
}

// FileWriter appends JSON-lines records to a file.
type FileWriter struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	enc  *json.Encoder
	path string
}

// NewFileWriter creates dir if needed and opens dir/name.jsonl for appending.
func NewFileWriter(dir, name string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating summary directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, name+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening summary file %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	return &FileWriter{f: f, w: w, enc: json.NewEncoder(w), path: path}, nil
}

// Path returns the file the writer appends to.
func (fw *FileWriter) Path() string { return fw.path }

func (fw *FileWriter) write(r Record) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.f == nil {
		return os.ErrClosed
	}
	r.Time = time.Now().UTC()
	return fw.enc.Encode(r)
}

// Scalar implements Writer.
func (fw *FileWriter) Scalar(tag string, step int, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("summary %q: non-finite value %v", tag, value)
	}
	return fw.write(Record{Step: step, Tag: tag, Value: &value})
}

// Histogram implements Writer.
func (fw *FileWriter) Histogram(tag string, step int, values []float64) error {
	return fw.write(Record{Step: step, Tag: tag, Histogram: NewHistogram(values)})
}

// Flush implements Writer.
func (fw *FileWriter) Flush() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.f == nil {
		return nil
	}
	return fw.w.Flush()
}

// Close implements Writer.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.f == nil {
		return nil
	}
	flushErr := fw.w.Flush()
	closeErr := fw.f.Close()
	fw.f = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
