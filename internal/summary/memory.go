package summary

import "sync"

// MemoryWriter keeps records in memory.
type MemoryWriter struct {
	mu      sync.Mutex
	records []Record
	flushes int
}

// Records returns a copy of everything written so far.
func (m *MemoryWriter) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Steps returns the step of every record in write order.
func (m *MemoryWriter) Steps() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.records))
	for i, r := range m.records {
		out[i] = r.Step
	}
	return out
}

func (m *MemoryWriter) Scalar(tag string, step int, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, Record{Step: step, Tag: tag, Value: &value})
	return nil
}

func (m *MemoryWriter) Histogram(tag string, step int, values []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, Record{Step: step, Tag: tag, Histogram: NewHistogram(values)})
	return nil
}

func (m *MemoryWriter) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

func (m *MemoryWriter) Close() error { return nil }

// Discard is a Writer that drops every record.
var Discard Writer = discard{}

type discard struct{}

func (discard) Scalar(string, int, float64) error      { return nil }
func (discard) Histogram(string, int, []float64) error { return nil }
func (discard) Flush() error                           { return nil }
func (discard) Close() error                           { return nil }
