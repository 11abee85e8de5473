package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/options"
	"github.com/vk/pagirun/internal/session"
	"github.com/vk/pagirun/internal/summary"
)

// CallLog records protocol calls across several components so tests can
// assert on their interleaving.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *CallLog) add(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls, formatted as "<name>.<method>(<batch type>)".
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// RecordingComponent is a scripted component.Component.
type RecordingComponent struct {
	Name string
	Log  *CallLog

	// Feed is bound on every UpdateFeedDict call.
	Feed component.FeedDict
	// Fetches are requested on Training steps. EncodingFetches are requested
	// on Encoding steps; when nil, Fetches is used for both.
	Fetches         []session.Handle
	EncodingFetches []session.Handle

	FeedErr  error
	FetchErr error
	SetErr   error

	// HParams builds the defaults; nil means an empty set.
	HParams func() *options.OptionSet

	mu       sync.Mutex
	resets   int
	received []component.FetchDict
	built    []component.BatchType
	written  []int
}

var _ component.Component = (*RecordingComponent)(nil)

func (c *RecordingComponent) DefaultHyperparameters() *options.OptionSet {
	if c.HParams == nil {
		return options.New()
	}
	return c.HParams()
}

func (c *RecordingComponent) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
	c.Log.add("%s.Reset()", c.Name)
}

func (c *RecordingComponent) UpdateFeedDict(ctx context.Context, feed component.FeedDict, bt component.BatchType) error {
	c.Log.add("%s.UpdateFeedDict(%s)", c.Name, bt)
	if c.FeedErr != nil {
		return c.FeedErr
	}
	for h, v := range c.Feed {
		feed[h] = v
	}
	return nil
}

func (c *RecordingComponent) AddFetches(ctx context.Context, fetches component.FetchDict, bt component.BatchType) error {
	c.Log.add("%s.AddFetches(%s)", c.Name, bt)
	if c.FetchErr != nil {
		return c.FetchErr
	}
	keys := c.Fetches
	if bt == component.Encoding && c.EncodingFetches != nil {
		keys = c.EncodingFetches
	}
	for _, h := range keys {
		fetches[h] = nil
	}
	return nil
}

func (c *RecordingComponent) SetFetches(ctx context.Context, fetched component.FetchDict, bt component.BatchType) error {
	c.Log.add("%s.SetFetches(%s)", c.Name, bt)
	c.mu.Lock()
	cp := make(component.FetchDict, len(fetched))
	for h, v := range fetched {
		cp[h] = v
	}
	c.received = append(c.received, cp)
	c.mu.Unlock()
	return c.SetErr
}

func (c *RecordingComponent) BuildSummaries(batchTypes []component.BatchType, maxOutputs int, scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.built = append(c.built, batchTypes...)
	c.Log.add("%s.BuildSummaries()", c.Name)
}

func (c *RecordingComponent) WriteSummaries(ctx context.Context, step int, writer summary.Writer, bt component.BatchType) error {
	c.mu.Lock()
	c.written = append(c.written, step)
	c.mu.Unlock()
	c.Log.add("%s.WriteSummaries(%s)", c.Name, bt)
	return writer.Scalar(c.Name+"/step", step, float64(step))
}

// Resets returns how often Reset was called.
func (c *RecordingComponent) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

// Received returns every FetchDict delivered to SetFetches.
func (c *RecordingComponent) Received() []component.FetchDict {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]component.FetchDict(nil), c.received...)
}

// Written returns the step of every WriteSummaries call.
func (c *RecordingComponent) Written() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.written...)
}

// Built returns the batch types passed to BuildSummaries.
func (c *RecordingComponent) Built() []component.BatchType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]component.BatchType(nil), c.built...)
}
