// Package socketio implements tracking.Tracker on top of a socket.io
// connection to a tracking server.
//
// The tracker emits four events, each carrying the run id:
// run_start, log_param, log_metric and run_end.
package socketio

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/vk/pagirun/internal/ctxlog"
	"github.com/vk/pagirun/internal/tracking"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Event names emitted to the server.
const (
	EventRunStart  = "run_start"
	EventLogParam  = "log_param"
	EventLogMetric = "log_metric"
	EventRunEnd    = "run_end"
)

const defaultConnectTimeout = 15 * time.Second

// Options configures the connection.
type Options struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	// ConnectTimeout bounds Start. Zero means 15s.
	ConnectTimeout time.Duration
}

// Tracker is a socket.io backed tracking.Tracker.
type Tracker struct {
	opts Options

	mu     sync.Mutex
	client *socket.Socket
	runID  string
}

var _ tracking.Tracker = (*Tracker)(nil)

// New validates opts and returns an unconnected Tracker.
func New(opts Options) (*Tracker, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tracking URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("tracking URL %q needs a scheme and host", opts.URL)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	return &Tracker{opts: opts}, nil
}

// Start connects and announces the run.
func (t *Tracker) Start(ctx context.Context, runID, experimentID string) error {
	client, err := t.connect(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.client = client
	t.runID = runID
	t.mu.Unlock()

	return t.emit(EventRunStart, map[string]any{
		"run_id":        runID,
		"experiment_id": experimentID,
		"start_time":    time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (t *Tracker) connect(ctx context.Context) (*socket.Socket, error) {
	logger := ctxlog.FromContext(ctx).With("tracker", "socketio", "url", t.opts.URL)
	logger.Debug("Connecting to tracking server...")

	parsedURL, err := url.Parse(t.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tracking URL: %w", err)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if t.opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(t.opts.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Debug("Connected to tracking server.", "sid", io.Id())
		select {
		case connectChan <- nil:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connectChan <- err:
		default:
		}
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return io, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(t.opts.ConnectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", t.opts.ConnectTimeout)
	}
}

func (t *Tracker) emit(event string, data map[string]any) error {
	t.mu.Lock()
	client, runID := t.client, t.runID
	t.mu.Unlock()

	if client == nil {
		return fmt.Errorf("tracker not started")
	}
	if !client.Connected() {
		return fmt.Errorf("tracking connection lost (sid %s)", client.Id())
	}
	data["run_id"] = runID
	if err := client.Emit(event, data); err != nil {
		return fmt.Errorf("emitting %s: %w", event, err)
	}
	return nil
}

// LogParams sends the run parameters.
func (t *Tracker) LogParams(ctx context.Context, params map[string]any) error {
	return t.emit(EventLogParam, map[string]any{"params": params})
}

// LogMetric sends one scalar metric.
func (t *Tracker) LogMetric(ctx context.Context, key string, value float64, step int) error {
	return t.emit(EventLogMetric, map[string]any{"key": key, "value": value, "step": step})
}

// Stop announces the end of the run and disconnects.
func (t *Tracker) Stop(ctx context.Context, status string) error {
	err := t.emit(EventRunEnd, map[string]any{
		"status":   status,
		"end_time": time.Now().UTC().Format(time.RFC3339Nano),
	})

	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()
	if client != nil {
		ctxlog.FromContext(ctx).Debug("Disconnecting from tracking server.", "sid", client.Id())
		client.Disconnect()
	}
	return err
}
