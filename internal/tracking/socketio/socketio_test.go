package socketio

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidatesURL(t *testing.T) {
	t.Parallel()

	_, err := New(Options{URL: "localhost"})
	assert.ErrorContains(t, err, "needs a scheme and host")

	_, err = New(Options{URL: "http://%zz"})
	assert.ErrorContains(t, err, "failed to parse tracking URL")

	tr, err := New(Options{URL: "http://localhost:5000/track"})
	require.NoError(t, err)
	assert.Equal(t, defaultConnectTimeout, tr.opts.ConnectTimeout)
}

func TestTracker_NotStarted(t *testing.T) {
	t.Parallel()

	tr, err := New(Options{URL: "http://localhost:5000"})
	require.NoError(t, err)

	assert.ErrorContains(t, tr.LogMetric(context.Background(), "loss", 1, 1), "tracker not started")
	assert.ErrorContains(t, tr.Stop(context.Background(), "FINISHED"), "tracker not started")
}

func TestStart_UnreachableServerFails(t *testing.T) {
	t.Parallel()

	// Arrange: reserve a port and close it so nothing listens there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	tr, err := New(Options{URL: "http://" + addr, ConnectTimeout: 2 * time.Second})
	require.NoError(t, err)

	// Act
	err = tr.Start(context.Background(), "run", "exp")

	// Assert
	require.Error(t, err)
	assert.ErrorContains(t, tr.LogParams(context.Background(), map[string]any{"a": 1}), "tracker not started")
}
