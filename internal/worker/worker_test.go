package worker

import (
	"context"
	"testing"

	"github.com/kobaltstream/dubrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartsIdle(t *testing.T) {
	w := New(domain.DefaultWorkerConfig())
	assert.Equal(t, domain.Idle, w.State())
	assert.Equal(t, domain.Idle, w.Metrics().State)
}

func TestStop_IdempotentOnNeverStartedWorker(t *testing.T) {
	w := New(domain.DefaultWorkerConfig())

	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, domain.Stopped, w.State())

	// Calling again must not panic or error.
	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, domain.Stopped, w.State())
}

func TestStart_RejectsDoubleStart(t *testing.T) {
	w := New(domain.DefaultWorkerConfig())
	w.config.STSURL = "ws://127.0.0.1:1/nonexistent"
	w.config.RTMPOutputURL = "rtmp://127.0.0.1:1/app/out"

	// The first Start will fail fast (nothing listening), which is fine:
	// we only assert it doesn't leave the worker in a state that allows
	// a concurrent Start to proceed past the state check.
	w.mu.Lock()
	w.state = domain.Connecting
	w.mu.Unlock()

	err := w.Start(context.Background())
	assert.Error(t, err)
}
