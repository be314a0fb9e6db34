package backpressure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_NoPressureReturnsImmediately(t *testing.T) {
	g := New()
	start := time.Now()
	require.NoError(t, g.WaitAndDelay(context.Background()))
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestGate_SlowDownDelaysPerSeverity(t *testing.T) {
	g := New()
	g.SetSlowDown(Low, 0)
	start := time.Now()
	require.NoError(t, g.WaitAndDelay(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestGate_SlowDownUsesRecommendedDelay(t *testing.T) {
	g := New()
	g.SetSlowDown(Medium, 30*time.Millisecond)
	start := time.Now()
	require.NoError(t, g.WaitAndDelay(context.Background()))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, 200*time.Millisecond, "recommended delay must override the medium default")
}

func TestGate_SetNoneClearsPauseAndDelay(t *testing.T) {
	g := New()
	g.SetSlowDown(High, 0)
	g.SetPause()
	g.SetNone()

	paused, delay := g.State()
	assert.False(t, paused)
	assert.Equal(t, time.Duration(0), delay)

	start := time.Now()
	require.NoError(t, g.WaitAndDelay(context.Background()))
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestGate_PauseBlocksUntilResume(t *testing.T) {
	g := New()
	g.SetPause()

	done := make(chan error, 1)
	go func() { done <- g.WaitAndDelay(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitAndDelay returned before Resume was called")
	case <-time.After(30 * time.Millisecond):
	}

	g.Resume()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitAndDelay did not unblock after Resume")
	}
}

func TestGate_PauseTimesOutViaContext(t *testing.T) {
	g := New()
	g.SetPause()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := g.WaitAndDelay(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
