package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_StartsClosed(t *testing.T) {
	b := New(DefaultConfig())
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, WindowSize: 5, OpenTimeout: time.Hour, HalfOpenMaxCalls: 1})
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_RecoversToHalfOpenAfterTimeout(t *testing.T) {
	b := New(Config{FailureThreshold: 1, WindowSize: 5, OpenTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 1})
	b.RecordFailure()
	require.Equal(t, Open, b.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, HalfOpen, b.State())
}

func TestBreaker_HalfOpenSuccessClosesBreaker(t *testing.T) {
	b := New(Config{FailureThreshold: 1, WindowSize: 5, OpenTimeout: 5 * time.Millisecond, HalfOpenMaxCalls: 1})
	b.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, HalfOpen, b.State())

	require.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, WindowSize: 5, OpenTimeout: 5 * time.Millisecond, HalfOpenMaxCalls: 1})
	b.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, HalfOpen, b.State())

	require.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestBreaker_HalfOpenLimitsConcurrentTrials(t *testing.T) {
	b := New(Config{FailureThreshold: 1, WindowSize: 5, OpenTimeout: 5 * time.Millisecond, HalfOpenMaxCalls: 1})
	b.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, HalfOpen, b.State())

	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "a second concurrent trial must be rejected")
}

func TestBreaker_Call_WrapsErrOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 1, WindowSize: 5, OpenTimeout: time.Hour, HalfOpenMaxCalls: 1})
	b.RecordFailure()

	err := b.Call(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_Call_PropagatesFailure(t *testing.T) {
	b := New(DefaultConfig())
	boom := errors.New("boom")
	err := b.Call(context.Background(), func(ctx context.Context) error { return boom })
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestBreaker_WindowIsBounded(t *testing.T) {
	b := New(Config{FailureThreshold: 100, WindowSize: 3, OpenTimeout: time.Hour, HalfOpenMaxCalls: 1})
	for i := 0; i < 10; i++ {
		b.RecordSuccess()
	}
	b.mu.Lock()
	n := len(b.window)
	b.mu.Unlock()
	assert.LessOrEqual(t, n, 3)
}

func TestBreaker_StaysClosedBelowMinThroughputThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 1, WindowSize: 10, OpenTimeout: time.Hour, HalfOpenMaxCalls: 1, MinThroughputThreshold: 5})
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.State(), "window has fewer outcomes than min_throughput_threshold")
}

func TestBreaker_TripsOnceThroughputThresholdReached(t *testing.T) {
	b := New(Config{FailureThreshold: 2, WindowSize: 10, OpenTimeout: time.Hour, HalfOpenMaxCalls: 1, MinThroughputThreshold: 5})
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.State())
	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordSuccess()
	assert.Equal(t, Open, b.State(), "five outcomes reached, two of which are failures")
}

func TestBreaker_Stats_TracksTotalsAndSuccessRate(t *testing.T) {
	b := New(DefaultConfig())
	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()

	stats := b.Stats()
	assert.Equal(t, int64(3), stats.TotalCalls)
	assert.Equal(t, int64(2), stats.SucceededCalls)
	assert.Equal(t, int64(1), stats.FailedCalls)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 0.0001)
}
