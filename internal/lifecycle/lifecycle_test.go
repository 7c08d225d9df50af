package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_RunsHooksInPriorityOrder(t *testing.T) {
	c := New()
	var order []string
	c.OnStartup(Hook{Name: "low", Priority: Low, Fn: func(ctx context.Context) error {
		order = append(order, "low")
		return nil
	}})
	c.OnStartup(Hook{Name: "critical", Priority: Critical, Fn: func(ctx context.Context) error {
		order = append(order, "critical")
		return nil
	}})
	c.OnStartup(Hook{Name: "normal", Priority: Normal, Fn: func(ctx context.Context) error {
		order = append(order, "normal")
		return nil
	}})

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, []string{"critical", "normal", "low"}, order)
	assert.Equal(t, Running, c.Phase())
}

func TestStart_FromWrongPhaseFails(t *testing.T) {
	c := New()
	require.NoError(t, c.Start(context.Background()))
	err := c.Start(context.Background())
	assert.Error(t, err)
}

func TestStart_HookFailureAbortsStartup(t *testing.T) {
	c := New()
	c.OnStartup(Hook{Name: "boom", Fn: func(ctx context.Context) error {
		return assertErr("boom")
	}})
	err := c.Start(context.Background())
	assert.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestShutdown_RunsHooksInReversePriorityOrder(t *testing.T) {
	c := New()
	var order []string
	c.OnShutdown(Hook{Name: "critical", Priority: Critical, Fn: func(ctx context.Context) error {
		order = append(order, "critical")
		return nil
	}})
	c.OnShutdown(Hook{Name: "low", Priority: Low, Fn: func(ctx context.Context) error {
		order = append(order, "low")
		return nil
	}})

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, []string{"low", "critical"}, order)
	assert.Equal(t, Stopped, c.Phase())
}

func TestShutdown_ContinuesPastHookFailures(t *testing.T) {
	c := New()
	ran := false
	c.OnShutdown(Hook{Name: "first-fails", Priority: Normal, Fn: func(ctx context.Context) error {
		return assertErr("fail")
	}})
	c.OnShutdown(Hook{Name: "second-runs", Priority: Low, Fn: func(ctx context.Context) error {
		ran = true
		return nil
	}})

	require.NoError(t, c.Start(context.Background()))
	err := c.Shutdown(context.Background())
	assert.Error(t, err)
	assert.True(t, ran)
}

func TestWaitForSignal_ReturnsNilOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	sig := WaitForSignal(ctx)
	assert.Nil(t, sig)
}
