package healthcheck

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChecker_BecomesUnhealthyAfterConsecutiveFailures(t *testing.T) {
	c := New(Config{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Second}, nil)
	c.record(false)
	c.record(false)
	assert.Equal(t, Unknown, c.Status())
	c.record(false)
	assert.Equal(t, Unhealthy, c.Status())
}

func TestChecker_RecoversAfterConsecutiveSuccesses(t *testing.T) {
	c := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second}, nil)
	c.record(false)
	assert.Equal(t, Unhealthy, c.Status())
	c.record(true)
	assert.Equal(t, Unhealthy, c.Status(), "one success is not enough yet")
	c.record(true)
	assert.Equal(t, Healthy, c.Status())
}

func TestChecker_MixedOutcomesResetCounters(t *testing.T) {
	c := New(Config{FailureThreshold: 2, SuccessThreshold: 2, Timeout: time.Second}, nil)
	c.record(false)
	c.record(true)
	c.record(false)
	assert.Equal(t, Unknown, c.Status(), "interleaved success resets the failure streak")
}

func TestChecker_EndToEndWithRealProbe(t *testing.T) {
	calls := 0
	probe := func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return errors.New("down")
		}
		return nil
	}
	c := New(Config{Interval: time.Millisecond, FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Second}, probe)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	eventually := func(cond func() bool) {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if cond() {
				return
			}
			time.Sleep(time.Millisecond)
		}
		t.Fatal("condition never became true")
	}

	eventually(func() bool { return c.Status() == Unhealthy })
	eventually(func() bool { return c.Status() == Healthy })
}

func TestChecker_ChangesChannelReportsTransitions(t *testing.T) {
	c := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second}, nil)
	c.record(false)
	select {
	case s := <-c.Changes():
		assert.Equal(t, Unhealthy, s)
	default:
		t.Fatal("expected a status change notification")
	}
}
