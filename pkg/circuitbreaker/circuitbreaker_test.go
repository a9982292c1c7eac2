package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errUpstream = errors.New("upstream down")
	errRejected = errors.New("credentials rejected")
)

func testConfig() Config {
	return Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             20 * time.Millisecond,
		MaxRequestsHalfOpen: 2,
	}
}

func trip(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func() error { return errUpstream })
	}
}

func TestCircuitBreaker_ClosedPassesErrorsThrough(t *testing.T) {
	cb := New(testConfig())

	err := cb.Execute(context.Background(), func() error { return errUpstream })
	assert.Same(t, errUpstream, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Stats().FailureCount)

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, 0, cb.Stats().FailureCount)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := New(testConfig())
	trip(t, cb, 3)
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	cb := New(testConfig())
	trip(t, cb, 3)
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())
	trip(t, cb, 3)
	time.Sleep(30 * time.Millisecond)

	_ = cb.Execute(context.Background(), func() error { return errUpstream })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_IgnoresNonFailures(t *testing.T) {
	cfg := testConfig()
	cfg.IsFailure = func(err error) bool { return !errors.Is(err, errRejected) }
	cb := New(cfg)

	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), func() error { return errRejected })
		assert.Same(t, errRejected, err)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo(t *testing.T) {
	cb := New(testConfig())

	v, err := Do(context.Background(), cb, func() (int, error) { return 201, nil })
	require.NoError(t, err)
	assert.Equal(t, 201, v)

	trip(t, cb, 3)
	v, err = Do(context.Background(), cb, func() (int, error) { return 200, nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, v)
}

func TestCircuitBreaker_OnStateChangeAndReset(t *testing.T) {
	cb := New(testConfig())
	transitions := make(chan State, 4)
	cb.OnStateChange(func(_, to State) { transitions <- to })

	trip(t, cb, 3)
	assert.Equal(t, StateOpen, <-transitions)

	cb.Reset()
	assert.Equal(t, StateClosed, <-transitions)
	assert.Equal(t, StateClosed, cb.State())
}
