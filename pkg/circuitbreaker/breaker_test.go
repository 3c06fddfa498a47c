package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func newTestBreaker(clock *time.Time) *CircuitBreaker {
	return NewCircuitBreaker("test", Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		now:              func() time.Time { return *clock },
	})
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := time.Unix(0, 0)
	cb := newTestBreaker(&clock)

	assert.ErrorIs(t, cb.Execute(func() error { return errUpstream }), errUpstream)
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(func() error { return errUpstream }), errUpstream)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	clock := time.Unix(0, 0)
	cb := newTestBreaker(&clock)

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errUpstream })
	}
	require.Equal(t, StateOpen, cb.State())

	clock = clock.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := time.Unix(0, 0)
	cb := newTestBreaker(&clock)

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errUpstream })
	}
	clock = clock.Add(2 * time.Second)

	_ = cb.Execute(func() error { return errUpstream })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_ClassifierIgnoresCancellation(t *testing.T) {
	clock := time.Unix(0, 0)
	cb := newTestBreaker(&clock)
	notCancel := func(err error) bool { return err != nil && !errors.Is(err, context.Canceled) }

	for i := 0; i < 5; i++ {
		_ = cb.ExecuteFunc(func() error { return context.Canceled }, notCancel)
	}
	assert.Equal(t, StateClosed, cb.State())
}
