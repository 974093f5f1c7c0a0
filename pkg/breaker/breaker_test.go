package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := New("remote", 2, time.Minute, WithClock(clock.now))

	assert.ErrorIs(t, cb.Call(context.Background(), fail), errBoom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Call(context.Background(), fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := New("remote", 2, time.Minute)

	require.Error(t, cb.Call(context.Background(), fail))
	require.NoError(t, cb.Call(context.Background(), succeed))
	require.Error(t, cb.Call(context.Background(), fail))

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := New("remote", 1, 30*time.Second, WithClock(clock.now))

	require.Error(t, cb.Call(context.Background(), fail))
	require.Equal(t, StateOpen, cb.State())

	clock.advance(31 * time.Second)
	require.Error(t, cb.Call(context.Background(), fail))
	assert.Equal(t, StateOpen, cb.State(), "failed probe reopens")

	clock.advance(31 * time.Second)
	require.NoError(t, cb.Call(context.Background(), succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	cb := New("remote", 1, time.Minute)

	err := cb.Call(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Stats()["failures"])
}
