package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(r.Close)
	return r
}

// blocking returns a StartFunc that counts starts and teardowns
func blocking(started, stopped *atomic.Int32) StartFunc {
	return func(ctx context.Context) error {
		started.Add(1)
		<-ctx.Done()
		stopped.Add(1)
		return nil
	}
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
}

func TestSubscribeReplacesExisting(t *testing.T) {
	r := newTestRegistry(t)
	var started1, stopped1, started2, stopped2 atomic.Int32

	first, err := r.Subscribe("screen-1", "messages:general", blocking(&started1, &stopped1), nil)
	require.NoError(t, err)
	second, err := r.Subscribe("screen-1", "messages:general", blocking(&started2, &stopped2), nil)
	require.NoError(t, err)

	waitDone(t, first)
	assert.Equal(t, int32(1), stopped1.Load(), "first subscription torn down exactly once")
	assert.Equal(t, 1, r.Count())
	assert.True(t, r.Active("screen-1", "messages:general"))

	// cancelling the stale handle must not touch the live one
	first.Cancel()
	assert.True(t, r.Active("screen-1", "messages:general"))
	assert.Equal(t, int32(1), stopped1.Load())

	second.Cancel()
	waitDone(t, second)
	assert.Equal(t, int32(1), stopped2.Load())
	assert.Equal(t, 0, r.Count())
}

func TestReplaceWaitsForOldRun(t *testing.T) {
	r := newTestRegistry(t)
	var oldReturned atomic.Bool

	first, err := r.Subscribe("s", "messages:general", func(ctx context.Context) error {
		<-ctx.Done()
		// a push still in flight when the replacement arrives
		time.Sleep(50 * time.Millisecond)
		oldReturned.Store(true)
		return nil
	}, nil)
	require.NoError(t, err)

	var started, stopped atomic.Int32
	_, err = r.Subscribe("s", "messages:general", blocking(&started, &stopped), nil)
	require.NoError(t, err)

	assert.True(t, oldReturned.Load(), "old run finished before Subscribe returned")
	select {
	case <-first.Done():
	default:
		t.Fatal("old handle not done after replacement")
	}
	assert.Equal(t, 1, r.Count())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	var started, stopped atomic.Int32

	h, err := r.Subscribe("s", "typing:general", blocking(&started, &stopped), nil)
	require.NoError(t, err)

	r.Unsubscribe("s", "typing:general")
	r.Unsubscribe("s", "typing:general")
	r.Unsubscribe("s", "never-subscribed")

	waitDone(t, h)
	assert.Equal(t, int32(1), stopped.Load())
	assert.Equal(t, 0, r.Count())
}

func TestUnsubscribeAllScope(t *testing.T) {
	r := newTestRegistry(t)
	var started, stopped atomic.Int32

	a, _ := r.Subscribe("s1", "messages:a", blocking(&started, &stopped), nil)
	b, _ := r.Subscribe("s1", "typing:a", blocking(&started, &stopped), nil)
	_, _ = r.Subscribe("s2", "messages:a", blocking(&started, &stopped), nil)

	r.UnsubscribeAll("s1")
	waitDone(t, a)
	waitDone(t, b)

	assert.Equal(t, 1, r.Count())
	assert.True(t, r.Active("s2", "messages:a"))
}

func TestFailureCallsOnErrorOnceAndRemoves(t *testing.T) {
	r := newTestRegistry(t)
	boom := errors.New("permission revoked")

	var calls atomic.Int32
	got := make(chan error, 2)
	h, err := r.Subscribe("s", "messages:general", func(ctx context.Context) error {
		return boom
	}, func(err error) {
		calls.Add(1)
		got <- err
	})
	require.NoError(t, err)
	waitDone(t, h)

	select {
	case err := <-got:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("onError not called")
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, r.Active("s", "messages:general"))
	assert.Equal(t, 0, r.Count())
}

func TestCancelledSubscriptionDoesNotReportError(t *testing.T) {
	r := newTestRegistry(t)
	var calls atomic.Int32

	h, err := r.Subscribe("s", "messages:general", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, func(error) { calls.Add(1) })
	require.NoError(t, err)

	h.Cancel()
	waitDone(t, h)
	assert.Equal(t, int32(0), calls.Load())
}

func TestCloseRejectsNewSubscriptions(t *testing.T) {
	r := NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	var started, stopped atomic.Int32

	h, err := r.Subscribe("s", "messages:a", blocking(&started, &stopped), nil)
	require.NoError(t, err)

	r.Close()
	waitDone(t, h)
	assert.Equal(t, int32(1), stopped.Load())

	_, err = r.Subscribe("s", "messages:a", blocking(&started, &stopped), nil)
	assert.ErrorIs(t, err, ErrClosed)
}
