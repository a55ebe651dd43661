package hostloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/webaudio-go/internal/errors"
	"github.com/tphakala/webaudio-go/internal/scheduler"
)

func newScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.New()
	t.Cleanup(func() { require.NoError(t, s.Close(context.Background())) })
	return s
}

func TestFutureSettlesOnce(t *testing.T) {
	l := startLoop(t)
	f := NewFuture[int](l)

	assert.True(t, f.Settle(1, nil))
	assert.False(t, f.Settle(2, nil))

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, f.Settled())
}

func TestThenRunsOnLoop(t *testing.T) {
	l := startLoop(t)
	f := NewFuture[string](l)

	before := make(chan bool, 1)
	f.Then(func(string, error) { before <- l.IsLoopThread() })
	f.SettleOnLoop("ok", nil)
	assert.True(t, <-before)

	after := make(chan string, 1)
	f.Then(func(v string, _ error) {
		if l.IsLoopThread() {
			after <- v
		}
	})
	assert.Equal(t, "ok", <-after)
}

func TestPromisifyResolvesOnLoop(t *testing.T) {
	l := startLoop(t)
	sched := newScheduler(t)

	f := Promisify(l, sched, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	onLoop := make(chan bool, 1)
	f.Then(func(int, error) { onLoop <- l.IsLoopThread() })

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, <-onLoop)
}

func TestPromisifyPropagatesErrors(t *testing.T) {
	l := startLoop(t)
	sched := newScheduler(t)
	boom := errors.NewStd("engine exploded")

	f := Promisify(l, sched, func(context.Context) (struct{}, error) {
		return struct{}{}, boom
	})

	_, err := f.Await(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestPromisifyRejectsOnPanic(t *testing.T) {
	l := startLoop(t)
	sched := newScheduler(t)

	f := Promisify(l, sched, func(context.Context) (int, error) {
		panic("source failed")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryEngine))
	assert.Contains(t, err.Error(), "source failed")
	assert.Zero(t, v)
	assert.True(t, f.Settled())
}

func TestPromisifyWithClosedScheduler(t *testing.T) {
	l := startLoop(t)
	sched := scheduler.New()
	require.NoError(t, sched.Close(context.Background()))

	f := Promisify(l, sched, func(context.Context) (int, error) { return 1, nil })
	_, err := f.Await(context.Background())
	require.ErrorIs(t, err, scheduler.ErrSchedulerClosed)
}

func TestMapTransformsOnLoop(t *testing.T) {
	l := startLoop(t)
	src := NewFuture[int](l)

	mapped := Map(src, func(v int) (string, error) {
		if !l.IsLoopThread() {
			return "", errors.NewStd("not on loop")
		}
		return time.Duration(v).String(), nil
	})
	src.SettleOnLoop(1500, nil)

	v, err := mapped.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.5µs", v)
}

func TestMapPassesErrorsThrough(t *testing.T) {
	l := startLoop(t)
	src := NewFuture[int](l)
	boom := errors.NewStd("boom")

	called := false
	mapped := Map(src, func(int) (int, error) { called = true; return 0, nil })
	src.SettleOnLoop(0, boom)

	_, err := mapped.Await(context.Background())
	require.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestSettleOnTerminatedLoop(t *testing.T) {
	l := New()
	require.NoError(t, l.Shutdown(context.Background()))

	f := NewFuture[int](l)
	f.SettleOnLoop(5, nil)

	_, err := f.Await(context.Background())
	require.ErrorIs(t, err, ErrLoopTerminated)
}

func TestAwaitHonoursContext(t *testing.T) {
	l := New()
	f := NewFuture[int](l)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolved(t *testing.T) {
	f := Resolved(New(), "done", nil)
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}
