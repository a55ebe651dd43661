package engine

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/webaudio-go/internal/errors"
	"github.com/tphakala/webaudio-go/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stateRecorder collects state-change events from an engine
type stateRecorder struct {
	mu     sync.Mutex
	states []events.RenderState
	frames []int
}

func (r *stateRecorder) handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, e.State)
	r.frames = append(r.frames, e.Frame)
}

func (r *stateRecorder) snapshot() ([]events.RenderState, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.RenderState(nil), r.states...), append([]int(nil), r.frames...)
}

func TestNewOfflineEngineValidation(t *testing.T) {
	tests := []struct {
		name       string
		channels   int
		length     int
		sampleRate float32
		wantErr    bool
	}{
		{"valid stereo", 2, 44100, 44100, false},
		{"min limits", MinChannels, 1, MinSampleRate, false},
		{"max limits", MaxChannels, 128, MaxSampleRate, false},
		{"zero channels", 0, 128, 44100, true},
		{"too many channels", MaxChannels + 1, 128, 44100, true},
		{"zero length", 2, 0, 44100, true},
		{"sample rate too low", 2, 128, 2999, true},
		{"sample rate too high", 2, 128, 768001, true},
		{"nan sample rate", 2, 128, float32(math.NaN()), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewOfflineEngine(tt.channels, tt.length, tt.sampleRate)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryConstruction))
				assert.Nil(t, e)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.length, e.Length())
			assert.Equal(t, tt.channels, e.NumberOfChannels())
			assert.Equal(t, events.RenderStateSuspended, e.State())
		})
	}
}

func TestStartRenderingProducesFullBuffer(t *testing.T) {
	e, err := NewOfflineEngine(2, 44100, 44100, WithSource(ConstantSource{Value: 1}, 0.25))
	require.NoError(t, err)

	rec := &stateRecorder{}
	e.OnStateChange(rec.handle)
	completed := 0
	e.OnComplete(func(ev events.Event) {
		completed++
		assert.Equal(t, 44100, ev.Frame)
	})

	buf, err := e.StartRendering(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, buf.NumberOfChannels())
	assert.Equal(t, 44100, buf.Length())
	assert.InDelta(t, 1.0, buf.Duration(), 1e-9)
	for ch := range 2 {
		assert.InDelta(t, 0.25, buf.Channel(ch)[0], 1e-6)
		assert.InDelta(t, 0.25, buf.Channel(ch)[44099], 1e-6)
	}

	states, _ := rec.snapshot()
	assert.Equal(t, []events.RenderState{events.RenderStateRunning, events.RenderStateClosed}, states)
	assert.Equal(t, 1, completed)
	assert.Equal(t, events.RenderStateClosed, e.State())
	assert.Equal(t, 44100, e.CurrentFrame())

	_, err = e.StartRendering(context.Background())
	require.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestSineMix(t *testing.T) {
	const sr = 48000
	e, err := NewOfflineEngine(1, 480, sr,
		WithSource(SineSource{Frequency: 1000}, 0.5),
		WithSource(ConstantSource{Value: 0.1}, 1))
	require.NoError(t, err)

	buf, err := e.StartRendering(context.Background())
	require.NoError(t, err)

	for _, i := range []int{0, 7, 127, 128, 300, 479} {
		want := 0.5*math.Sin(2*math.Pi*1000*float64(i)/sr) + 0.1
		assert.InDelta(t, want, buf.Channel(0)[i], 1e-5, "frame %d", i)
	}
}

func TestSilentWithoutSources(t *testing.T) {
	e, err := NewOfflineEngine(1, 300, 44100)
	require.NoError(t, err)

	buf, err := e.StartRendering(context.Background())
	require.NoError(t, err)
	for _, v := range buf.Channel(0) {
		require.Zero(t, v)
	}
}

func TestSuspendQuantization(t *testing.T) {
	e, err := NewOfflineEngine(1, 44100, 44100)
	require.NoError(t, err)

	assert.Equal(t, 0, e.quantize(0))
	assert.Equal(t, 128, e.quantize(1.0/44100))
	assert.Equal(t, 256, e.quantize(200.0/44100))
	assert.Equal(t, 22144, e.quantize(0.5))
}

func TestSuspendValidation(t *testing.T) {
	e, err := NewOfflineEngine(1, 44100, 44100)
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorIs(t, e.Suspend(ctx, -1), ErrNegativeSuspendTime)
	require.ErrorIs(t, e.Suspend(ctx, math.NaN()), ErrNegativeSuspendTime)

	require.NoError(t, e.Suspend(ctx, 0.25))
	err = e.Suspend(ctx, 0.25)
	require.ErrorIs(t, err, ErrDuplicateSuspend)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestSuspendAndResume(t *testing.T) {
	e, err := NewOfflineEngine(1, 1024, 44100)
	require.NoError(t, err)
	ctx := context.Background()

	rec := &stateRecorder{}
	suspended := make(chan struct{}, 2)
	e.OnStateChange(func(ev events.Event) {
		rec.handle(ev)
		if ev.State == events.RenderStateSuspended {
			suspended <- struct{}{}
		}
	})

	at := 200.0 / 44100
	require.NoError(t, e.Suspend(ctx, at))

	result := make(chan error, 1)
	go func() {
		_, err := e.StartRendering(ctx)
		result <- err
	}()

	<-suspended
	assert.Equal(t, events.RenderStateSuspended, e.State())
	assert.Equal(t, 256, e.CurrentFrame())

	// The frame the engine is parked at has already been looked up
	require.ErrorIs(t, e.Suspend(ctx, at), ErrSuspendPassed)
	require.ErrorIs(t, e.Suspend(ctx, 100.0/44100), ErrSuspendPassed)

	require.NoError(t, e.Suspend(ctx, 500.0/44100))
	require.NoError(t, e.Resume(ctx))
	<-suspended
	assert.Equal(t, 512, e.CurrentFrame())
	require.NoError(t, e.Resume(ctx))

	require.NoError(t, <-result)

	states, frames := rec.snapshot()
	assert.Equal(t, []events.RenderState{
		events.RenderStateRunning,
		events.RenderStateSuspended,
		events.RenderStateRunning,
		events.RenderStateSuspended,
		events.RenderStateRunning,
		events.RenderStateClosed,
	}, states)
	assert.Equal(t, []int{0, 256, 256, 512, 512, 1024}, frames)
}

func TestResumeWhenNotSuspendedIsNoop(t *testing.T) {
	e, err := NewOfflineEngine(1, 128, 44100)
	require.NoError(t, err)
	require.NoError(t, e.Resume(context.Background()))
}

func TestSuspendBeyondLengthWaitsForCompletion(t *testing.T) {
	e, err := NewOfflineEngine(1, 4096, 44100)
	require.NoError(t, err)
	ctx := context.Background()

	returned := make(chan error, 1)
	go func() { returned <- e.Suspend(ctx, 10) }()

	select {
	case <-returned:
		t.Fatal("suspend beyond length returned before rendering")
	case <-time.After(20 * time.Millisecond):
	}

	_, err = e.StartRendering(ctx)
	require.NoError(t, err)

	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("suspend beyond length never returned")
	}

	// After completion it returns at once
	require.NoError(t, e.Suspend(ctx, 0))
}

func TestSuspendBeyondLengthHonoursContext(t *testing.T) {
	e, err := NewOfflineEngine(1, 128, 44100)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.Suspend(ctx, 1), context.DeadlineExceeded)
}

func TestCancelWhileSuspended(t *testing.T) {
	e, err := NewOfflineEngine(1, 1024, 44100)
	require.NoError(t, err)

	require.NoError(t, e.Suspend(context.Background(), 0))

	completed := false
	e.OnComplete(func(events.Event) { completed = true })
	suspended := make(chan struct{}, 1)
	e.OnStateChange(func(ev events.Event) {
		if ev.State == events.RenderStateSuspended {
			suspended <- struct{}{}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := e.StartRendering(ctx)
		result <- err
	}()

	<-suspended
	cancel()

	err = <-result
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
	assert.False(t, completed)
	<-e.Done()
}

// failingSource panics once rendering reaches frame
type failingSource struct {
	frame int
}

func (s failingSource) Render(startFrame int, _ float64, out []float64) {
	if startFrame >= s.frame {
		panic("failing source")
	}
	clear(out)
}

func TestSourcePanicAbortsRendering(t *testing.T) {
	e, err := NewOfflineEngine(1, 1024, 44100, WithSource(failingSource{frame: 256}, 1))
	require.NoError(t, err)

	rec := &stateRecorder{}
	e.OnStateChange(rec.handle)
	completed := false
	e.OnComplete(func(events.Event) { completed = true })

	waiter := make(chan error, 1)
	go func() { waiter <- e.Suspend(context.Background(), 10) }()

	buf, err := e.StartRendering(context.Background())
	require.Error(t, err)
	assert.Nil(t, buf)
	assert.True(t, errors.IsCategory(err, errors.CategoryEngine))
	assert.Contains(t, err.Error(), "failing source")
	assert.False(t, completed)

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel not closed after a source panic")
	}
	select {
	case err := <-waiter:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pending suspend stranded after a source panic")
	}

	states, frames := rec.snapshot()
	assert.Equal(t, []events.RenderState{events.RenderStateRunning, events.RenderStateClosed}, states)
	assert.Equal(t, []int{0, 256}, frames)
	assert.Equal(t, 256, e.CurrentFrame())
	assert.Equal(t, events.RenderStateClosed, e.State())
}
