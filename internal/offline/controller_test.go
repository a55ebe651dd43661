package offline

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/webaudio-go/internal/engine"
	"github.com/tphakala/webaudio-go/internal/errors"
	"github.com/tphakala/webaudio-go/internal/events"
	"github.com/tphakala/webaudio-go/internal/hostloop"
	"github.com/tphakala/webaudio-go/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startLoop(t *testing.T) *hostloop.Loop {
	t.Helper()
	l := hostloop.New()
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(context.Background()) }()

	t.Cleanup(func() {
		require.NoError(t, l.Shutdown(context.Background()))
		require.NoError(t, <-errCh)
	})

	require.Eventually(t, func() bool { return l.State() == hostloop.StateRunning }, time.Second, time.Millisecond)
	return l
}

func await[T any](t *testing.T, f *hostloop.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Await(ctx)
}

// stateLog records state-change deliveries and checks they ran on the loop
type stateLog struct {
	loop *hostloop.Loop

	mu      sync.Mutex
	states  []events.RenderState
	offLoop int
}

func (s *stateLog) handle(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loop.IsLoopThread() {
		s.offLoop++
	}
	s.states = append(s.states, e.State)
}

func (s *stateLog) snapshot() []events.RenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.RenderState(nil), s.states...)
}

// fakeEngine lets tests emit notifications by hand
type fakeEngine struct {
	length      int
	renderErr   error
	stateChange *events.Dispatcher
	complete    *events.Dispatcher
}

func newFakeEngine(length int) *fakeEngine {
	return &fakeEngine{
		length:      length,
		stateChange: events.NewDispatcher("statechange"),
		complete:    events.NewDispatcher("complete"),
	}
}

func (f *fakeEngine) Length() int                  { return f.length }
func (f *fakeEngine) SampleRate() float32          { return 44100 }
func (f *fakeEngine) NumberOfChannels() int        { return 1 }
func (f *fakeEngine) State() events.RenderState    { return events.RenderStateRunning }
func (f *fakeEngine) Resume(context.Context) error { return nil }
func (f *fakeEngine) CurrentFrame() int            { return 0 }

func (f *fakeEngine) Suspend(context.Context, float64) error { return nil }

func (f *fakeEngine) StartRendering(context.Context) (*engine.AudioBuffer, error) {
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	f.stateChange.Emit(events.StateChange(events.RenderStateClosed, f.length, 44100))
	f.complete.Emit(events.Complete(f.length, 44100))
	return engine.NewAudioBuffer(1, f.length, 44100), nil
}

func (f *fakeEngine) OnStateChange(fn events.Handler) func() { return f.stateChange.Subscribe(fn) }
func (f *fakeEngine) OnComplete(fn events.Handler) func()    { return f.complete.Subscribe(fn) }

func fakeFactory(f *fakeEngine) EngineFactory {
	return func(int, int, float32) (engine.Engine, error) { return f, nil }
}

func TestStereoSecondScenario(t *testing.T) {
	l := startLoop(t)

	ctrl, err := New(l, 2, 44100, 44100)
	require.NoError(t, err)
	assert.Equal(t, 44100, ctrl.Length())
	assert.Equal(t, float32(44100), ctrl.SampleRate())
	assert.Equal(t, 2, ctrl.NumberOfChannels())
	assert.Equal(t, StateActive, ctrl.State())
	assert.Equal(t, 2, ctrl.Destination().ChannelCount())
	assert.Equal(t, 2, ctrl.Destination().MaxChannelCount())

	buf, err := await(t, ctrl.StartRendering())
	require.NoError(t, err)
	assert.Equal(t, 2, buf.NumberOfChannels())
	assert.Equal(t, 44100, buf.Length())
	assert.InDelta(t, 1.0, buf.Duration(), 1e-9)

	assert.Zero(t, ctrl.ListenerCount())
	assert.Equal(t, StateClosed, ctrl.State())
	assert.Equal(t, events.RenderStateClosed, ctrl.RenderState())
}

func TestConstructionErrorsPropagate(t *testing.T) {
	l := startLoop(t)

	_, err := New(l, 0, 128, 44100)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConstruction))

	custom := errors.NewStd("engine unavailable")
	_, err = New(l, 1, 128, 44100, WithEngineFactory(func(int, int, float32) (engine.Engine, error) {
		return nil, custom
	}))
	assert.Same(t, custom, err)
}

func TestDestinationFactoryError(t *testing.T) {
	l := startLoop(t)

	var got *Controller
	_, err := New(l, 1, 128, 44100, WithDestinationFactory(func(c *Controller) (Destination, error) {
		got = c
		return nil, errors.NewStd("no destination")
	}))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConstruction))
	require.NotNil(t, got)
	assert.Equal(t, 128, got.Length())
}

func TestStateChangesDeliveredOnLoopBeforeResult(t *testing.T) {
	l := startLoop(t)

	ctrl, err := New(l, 1, 1000, 44100)
	require.NoError(t, err)

	log := &stateLog{loop: l}
	require.NoError(t, ctrl.BindEventTarget(log.handle))
	assert.Equal(t, 2, ctrl.ListenerCount())

	var resultOnLoop bool
	var statesAtResult []events.RenderState
	done := make(chan struct{})
	ctrl.StartRendering().Then(func(buf *HostBuffer, err error) {
		resultOnLoop = l.IsLoopThread()
		statesAtResult = log.snapshot()
		close(done)
	})
	<-done

	assert.True(t, resultOnLoop)
	assert.Equal(t, []events.RenderState{events.RenderStateRunning, events.RenderStateClosed}, statesAtResult)
	assert.Zero(t, log.offLoop)
	assert.Zero(t, ctrl.ListenerCount())
}

func TestNoDeliveryAfterRenderingCompleted(t *testing.T) {
	l := startLoop(t)
	fake := newFakeEngine(128)

	ctrl, err := New(l, 1, 128, 44100, WithEngineFactory(fakeFactory(fake)))
	require.NoError(t, err)

	log := &stateLog{loop: l}
	_, err = ctrl.SubscribeStateChange(log.handle)
	require.NoError(t, err)

	_, err = await(t, ctrl.StartRendering())
	require.NoError(t, err)
	assert.Zero(t, ctrl.ListenerCount())
	assert.Zero(t, fake.stateChange.Len())
	assert.Zero(t, fake.complete.Len())

	// A synthetic event emitted after completion reaches nobody
	fake.stateChange.Emit(events.StateChange(events.RenderStateRunning, 0, 44100))
	require.NoError(t, l.WaitIdle(context.Background()))
	assert.Equal(t, []events.RenderState{events.RenderStateClosed}, log.snapshot())
}

func TestSuspendBeyondLengthResolvesAtCompletion(t *testing.T) {
	l := startLoop(t)

	ctrl, err := New(l, 1, 4096, 44100)
	require.NoError(t, err)

	suspend := ctrl.Suspend(1.0)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, suspend.Settled())

	render := ctrl.StartRendering()
	_, err = await(t, suspend)
	require.NoError(t, err)
	_, err = await(t, render)
	require.NoError(t, err)
}

func TestSuspendAndResume(t *testing.T) {
	l := startLoop(t)

	ctrl, err := New(l, 1, 2048, 44100)
	require.NoError(t, err)

	suspended := make(chan struct{}, 1)
	_, err = ctrl.SubscribeStateChange(func(e events.Event) {
		if e.State == events.RenderStateSuspended {
			suspended <- struct{}{}
		}
	})
	require.NoError(t, err)

	_, err = await(t, ctrl.Suspend(1000.0/44100))
	require.NoError(t, err)

	render := ctrl.StartRendering()

	select {
	case <-suspended:
	case <-time.After(5 * time.Second):
		t.Fatal("rendering never suspended")
	}
	assert.Equal(t, StateRendering, ctrl.State())
	assert.Equal(t, events.RenderStateSuspended, ctrl.RenderState())
	assert.InDelta(t, 1024.0/44100, ctrl.CurrentTime(), 1e-9)
	assert.False(t, render.Settled())

	_, err = await(t, ctrl.Resume())
	require.NoError(t, err)

	buf, err := await(t, render)
	require.NoError(t, err)
	assert.Equal(t, 2048, buf.Length())
	assert.InDelta(t, 2048.0/44100, ctrl.CurrentTime(), 1e-9)

	// Resume when not suspended is a no-op
	_, err = await(t, ctrl.Resume())
	require.NoError(t, err)
}

func TestSuspendErrorsPropagate(t *testing.T) {
	l := startLoop(t)

	ctrl, err := New(l, 1, 2048, 44100)
	require.NoError(t, err)

	_, err = await(t, ctrl.Suspend(-1))
	require.ErrorIs(t, err, engine.ErrNegativeSuspendTime)

	_, err = await(t, ctrl.Suspend(0.01))
	require.NoError(t, err)
	_, err = await(t, ctrl.Suspend(0.01))
	require.ErrorIs(t, err, engine.ErrDuplicateSuspend)
	assert.Equal(t, StateActive, ctrl.State())
}

// panicSource fails on the first quantum it renders
type panicSource struct{}

func (panicSource) Render(int, float64, []float64) { panic("oscillator fault") }

func TestSourcePanicRejectsRender(t *testing.T) {
	l := startLoop(t)

	ctrl, err := New(l, 1, 1024, 44100, WithEngineOptions(engine.WithSource(panicSource{}, 1)))
	require.NoError(t, err)
	assert.Zero(t, ctrl.CurrentTime())

	pending := ctrl.Suspend(10)

	buf, err := await(t, ctrl.StartRendering())
	require.Error(t, err)
	assert.Nil(t, buf)
	assert.True(t, errors.IsCategory(err, errors.CategoryEngine))
	assert.Equal(t, StateActive, ctrl.State())
	assert.Equal(t, 1, ctrl.ListenerCount())

	_, err = await(t, pending)
	require.NoError(t, err)

	require.NoError(t, ctrl.Close())
	assert.Zero(t, ctrl.ListenerCount())
}

// panickingEngine panics while rendering instead of returning an error
type panickingEngine struct {
	*fakeEngine
}

func (panickingEngine) StartRendering(context.Context) (*engine.AudioBuffer, error) {
	panic("engine fault")
}

func TestEnginePanicRejectsRender(t *testing.T) {
	l := startLoop(t)
	eng := panickingEngine{newFakeEngine(128)}

	ctrl, err := New(l, 1, 128, 44100, WithEngineFactory(func(int, int, float32) (engine.Engine, error) {
		return eng, nil
	}))
	require.NoError(t, err)

	_, err = await(t, ctrl.StartRendering())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryEngine))
	assert.Contains(t, err.Error(), "engine fault")
	assert.Equal(t, StateActive, ctrl.State())
}

// blockingEngine waits in Suspend until ctx is cancelled
type blockingEngine struct {
	*fakeEngine
}

func (blockingEngine) Suspend(ctx context.Context, _ float64) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCloseCancelsPendingSuspend(t *testing.T) {
	l := startLoop(t)

	ctrl, err := New(l, 1, 4096, 44100)
	require.NoError(t, err)

	pending := ctrl.Suspend(10)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, pending.Settled())

	require.NoError(t, ctrl.Close())
	_, err = await(t, pending)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCollectedControllerCancelsPendingSuspend(t *testing.T) {
	l := startLoop(t)
	eng := blockingEngine{newFakeEngine(128)}

	var pending *hostloop.Future[struct{}]
	func() {
		ctrl, err := New(l, 1, 128, 44100, WithEngineFactory(func(int, int, float32) (engine.Engine, error) {
			return eng, nil
		}))
		require.NoError(t, err)
		pending = ctrl.Suspend(1)
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return pending.Settled()
	}, 5*time.Second, 10*time.Millisecond)

	_, err := await(t, pending)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCloseIsIdempotent(t *testing.T) {
	l := startLoop(t)

	ctrl, err := New(l, 1, 512, 44100)
	require.NoError(t, err)

	log := &stateLog{loop: l}
	_, err = ctrl.SubscribeStateChange(log.handle)
	require.NoError(t, err)

	require.NoError(t, ctrl.Close())
	require.NoError(t, ctrl.Close())
	assert.Equal(t, StateClosed, ctrl.State())
	assert.Zero(t, ctrl.ListenerCount())

	_, err = ctrl.SubscribeStateChange(log.handle)
	require.ErrorIs(t, err, ErrClosed)

	// Render control still delegates to the engine
	buf, err := await(t, ctrl.StartRendering())
	require.NoError(t, err)
	assert.Equal(t, 512, buf.Length())
	assert.Equal(t, StateClosed, ctrl.State())

	require.NoError(t, l.WaitIdle(context.Background()))
	assert.Empty(t, log.snapshot())
}

func TestBindEventTargetOnce(t *testing.T) {
	l := startLoop(t)

	ctrl, err := New(l, 1, 128, 44100)
	require.NoError(t, err)

	require.NoError(t, ctrl.BindEventTarget(func(events.Event) {}))
	err = ctrl.BindEventTarget(func(events.Event) {})
	require.ErrorIs(t, err, ErrEventTargetBound)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
	require.NoError(t, ctrl.Close())
}

func TestBindEventTargetAfterClose(t *testing.T) {
	l := startLoop(t)

	ctrl, err := New(l, 1, 128, 44100)
	require.NoError(t, err)
	require.NoError(t, ctrl.Close())

	require.ErrorIs(t, ctrl.BindEventTarget(func(events.Event) {}), ErrClosed)
}

func TestSubscribeNilCallback(t *testing.T) {
	l := startLoop(t)

	ctrl, err := New(l, 1, 128, 44100)
	require.NoError(t, err)

	_, err = ctrl.SubscribeStateChange(nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestUnregisterIsIdempotent(t *testing.T) {
	l := startLoop(t)
	fake := newFakeEngine(128)

	ctrl, err := New(l, 1, 128, 44100, WithEngineFactory(fakeFactory(fake)))
	require.NoError(t, err)

	log := &stateLog{loop: l}
	id, err := ctrl.SubscribeStateChange(log.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.stateChange.Len())

	assert.True(t, ctrl.Unregister(id))
	assert.False(t, ctrl.Unregister(id))
	assert.Zero(t, fake.stateChange.Len())

	fake.stateChange.Emit(events.StateChange(events.RenderStateRunning, 0, 44100))
	require.NoError(t, l.WaitIdle(context.Background()))
	assert.Empty(t, log.snapshot())
}

func TestFailedRenderKeepsPriorState(t *testing.T) {
	l := startLoop(t)
	fake := newFakeEngine(128)
	fake.renderErr = errors.NewStd("device lost")

	ctrl, err := New(l, 1, 128, 44100, WithEngineFactory(fakeFactory(fake)))
	require.NoError(t, err)

	_, err = await(t, ctrl.StartRendering())
	assert.Same(t, fake.renderErr, err)
	assert.Equal(t, StateActive, ctrl.State())
	assert.Equal(t, 1, ctrl.ListenerCount())
}

func TestMarshallingLimit(t *testing.T) {
	l := startLoop(t)

	ctrl, err := New(l, 2, 1024, 44100, WithMaxBufferBytes(1024))
	require.NoError(t, err)

	buf, err := await(t, ctrl.StartRendering())
	require.ErrorIs(t, err, ErrBufferTooLarge)
	assert.True(t, errors.IsCategory(err, errors.CategoryMarshalling))
	assert.Nil(t, buf)
	assert.Equal(t, StateClosed, ctrl.State())
}

func TestSecondStartRenderingFails(t *testing.T) {
	l := startLoop(t)

	ctrl, err := New(l, 1, 256, 44100)
	require.NoError(t, err)

	_, err = await(t, ctrl.StartRendering())
	require.NoError(t, err)

	_, err = await(t, ctrl.StartRendering())
	require.ErrorIs(t, err, engine.ErrAlreadyStarted)
	assert.Equal(t, StateClosed, ctrl.State())
}

func TestMetricsWiring(t *testing.T) {
	l := startLoop(t)

	m, err := metrics.NewBridgeMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	ctrl, err := New(l, 1, 512, 44100, WithMetrics(m))
	require.NoError(t, err)
	_, err = ctrl.SubscribeStateChange(func(events.Event) {})
	require.NoError(t, err)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ListenersActive))

	_, err = await(t, ctrl.Suspend(0.001))
	require.NoError(t, err)
	_, err = await(t, ctrl.Suspend(0.001))
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ControlOperation.WithLabelValues("suspend", metrics.StatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ControlOperation.WithLabelValues("suspend", metrics.StatusError)))

	require.NoError(t, ctrl.Close())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ListenersActive))
}

func TestRenderMetrics(t *testing.T) {
	l := startLoop(t)

	m, err := metrics.NewBridgeMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	ctrl, err := New(l, 1, 512, 44100, WithMetrics(m))
	require.NoError(t, err)
	_, err = ctrl.SubscribeStateChange(func(events.Event) {})
	require.NoError(t, err)

	_, err = await(t, ctrl.StartRendering())
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Registrations))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Revocations.WithLabelValues("drain")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ListenersActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Renders.WithLabelValues(metrics.StatusSuccess)))
	assert.Equal(t, float64(512), testutil.ToFloat64(m.RenderedFrames))
	// running, closed and the completion notification
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Deliveries))
}

func TestCollectedControllerDrainsRegistry(t *testing.T) {
	l := startLoop(t)

	m, err := metrics.NewBridgeMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	func() {
		ctrl, err := New(l, 1, 128, 44100, WithMetrics(m))
		require.NoError(t, err)
		_, err = ctrl.SubscribeStateChange(func(events.Event) {})
		require.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return testutil.ToFloat64(m.Revocations.WithLabelValues("drain")) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ListenersActive))
}
