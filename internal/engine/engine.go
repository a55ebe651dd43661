// Package engine defines the rendering engine boundary used by the offline
// context controller and provides a small reference offline engine.
//
// The reference engine renders a mix of sources in 128-frame quanta on the
// goroutine that calls StartRendering. Suspend points are quantized up to the
// next quantum boundary.
package engine

import (
	"context"
	"math"
	"sync"

	"github.com/cwbudde/algo-vecmath"

	"github.com/tphakala/webaudio-go/internal/errors"
	"github.com/tphakala/webaudio-go/internal/events"
	"github.com/tphakala/webaudio-go/internal/logger"
)

// RenderQuantumSize is the number of frames rendered per processing step
const RenderQuantumSize = 128

// Construction limits
const (
	MinChannels   = 1
	MaxChannels   = 32
	MinSampleRate = 3000
	MaxSampleRate = 768000
)

// Engine is the rendering engine as seen by the controller. Implementations
// are safe for concurrent use.
type Engine interface {
	Length() int
	SampleRate() float32
	NumberOfChannels() int
	State() events.RenderState
	// CurrentFrame returns the number of frames rendered so far
	CurrentFrame() int

	// StartRendering renders the whole output and blocks until done
	StartRendering(ctx context.Context) (*AudioBuffer, error)
	// Suspend schedules a suspend point at the given time in seconds
	Suspend(ctx context.Context, atTime float64) error
	// Resume continues rendering after a suspend point
	Resume(ctx context.Context) error

	OnStateChange(fn events.Handler) (cancel func())
	OnComplete(fn events.Handler) (cancel func())
}

// Option configures an OfflineEngine
type Option func(*OfflineEngine)

// WithSource adds src to the mix with the given gain. Every output channel
// receives the same mix.
func WithSource(src Source, gain float64) Option {
	return func(e *OfflineEngine) {
		if src != nil {
			e.inputs = append(e.inputs, mixInput{src: src, gain: gain})
		}
	}
}

// OfflineEngine is the reference Engine
type OfflineEngine struct {
	numberOfChannels int
	length           int
	sampleRate       float32

	inputs []mixInput

	mu        sync.Mutex
	state     events.RenderState
	started   bool
	finished  bool
	frame     int
	checked   int // last frame whose suspend point was looked up
	suspends  map[int]struct{}
	resumeCh  chan struct{} // non-nil while parked at a suspend point
	resumedCh chan struct{} // closed once rendering continued after resumeCh
	doneCh    chan struct{}

	stateChange *events.Dispatcher
	complete    *events.Dispatcher

	log logger.Logger
}

// NewOfflineEngine validates the parameters and creates an engine.
// A fresh engine is suspended at frame zero.
func NewOfflineEngine(numberOfChannels, length int, sampleRate float32, opts ...Option) (*OfflineEngine, error) {
	if numberOfChannels < MinChannels || numberOfChannels > MaxChannels {
		return nil, constructionError("numberOfChannels", numberOfChannels,
			"number of channels %d outside [%d, %d]", numberOfChannels, MinChannels, MaxChannels)
	}
	if length < 1 {
		return nil, constructionError("length", length, "length must be at least 1 frame, got %d", length)
	}
	sr := float64(sampleRate)
	if math.IsNaN(sr) || sr < MinSampleRate || sr > MaxSampleRate {
		return nil, constructionError("sampleRate", sampleRate,
			"sample rate %g outside [%d, %d]", sr, MinSampleRate, MaxSampleRate)
	}

	e := &OfflineEngine{
		numberOfChannels: numberOfChannels,
		length:           length,
		sampleRate:       sampleRate,
		state:            events.RenderStateSuspended,
		checked:          -1,
		suspends:         make(map[int]struct{}),
		doneCh:           make(chan struct{}),
		stateChange:      events.NewDispatcher("statechange"),
		complete:         events.NewDispatcher("complete"),
		log:              GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Length returns the output length in sample frames
func (e *OfflineEngine) Length() int { return e.length }

// SampleRate returns the sample rate in Hz
func (e *OfflineEngine) SampleRate() float32 { return e.sampleRate }

// NumberOfChannels returns the output channel count
func (e *OfflineEngine) NumberOfChannels() int { return e.numberOfChannels }

// State returns the current rendering state
func (e *OfflineEngine) State() events.RenderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentFrame returns the number of frames rendered so far
func (e *OfflineEngine) CurrentFrame() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame
}

// Done is closed once rendering finished or was aborted
func (e *OfflineEngine) Done() <-chan struct{} {
	return e.doneCh
}

// OnStateChange subscribes fn to state changes. fn runs on the render goroutine.
func (e *OfflineEngine) OnStateChange(fn events.Handler) func() {
	return e.stateChange.Subscribe(fn)
}

// OnComplete subscribes fn to the completion notification
func (e *OfflineEngine) OnComplete(fn events.Handler) func() {
	return e.complete.Subscribe(fn)
}

// quantize rounds a time in seconds up to a quantum boundary in frames
func (e *OfflineEngine) quantize(atTime float64) int {
	frames := math.Ceil(atTime * float64(e.sampleRate) / RenderQuantumSize)
	if frames > float64(math.MaxInt/RenderQuantumSize) {
		return math.MaxInt
	}
	return int(frames) * RenderQuantumSize
}

// Suspend schedules a suspend point. A time at or beyond the rendered
// duration never suspends; the call then returns once rendering finished.
func (e *OfflineEngine) Suspend(ctx context.Context, atTime float64) error {
	if atTime < 0 || math.IsNaN(atTime) {
		return ErrNegativeSuspendTime
	}
	frame := e.quantize(atTime)

	e.mu.Lock()
	if frame >= e.length || e.finished {
		e.mu.Unlock()
		return e.waitDone(ctx)
	}
	if frame <= e.checked {
		current := e.frame
		e.mu.Unlock()
		return errors.New(ErrSuspendPassed).
			Component(componentEngine).
			Category(errors.CategoryState).
			Context("frame", frame).
			Context("current_frame", current).
			Build()
	}
	if _, dup := e.suspends[frame]; dup {
		e.mu.Unlock()
		return ErrDuplicateSuspend
	}
	e.suspends[frame] = struct{}{}
	e.mu.Unlock()

	e.log.Debug("suspend point scheduled",
		logger.Float64("at_time", atTime),
		logger.Int("frame", frame))
	return nil
}

func (e *OfflineEngine) waitDone(ctx context.Context) error {
	select {
	case <-e.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume continues rendering after a suspend point and returns once the
// render loop picked it up. It is a no-op when rendering is not suspended.
func (e *OfflineEngine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.resumeCh == nil {
		e.mu.Unlock()
		return nil
	}
	resumeCh, resumedCh := e.resumeCh, e.resumedCh
	e.resumeCh = nil
	e.mu.Unlock()

	close(resumeCh)

	select {
	case <-resumedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartRendering renders the full output on the calling goroutine.
// It may be called once; cancelling ctx aborts rendering at a suspend point.
func (e *OfflineEngine) StartRendering(ctx context.Context) (*AudioBuffer, error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	e.log.Debug("rendering started",
		logger.Int("channels", e.numberOfChannels),
		logger.Int("length", e.length),
		logger.Float32("sample_rate", e.sampleRate),
		logger.Int("sources", len(e.inputs)))

	e.setState(events.RenderStateRunning, 0)

	out := NewAudioBuffer(e.numberOfChannels, e.length, e.sampleRate)
	mix := make([]float64, RenderQuantumSize)
	scratch := make([]float64, RenderQuantumSize)
	scaled := make([]float64, RenderQuantumSize)

	for {
		e.mu.Lock()
		frame := e.frame
		if frame >= e.length {
			e.mu.Unlock()
			break
		}
		_, suspend := e.suspends[frame]
		e.checked = frame
		e.mu.Unlock()

		if suspend {
			if err := e.park(ctx, frame); err != nil {
				e.abort()
				return nil, errors.New(err).
					Component(componentEngine).
					Category(errors.CategoryCancellation).
					Context("frame", frame).
					Build()
			}
		}

		n := min(RenderQuantumSize, e.length-frame)
		if err := e.renderQuantum(frame, mix[:n], scratch[:n], scaled[:n]); err != nil {
			e.log.Error("rendering aborted", logger.Error(err), logger.Int("frame", frame))
			e.abort()
			return nil, err
		}
		for ch := range e.numberOfChannels {
			dst := out.Channel(ch)[frame : frame+n]
			for i, v := range mix[:n] {
				dst[i] = float32(v)
			}
		}

		e.mu.Lock()
		e.frame = frame + n
		e.mu.Unlock()
	}

	e.finish()
	return out, nil
}

// renderQuantum mixes every input into mix
func (e *OfflineEngine) renderQuantum(frame int, mix, scratch, scaled []float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("source panicked: %v", r).
				Component(componentEngine).
				Category(errors.CategoryEngine).
				Context("frame", frame).
				Build()
		}
	}()

	clear(mix)
	sr := float64(e.sampleRate)
	for _, in := range e.inputs {
		in.src.Render(frame, sr, scratch)
		vecmath.ScaleBlock(scaled, scratch, in.gain)
		vecmath.AddBlockInPlace(mix, scaled)
	}
	return nil
}

// park blocks the render loop at frame until Resume or ctx cancellation
func (e *OfflineEngine) park(ctx context.Context, frame int) error {
	resumeCh := make(chan struct{})
	resumedCh := make(chan struct{})

	e.mu.Lock()
	delete(e.suspends, frame)
	e.resumeCh = resumeCh
	e.resumedCh = resumedCh
	e.mu.Unlock()

	e.setState(events.RenderStateSuspended, frame)

	select {
	case <-resumeCh:
	case <-ctx.Done():
		e.mu.Lock()
		e.resumeCh = nil
		e.mu.Unlock()
		close(resumedCh)
		return ctx.Err()
	}

	e.setState(events.RenderStateRunning, frame)
	close(resumedCh)
	return nil
}

func (e *OfflineEngine) setState(state events.RenderState, frame int) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()

	e.log.Trace("render state changed",
		logger.String("state", string(state)),
		logger.Int("frame", frame))
	e.stateChange.Emit(events.StateChange(state, frame, e.sampleRate))
}

func (e *OfflineEngine) finish() {
	e.mu.Lock()
	e.finished = true
	clear(e.suspends)
	e.mu.Unlock()

	e.setState(events.RenderStateClosed, e.length)
	e.complete.Emit(events.Complete(e.length, e.sampleRate))
	close(e.doneCh)

	e.log.Debug("rendering complete", logger.Int("frames", e.length))
}

// abort ends an interrupted render without a completion notification
func (e *OfflineEngine) abort() {
	e.mu.Lock()
	e.finished = true
	clear(e.suspends)
	e.mu.Unlock()

	e.setState(events.RenderStateClosed, e.CurrentFrame())
	close(e.doneCh)
}

var _ Engine = (*OfflineEngine)(nil)
