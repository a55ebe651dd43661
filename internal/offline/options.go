package offline

import (
	"github.com/tphakala/webaudio-go/internal/engine"
	"github.com/tphakala/webaudio-go/internal/hostloop"
	"github.com/tphakala/webaudio-go/internal/logger"
	"github.com/tphakala/webaudio-go/internal/observability/metrics"
)

// EngineFactory creates the engine for a controller
type EngineFactory func(numberOfChannels, length int, sampleRate float32) (engine.Engine, error)

type options struct {
	engineFactory      EngineFactory
	engineOptions      []engine.Option
	destinationFactory DestinationFactory
	spawner            hostloop.Spawner
	metrics            *metrics.BridgeMetrics
	maxBufferBytes     int64
	dropLogRate        float64
	dropLogBurst       int
	log                logger.Logger
}

// Option configures a Controller
type Option func(*options)

// WithEngineFactory replaces the reference engine
func WithEngineFactory(f EngineFactory) Option {
	return func(o *options) {
		if f != nil {
			o.engineFactory = f
		}
	}
}

// WithEngineOptions passes options to the reference engine
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) {
		o.engineOptions = append(o.engineOptions, opts...)
	}
}

// WithDestinationFactory replaces the default destination
func WithDestinationFactory(f DestinationFactory) Option {
	return func(o *options) {
		if f != nil {
			o.destinationFactory = f
		}
	}
}

// WithSpawner runs render control work on sp instead of a private scheduler
func WithSpawner(sp hostloop.Spawner) Option {
	return func(o *options) {
		if sp != nil {
			o.spawner = sp
		}
	}
}

// WithMetrics records registry, delivery and render metrics on m
func WithMetrics(m *metrics.BridgeMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithMaxBufferBytes bounds the size of a marshalled render result
func WithMaxBufferBytes(n int64) Option {
	return func(o *options) {
		o.maxBufferBytes = n
	}
}

// WithDropLogRate limits logging of dropped deliveries per handle
func WithDropLogRate(perSecond float64, burst int) Option {
	return func(o *options) {
		o.dropLogRate = perSecond
		o.dropLogBurst = burst
	}
}

// WithLogger overrides the controller logger
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}
