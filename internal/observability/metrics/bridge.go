// Package metrics provides custom Prometheus metrics for the offline rendering bridge.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// BridgeMetrics contains the Prometheus metrics for listener registration,
// callback delivery and render control.
//
// It satisfies the observer interfaces of the registry and callback packages.
type BridgeMetrics struct {
	ListenersActive  prometheus.Gauge
	Registrations    prometheus.Counter
	Revocations      *prometheus.CounterVec
	Deliveries       prometheus.Counter
	DroppedDelivery  *prometheus.CounterVec
	Renders          *prometheus.CounterVec
	RenderDuration   prometheus.Histogram
	RenderedFrames   prometheus.Counter
	ControlOperation *prometheus.CounterVec
}

// NewBridgeMetrics creates the bridge metrics and registers them with registry
func NewBridgeMetrics(registry prometheus.Registerer) (*BridgeMetrics, error) {
	m := &BridgeMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register bridge metrics: %w", err)
	}
	return m, nil
}

func (m *BridgeMetrics) initMetrics() {
	m.ListenersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "webaudio_listeners_active",
		Help: "Number of registered listener handles.",
	})

	m.Registrations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webaudio_listener_registrations_total",
		Help: "Total number of listener registrations.",
	})

	m.Revocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webaudio_listener_revocations_total",
		Help: "Total number of listener revocations by reason.",
	}, []string{"reason"})

	m.Deliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webaudio_callback_deliveries_total",
		Help: "Total number of events delivered to host callbacks.",
	})

	m.DroppedDelivery = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webaudio_callback_dropped_total",
		Help: "Total number of events not delivered, by reason.",
	}, []string{"reason"})

	m.Renders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webaudio_renders_total",
		Help: "Total number of offline renders by status.",
	}, []string{"status"})

	m.RenderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webaudio_render_duration_seconds",
		Help:    "Wall clock duration of offline renders in seconds.",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
	})

	m.RenderedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webaudio_rendered_frames_total",
		Help: "Total number of sample frames rendered.",
	})

	m.ControlOperation = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webaudio_control_operations_total",
		Help: "Total number of render control operations by operation and status.",
	}, []string{"operation", "status"})
}

// ListenerRegistered records a registration
func (m *BridgeMetrics) ListenerRegistered(active int) {
	m.Registrations.Inc()
	m.ListenersActive.Set(float64(active))
}

// ListenerRevoked records a revocation
func (m *BridgeMetrics) ListenerRevoked(reason string, active int) {
	m.Revocations.WithLabelValues(reason).Inc()
	m.ListenersActive.Set(float64(active))
}

// CallbackDelivered records a delivered event
func (m *BridgeMetrics) CallbackDelivered() {
	m.Deliveries.Inc()
}

// CallbackDropped records an event that was not delivered
func (m *BridgeMetrics) CallbackDropped(reason string) {
	m.DroppedDelivery.WithLabelValues(reason).Inc()
}

// RecordRender records a finished render
func (m *BridgeMetrics) RecordRender(status string, durationSeconds float64, frames int) {
	m.Renders.WithLabelValues(status).Inc()
	m.RenderDuration.Observe(durationSeconds)
	if status == StatusSuccess {
		m.RenderedFrames.Add(float64(frames))
	}
}

// RecordControl records a suspend or resume call
func (m *BridgeMetrics) RecordControl(operation, status string) {
	m.ControlOperation.WithLabelValues(operation, status).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *BridgeMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ListenersActive.Collect(ch)
	m.Registrations.Collect(ch)
	m.Revocations.Collect(ch)
	m.Deliveries.Collect(ch)
	m.DroppedDelivery.Collect(ch)
	m.Renders.Collect(ch)
	m.RenderDuration.Collect(ch)
	m.RenderedFrames.Collect(ch)
	m.ControlOperation.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *BridgeMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ListenersActive.Describe(ch)
	m.Registrations.Describe(ch)
	m.Revocations.Describe(ch)
	m.Deliveries.Describe(ch)
	m.DroppedDelivery.Describe(ch)
	m.Renders.Describe(ch)
	m.RenderDuration.Describe(ch)
	m.RenderedFrames.Describe(ch)
	m.ControlOperation.Describe(ch)
}
