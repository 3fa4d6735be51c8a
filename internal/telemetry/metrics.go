package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the capture pipeline.
type Metrics struct {
	registry            *prometheus.Registry
	framesCapturedTotal prometheus.Counter
	framesDroppedTotal  prometheus.Counter
	framesWrittenTotal  prometheus.Counter
	reconnectsTotal     prometheus.Counter
	recordingsTotal     prometheus.Counter
	screenshotsTotal    prometheus.Counter
	pipelineState       prometheus.Gauge
}

// New creates and registers Prometheus metrics for the pipeline.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	framesCapturedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "photobooth_frames_captured_total",
		Help: "Total number of frames received from the source",
	})
	framesDroppedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "photobooth_frames_dropped_total",
		Help: "Total number of preview frames dropped by the lossy buffer",
	})
	framesWrittenTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "photobooth_frames_written_total",
		Help: "Total number of frames persisted by the recorder",
	})
	reconnectsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "photobooth_reconnects_total",
		Help: "Total number of source reconnect attempts",
	})
	recordingsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "photobooth_recordings_total",
		Help: "Total number of recording sessions started",
	})
	screenshotsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "photobooth_screenshots_total",
		Help: "Total number of screenshots saved",
	})
	pipelineState := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "photobooth_pipeline_state",
		Help: "Current pipeline state (0=disconnected, 1=connected, 2=recording)",
	})

	registry.MustRegister(
		framesCapturedTotal,
		framesDroppedTotal,
		framesWrittenTotal,
		reconnectsTotal,
		recordingsTotal,
		screenshotsTotal,
		pipelineState,
	)

	return &Metrics{
		registry:            registry,
		framesCapturedTotal: framesCapturedTotal,
		framesDroppedTotal:  framesDroppedTotal,
		framesWrittenTotal:  framesWrittenTotal,
		reconnectsTotal:     reconnectsTotal,
		recordingsTotal:     recordingsTotal,
		screenshotsTotal:    screenshotsTotal,
		pipelineState:       pipelineState,
	}
}

// IncFramesCaptured increments the captured frame counter.
func (m *Metrics) IncFramesCaptured() {
	m.framesCapturedTotal.Inc()
}

// AddFramesDropped adds to the dropped frame counter.
func (m *Metrics) AddFramesDropped(n uint64) {
	m.framesDroppedTotal.Add(float64(n))
}

// IncFramesWritten increments the persisted frame counter.
func (m *Metrics) IncFramesWritten() {
	m.framesWrittenTotal.Inc()
}

// IncReconnects increments the reconnect attempt counter.
func (m *Metrics) IncReconnects() {
	m.reconnectsTotal.Inc()
}

// IncRecordings increments the recording session counter.
func (m *Metrics) IncRecordings() {
	m.recordingsTotal.Inc()
}

// IncScreenshots increments the screenshot counter.
func (m *Metrics) IncScreenshots() {
	m.screenshotsTotal.Inc()
}

// SetPipelineState sets the pipeline state gauge.
func (m *Metrics) SetPipelineState(state int) {
	m.pipelineState.Set(float64(state))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
