// Package metrics defines the Prometheus metrics of the interpreter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

const namespace = "interpreter"

// Module provides Metrics registered on a dedicated registry.
var Module = fx.Module("metrics",
	fx.Provide(
		NewRegistry,
		func(reg *prometheus.Registry) prometheus.Registerer { return reg },
		func(reg *prometheus.Registry) prometheus.Gatherer { return reg },
		NewMetrics,
	),
)

// Metrics contains all Prometheus metrics of a running interpreter.
type Metrics struct {
	// Capture
	FramesCaptured prometheus.Counter
	FramesGated    prometheus.Counter
	FramesSent     prometheus.Counter
	FramesDropped  *prometheus.CounterVec

	// Inbound
	TranscriptDeltas prometheus.Counter
	Interruptions    prometheus.Counter
	TurnsCompleted   prometheus.Counter
	RemoteErrors     prometheus.Counter

	// Playback
	ChunksScheduled    prometheus.Counter
	ChunksDropped      prometheus.Counter
	ChunkDuration      prometheus.Histogram
	PlaybackActive     prometheus.Gauge
	SecondsSynthesized prometheus.Counter

	// Sessions
	SessionsStarted prometheus.Counter
	SessionFailures *prometheus.CounterVec
	Reconnects      prometheus.Counter
	SessionState    *prometheus.GaugeVec
}

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Total number of microphone frames captured",
		}),
		FramesGated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_gated_total",
			Help:      "Total number of frames muted by the noise gate",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames queued to the remote service",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of frames dropped before transmission",
		}, []string{"reason"}),

		TranscriptDeltas: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_deltas_total",
			Help:      "Total number of transcript deltas received",
		}),
		Interruptions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Total number of interruption signals received",
		}),
		TurnsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_completed_total",
			Help:      "Total number of completed translation turns",
		}),
		RemoteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_errors_total",
			Help:      "Total number of errors reported by the remote service during a session",
		}),

		ChunksScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_scheduled_total",
			Help:      "Total number of audio chunks scheduled for playback",
		}),
		ChunksDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_dropped_total",
			Help:      "Total number of audio chunks that could not be decoded or scheduled",
		}),
		ChunkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "playback_chunk_duration_seconds",
			Help:      "Duration of scheduled audio chunks",
			Buckets:   []float64{0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2},
		}),
		PlaybackActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_active",
			Help:      "1 while synthesized speech is playing",
		}),
		SecondsSynthesized: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_seconds_total",
			Help:      "Total seconds of synthesized speech scheduled",
		}),

		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of sessions that reached the active state",
		}),
		SessionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_failures_total",
			Help:      "Total number of session failures by kind",
		}, []string{"kind"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of automatic reconnect attempts",
		}),
		SessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state",
		}, []string{"state"}),
	}
}

// New creates Metrics on a private registry, for tests and tools.
func New() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
