// Package metrics holds the Prometheus metrics of the bridge client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the client. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Scan metrics
	ScanFramesSent *prometheus.CounterVec
	ScanOutcomes   *prometheus.CounterVec

	// Channel metrics
	FramesReceived *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec
	ChannelOpen    prometheus.Gauge

	// Playback metrics
	PlaybackQueueDepth prometheus.Gauge
	SegmentsPlayed     prometheus.Counter
	SegmentsDiscarded  prometheus.Counter
	DecodeFailures     prometheus.Counter

	// Session metrics
	PhaseTransitions *prometheus.CounterVec
	ActionsDenied    *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bridge"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ScanFramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_frames_sent_total",
			Help:      "Identity scan frames sent to the brain",
		}, []string{}),
		ScanOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_outcomes_total",
			Help:      "Scan cycles by terminal outcome",
		}, []string{"outcome"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_frames_received_total",
			Help:      "Frames received from the brain",
		}, []string{"kind"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_frames_sent_total",
			Help:      "Frames sent to the brain",
		}, []string{"kind"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_frames_dropped_total",
			Help:      "Frames dropped before or after transmission",
		}, []string{"reason"}),
		ChannelOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_open",
			Help:      "1 while the brain channel is open",
		}),
		PlaybackQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Segments waiting to be played",
		}),
		SegmentsPlayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_segments_played_total",
			Help:      "Segments that started playing",
		}),
		SegmentsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_segments_discarded_total",
			Help:      "Pending segments dropped by a queue clear",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_decode_failures_total",
			Help:      "Inbound audio frames that could not be decoded",
		}),
		PhaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_phase_transitions_total",
			Help:      "Session phase transitions by target phase",
		}, []string{"phase"}),
		ActionsDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_actions_denied_total",
			Help:      "User actions rejected by the action policy",
		}, []string{"action"}),
	}

	registry.MustRegister(
		m.ScanFramesSent,
		m.ScanOutcomes,
		m.FramesReceived,
		m.FramesSent,
		m.FramesDropped,
		m.ChannelOpen,
		m.PlaybackQueueDepth,
		m.SegmentsPlayed,
		m.SegmentsDiscarded,
		m.DecodeFailures,
		m.PhaseTransitions,
		m.ActionsDenied,
	)
	return m
}

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ScanFrameSent() {
	if m != nil {
		m.ScanFramesSent.WithLabelValues().Inc()
	}
}

func (m *Metrics) ScanEnded(outcome string) {
	if m != nil {
		m.ScanOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) FrameReceived(kind string) {
	if m != nil {
		m.FramesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) FrameSent(kind string) {
	if m != nil {
		m.FramesSent.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) FrameDropped(reason string) {
	if m != nil {
		m.FramesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SetChannelOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.ChannelOpen.Set(1)
	} else {
		m.ChannelOpen.Set(0)
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.PlaybackQueueDepth.Set(float64(n))
	}
}

func (m *Metrics) SegmentPlayed() {
	if m != nil {
		m.SegmentsPlayed.Inc()
	}
}

func (m *Metrics) SegmentsCleared(n int) {
	if m != nil {
		m.SegmentsDiscarded.Add(float64(n))
	}
}

func (m *Metrics) DecodeFailed() {
	if m != nil {
		m.DecodeFailures.Inc()
	}
}

func (m *Metrics) PhaseEntered(phase string) {
	if m != nil {
		m.PhaseTransitions.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) ActionDenied(action string) {
	if m != nil {
		m.ActionsDenied.WithLabelValues(action).Inc()
	}
}
