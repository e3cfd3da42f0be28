package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ScanFrameSent()
		m.ScanEnded("exhausted")
		m.FrameReceived("text")
		m.FrameSent("binary")
		m.FrameDropped("malformed")
		m.SetChannelOpen(true)
		m.SetQueueDepth(3)
		m.SegmentPlayed()
		m.SegmentsCleared(2)
		m.DecodeFailed()
		m.PhaseEntered("active")
		m.ActionDenied("send_voice")
	})
}

func TestCountersAndHandler(t *testing.T) {
	m := New("bridge_test")

	m.ScanFrameSent()
	m.ScanFrameSent()
	m.ScanEnded("resolved")
	m.SetChannelOpen(true)
	m.SegmentsCleared(0)
	m.SegmentsCleared(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "bridge_test_scan_frames_sent_total 2")
	assert.Contains(t, body, `bridge_test_scan_outcomes_total{outcome="resolved"} 1`)
	assert.Contains(t, body, "bridge_test_channel_open 1")
	assert.Contains(t, body, "bridge_test_playback_segments_discarded_total 4")
}
