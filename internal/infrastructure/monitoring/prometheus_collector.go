package monitoring

import (
	"time"

	"meetmesh/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	participantsPresent prometheus.Gauge
	connectionsByState  *prometheus.GaugeVec
	networkQuality      *prometheus.GaugeVec

	// Counters
	connectionsTotal    prometheus.Counter
	signalingMessages   *prometheus.CounterVec
	autoplayBlocksTotal prometheus.Counter
	negotiationFailures prometheus.Counter

	// Histograms
	sessionDuration     prometheus.Histogram
	negotiationDuration prometheus.Histogram
}

// NewPrometheusCollector registers the meeting metrics on the given
// registerer. Tests pass a fresh registry; production passes the default.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		participantsPresent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetmesh_participants_present",
			Help: "Number of participants currently present in the meeting",
		}),

		connectionsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meetmesh_peer_connections",
			Help: "Peer connections by state",
		}, []string{"state"}),

		networkQuality: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meetmesh_network_quality",
			Help: "Per-peer network quality score (0-1)",
		}, []string{"participant_id"}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetmesh_peer_connections_total",
			Help: "Total number of peer connections created",
		}),

		signalingMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetmesh_signaling_messages_total",
			Help: "Signaling messages by type and direction",
		}, []string{"type", "direction"}),

		autoplayBlocksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetmesh_autoplay_blocks_total",
			Help: "Times remote audio playback was blocked pending a user gesture",
		}),

		negotiationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetmesh_negotiation_failures_total",
			Help: "Offer/answer exchanges that ended in a failed connection",
		}),

		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetmesh_session_duration_seconds",
			Help:    "Duration of completed sessions",
			Buckets: prometheus.ExponentialBuckets(60, 2, 10),
		}),

		negotiationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetmesh_negotiation_duration_seconds",
			Help:    "Time from connection create to connected state",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

func (p *PrometheusCollector) RecordParticipantJoined()  { p.participantsPresent.Inc() }
func (p *PrometheusCollector) RecordParticipantLeft()    { p.participantsPresent.Dec() }
func (p *PrometheusCollector) RecordConnectionCreated()  { p.connectionsTotal.Inc() }
func (p *PrometheusCollector) RecordAutoplayBlocked()    { p.autoplayBlocksTotal.Inc() }
func (p *PrometheusCollector) RecordNegotiationFailure() { p.negotiationFailures.Inc() }

func (p *PrometheusCollector) RecordConnectionState(prev, next domain.ConnState) {
	if prev != "" {
		p.connectionsByState.WithLabelValues(string(prev)).Dec()
	}
	if next != "" {
		p.connectionsByState.WithLabelValues(string(next)).Inc()
	}
}

func (p *PrometheusCollector) RecordSignalingMessage(t domain.SignalType, direction string) {
	p.signalingMessages.WithLabelValues(string(t), direction).Inc()
}

func (p *PrometheusCollector) RecordNetworkQuality(id domain.ParticipantID, quality float64) {
	p.networkQuality.WithLabelValues(string(id)).Set(quality)
}

func (p *PrometheusCollector) ForgetParticipant(id domain.ParticipantID) {
	p.networkQuality.DeleteLabelValues(string(id))
}

func (p *PrometheusCollector) RecordSessionEnded(duration time.Duration) {
	p.sessionDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordNegotiationComplete(duration time.Duration) {
	p.negotiationDuration.Observe(duration.Seconds())
}
