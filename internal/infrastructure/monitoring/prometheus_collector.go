package monitoring

import (
	"time"

	"voicemesh/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	peersConnected    prometheus.Gauge
	callsTotal        prometheus.Counter
	callDuration      prometheus.Histogram
	negotiationsTotal *prometheus.CounterVec
	invitesPending    prometheus.Gauge

	packetLoss      *prometheus.GaugeVec
	roundTripTime   *prometheus.HistogramVec
	bytesSent       *prometheus.CounterVec
	bytesReceived   *prometheus.CounterVec
	linkSeverity    *prometheus.GaugeVec
	advisoriesTotal *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		peersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicemesh_peers_connected",
			Help: "Number of connected remote participants",
		}),

		callsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_calls_total",
			Help: "Total number of calls started",
		}),

		callDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicemesh_call_duration_seconds",
			Help:    "Duration of finished calls",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}),

		negotiationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemesh_negotiations_total",
			Help: "Total peer negotiations by outcome",
		}, []string{"outcome"}),

		invitesPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicemesh_invites_pending",
			Help: "Number of pending voice channel invites",
		}),

		packetLoss: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicemesh_link_packet_loss_ratio",
			Help: "Packet loss fraction per peer link",
		}, []string{"attendee_id"}),

		roundTripTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicemesh_link_rtt_seconds",
			Help:    "Round trip time per peer link",
			Buckets: []float64{0.01, 0.05, 0.1, 0.15, 0.3, 0.5, 1, 2},
		}, []string{"attendee_id"}),

		bytesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemesh_link_bytes_sent_total",
			Help: "Bytes sent per peer link",
		}, []string{"attendee_id"}),

		bytesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemesh_link_bytes_received_total",
			Help: "Bytes received per peer link",
		}, []string{"attendee_id"}),

		linkSeverity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicemesh_link_degradation_severity",
			Help: "Degradation severity per peer link (0=none 1=low 2=medium 3=high)",
		}, []string{"attendee_id"}),

		advisoriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemesh_quality_advisories_total",
			Help: "Quality advisories emitted by severity",
		}, []string{"severity"}),
	}
}

func (p *PrometheusCollector) RecordCallStarted() {
	p.callsTotal.Inc()
}

func (p *PrometheusCollector) RecordCallEnded(duration time.Duration) {
	p.callDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) SetPeerCount(count int) {
	p.peersConnected.Set(float64(count))
}

func (p *PrometheusCollector) RecordNegotiation(outcome string) {
	p.negotiationsTotal.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) SetPendingInvites(count int) {
	p.invitesPending.Set(float64(count))
}

// ObserveSample records link statistics. Byte counters are cumulative in the
// sample, so the delta since the previous observation is what gets added.
func (p *PrometheusCollector) ObserveSample(sample domain.NetworkSample, prev *domain.NetworkSample) {
	id := string(sample.AttendeeID)

	p.packetLoss.WithLabelValues(id).Set(sample.PacketLoss)
	if sample.RoundTripTime > 0 {
		p.roundTripTime.WithLabelValues(id).Observe(sample.RoundTripTime.Seconds())
	}

	if prev != nil {
		if sample.BytesSent >= prev.BytesSent {
			p.bytesSent.WithLabelValues(id).Add(float64(sample.BytesSent - prev.BytesSent))
		}
		if sample.BytesReceived >= prev.BytesReceived {
			p.bytesReceived.WithLabelValues(id).Add(float64(sample.BytesReceived - prev.BytesReceived))
		}
	} else {
		p.bytesSent.WithLabelValues(id).Add(float64(sample.BytesSent))
		p.bytesReceived.WithLabelValues(id).Add(float64(sample.BytesReceived))
	}
}

func (p *PrometheusCollector) SetSeverity(attendeeID domain.AttendeeID, severity domain.DegradationSeverity) {
	p.linkSeverity.WithLabelValues(string(attendeeID)).Set(severityValue(severity))
}

func (p *PrometheusCollector) RecordAdvisory(severity domain.DegradationSeverity) {
	p.advisoriesTotal.WithLabelValues(string(severity)).Inc()
}

// ForgetLink drops the per-link series of a departed peer.
func (p *PrometheusCollector) ForgetLink(attendeeID domain.AttendeeID) {
	id := string(attendeeID)
	p.packetLoss.DeleteLabelValues(id)
	p.roundTripTime.DeleteLabelValues(id)
	p.bytesSent.DeleteLabelValues(id)
	p.bytesReceived.DeleteLabelValues(id)
	p.linkSeverity.DeleteLabelValues(id)
}

func severityValue(s domain.DegradationSeverity) float64 {
	switch s {
	case domain.SeverityLow:
		return 1
	case domain.SeverityMedium:
		return 2
	case domain.SeverityHigh:
		return 3
	default:
		return 0
	}
}
