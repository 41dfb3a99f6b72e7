package domain

import "time"

// NetworkSample is one per-link statistics sample pulled by the quality
// monitor.
type NetworkSample struct {
	AttendeeID    AttendeeID
	Timestamp     time.Time
	PacketLoss    float64 // fraction, 0..1
	RoundTripTime time.Duration
	Jitter        time.Duration
	BytesSent     uint64
	BytesReceived uint64
}

// DegradationSeverity classifies how badly a link is degraded.
type DegradationSeverity string

const (
	SeverityNone   DegradationSeverity = "none"
	SeverityLow    DegradationSeverity = "low"
	SeverityMedium DegradationSeverity = "medium"
	SeverityHigh   DegradationSeverity = "high"
)

// QualityAdvisory is emitted when a link crosses a degradation threshold.
// It carries recommendations only; the monitor never mutates media state.
type QualityAdvisory struct {
	AttendeeID      AttendeeID
	Severity        DegradationSeverity
	PacketLoss      float64
	RoundTripTime   time.Duration
	Recommendations []string
}
