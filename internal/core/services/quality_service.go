package services

import (
	"context"
	"sync"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/events"

	"go.uber.org/zap"
)

// QualityConfig holds the degradation thresholds of the monitor.
type QualityConfig struct {
	SampleInterval   time.Duration
	PacketLossLow    float64
	PacketLossMedium float64
	PacketLossHigh   float64
	RTTWarning       time.Duration
	RTTCritical      time.Duration

	// MinAdvisoryGap limits advisory frequency per peer; a severity
	// increase bypasses it.
	MinAdvisoryGap time.Duration

	// HysteresisFraction shrinks thresholds on the way down, so a link
	// hovering around a boundary does not flap.
	HysteresisFraction float64
}

func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		SampleInterval:     5 * time.Second,
		PacketLossLow:      0.02,
		PacketLossMedium:   0.05,
		PacketLossHigh:     0.10,
		RTTWarning:         150 * time.Millisecond,
		RTTCritical:        300 * time.Millisecond,
		MinAdvisoryGap:     10 * time.Second,
		HysteresisFraction: 0.15,
	}
}

// MetricsSink receives link observations. Satisfied by the prometheus
// collector; nil disables metrics.
type MetricsSink interface {
	ObserveSample(sample domain.NetworkSample, prev *domain.NetworkSample)
	SetSeverity(attendeeID domain.AttendeeID, severity domain.DegradationSeverity)
	RecordAdvisory(severity domain.DegradationSeverity)
	SetPeerCount(count int)
	ForgetLink(attendeeID domain.AttendeeID)
}

type linkState struct {
	severity     domain.DegradationSeverity
	lastAdvisory time.Time
	lastSample   domain.NetworkSample
	seen         bool
}

// QualityService classifies per-link statistics samples and emits
// advisories when a link degrades. It recommends, it never mutates media
// state itself.
type QualityService struct {
	cfg     QualityConfig
	metrics MetricsSink
	logger  *zap.SugaredLogger

	mu    sync.Mutex
	links map[domain.AttendeeID]*linkState

	advisories *events.Emitter[domain.QualityAdvisory]
}

func NewQualityService(cfg QualityConfig, metrics MetricsSink, logger *zap.SugaredLogger) *QualityService {
	return &QualityService{
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
		links:      make(map[domain.AttendeeID]*linkState),
		advisories: events.NewEmitter[domain.QualityAdvisory](),
	}
}

func (s *QualityService) Advisories() *events.Emitter[domain.QualityAdvisory] {
	return s.advisories
}

// Run samples the registry until ctx is cancelled: one pass per interval,
// reporting the batch upstream so other participants can render degraded
// connection hints.
func (s *QualityService) Run(ctx context.Context, registry ports.PeerRegistry, signal ports.SignalingChannel) {
	ticker := time.NewTicker(s.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samples := registry.Samples()
			s.observe(samples)
			if s.metrics != nil {
				s.metrics.SetPeerCount(registry.Count())
			}
			if len(samples) == 0 {
				continue
			}
			if err := signal.SendNetworkQuality(ctx, samples); err != nil {
				s.logger.Warnw("failed to report network quality", "error", err)
			}
		}
	}
}

func (s *QualityService) observe(samples []domain.NetworkSample) {
	seen := make(map[domain.AttendeeID]struct{}, len(samples))
	for _, sample := range samples {
		seen[sample.AttendeeID] = struct{}{}
		if advisory, ok := s.Observe(sample); ok {
			s.logger.Warnw("link degraded",
				"attendee_id", advisory.AttendeeID,
				"severity", advisory.Severity,
				"packet_loss", advisory.PacketLoss,
				"rtt", advisory.RoundTripTime,
			)
			s.advisories.Emit(advisory)
		}
	}
	s.forgetDeparted(seen)
}

// Observe ingests one sample and returns an advisory when the link's
// severity crossed a threshold (with hysteresis) and the per-peer advisory
// gap allows it.
func (s *QualityService) Observe(sample domain.NetworkSample) (domain.QualityAdvisory, bool) {
	s.mu.Lock()
	state, ok := s.links[sample.AttendeeID]
	if !ok {
		state = &linkState{severity: domain.SeverityNone}
		s.links[sample.AttendeeID] = state
	}

	var prev *domain.NetworkSample
	if state.seen {
		p := state.lastSample
		prev = &p
	}
	state.lastSample = sample
	state.seen = true

	severity := s.classify(sample, state.severity)
	worsened := severityRank(severity) > severityRank(state.severity)
	changed := severity != state.severity
	state.severity = severity

	now := time.Now()
	emit := severity != domain.SeverityNone &&
		(worsened || (changed && now.Sub(state.lastAdvisory) >= s.cfg.MinAdvisoryGap))
	if emit {
		state.lastAdvisory = now
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveSample(sample, prev)
		s.metrics.SetSeverity(sample.AttendeeID, severity)
	}

	if !emit {
		return domain.QualityAdvisory{}, false
	}

	advisory := domain.QualityAdvisory{
		AttendeeID:      sample.AttendeeID,
		Severity:        severity,
		PacketLoss:      sample.PacketLoss,
		RoundTripTime:   sample.RoundTripTime,
		Recommendations: recommendationsFor(severity),
	}
	if s.metrics != nil {
		s.metrics.RecordAdvisory(severity)
	}
	return advisory, true
}

// Severity returns the current severity of a link.
func (s *QualityService) Severity(attendeeID domain.AttendeeID) domain.DegradationSeverity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.links[attendeeID]; ok {
		return state.severity
	}
	return domain.SeverityNone
}

// Reset drops all link state. Used on call end.
func (s *QualityService) Reset() {
	s.mu.Lock()
	links := s.links
	s.links = make(map[domain.AttendeeID]*linkState)
	s.mu.Unlock()

	if s.metrics != nil {
		for id := range links {
			s.metrics.ForgetLink(id)
		}
		s.metrics.SetPeerCount(0)
	}
}

// classify maps a sample to a severity. Downgrades apply hysteresis: the
// link must drop below threshold*(1-fraction) before it improves.
func (s *QualityService) classify(sample domain.NetworkSample, current domain.DegradationSeverity) domain.DegradationSeverity {
	severity := s.rawSeverity(sample, 1.0)
	if severityRank(severity) >= severityRank(current) {
		return severity
	}

	// Improving: re-classify against shrunk thresholds and keep the
	// current severity unless the link clears them too.
	sticky := s.rawSeverity(sample, 1.0-s.cfg.HysteresisFraction)
	if severityRank(sticky) >= severityRank(current) {
		return current
	}
	return severity
}

func (s *QualityService) rawSeverity(sample domain.NetworkSample, scale float64) domain.DegradationSeverity {
	loss := domain.SeverityNone
	switch {
	case sample.PacketLoss >= s.cfg.PacketLossHigh*scale:
		loss = domain.SeverityHigh
	case sample.PacketLoss >= s.cfg.PacketLossMedium*scale:
		loss = domain.SeverityMedium
	case sample.PacketLoss >= s.cfg.PacketLossLow*scale:
		loss = domain.SeverityLow
	}

	rtt := domain.SeverityNone
	switch {
	case sample.RoundTripTime >= time.Duration(float64(s.cfg.RTTCritical)*scale):
		rtt = domain.SeverityHigh
	case sample.RoundTripTime >= time.Duration(float64(s.cfg.RTTWarning)*scale):
		rtt = domain.SeverityLow
	}

	if severityRank(rtt) > severityRank(loss) {
		return rtt
	}
	return loss
}

func (s *QualityService) forgetDeparted(seen map[domain.AttendeeID]struct{}) {
	s.mu.Lock()
	var departed []domain.AttendeeID
	for id := range s.links {
		if _, ok := seen[id]; !ok {
			departed = append(departed, id)
			delete(s.links, id)
		}
	}
	s.mu.Unlock()

	if s.metrics != nil {
		for _, id := range departed {
			s.metrics.ForgetLink(id)
		}
	}
}

func severityRank(s domain.DegradationSeverity) int {
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

func recommendationsFor(severity domain.DegradationSeverity) []string {
	switch severity {
	case domain.SeverityLow:
		return []string{"reduce-video-bitrate"}
	case domain.SeverityMedium:
		return []string{"reduce-video-bitrate", "lower-video-resolution"}
	case domain.SeverityHigh:
		return []string{"disable-video", "audio-only"}
	default:
		return nil
	}
}
