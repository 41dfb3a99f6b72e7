package webrtc

import (
	"time"

	"voicemesh/internal/core/domain"

	"github.com/pion/webrtc/v4"
)

// buildSample condenses a pion stats report into one NetworkSample. RTT and
// loss come from remote inbound reports when the peer sends them, with the
// selected candidate pair RTT as fallback.
func buildSample(attendee domain.AttendeeID, report webrtc.StatsReport) domain.NetworkSample {
	sample := domain.NetworkSample{
		AttendeeID: attendee,
		Timestamp:  time.Now(),
	}

	var (
		fractionLost    float64
		remoteReports   int
		packetsLost     int64
		packetsReceived int64
		jitterSeconds   float64
		inboundStreams  int
		pairRTT         float64
	)

	for _, s := range report {
		switch v := s.(type) {
		case webrtc.RemoteInboundRTPStreamStats:
			fractionLost += v.FractionLost
			remoteReports++
			if v.RoundTripTime > 0 {
				sample.RoundTripTime = time.Duration(v.RoundTripTime * float64(time.Second))
			}
		case webrtc.InboundRTPStreamStats:
			packetsLost += int64(v.PacketsLost)
			packetsReceived += int64(v.PacketsReceived)
			jitterSeconds += v.Jitter
			inboundStreams++
		case webrtc.TransportStats:
			sample.BytesSent += v.BytesSent
			sample.BytesReceived += v.BytesReceived
		case webrtc.ICECandidatePairStats:
			if v.State == webrtc.StatsICECandidatePairStateSucceeded && v.CurrentRoundTripTime > 0 {
				pairRTT = v.CurrentRoundTripTime
			}
		}
	}

	switch {
	case remoteReports > 0:
		sample.PacketLoss = fractionLost / float64(remoteReports)
	case packetsLost+packetsReceived > 0:
		sample.PacketLoss = float64(packetsLost) / float64(packetsLost+packetsReceived)
	}
	if inboundStreams > 0 {
		sample.Jitter = time.Duration(jitterSeconds / float64(inboundStreams) * float64(time.Second))
	}
	if sample.RoundTripTime == 0 && pairRTT > 0 {
		sample.RoundTripTime = time.Duration(pairRTT * float64(time.Second))
	}
	return sample
}
