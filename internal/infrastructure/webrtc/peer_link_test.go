package webrtc

import (
	"context"
	"testing"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiationFSMInitiatorPath(t *testing.T) {
	ctx := context.Background()
	f := newNegotiationFSM()

	assert.Equal(t, stateIdle, f.Current())
	require.NoError(t, f.Event(ctx, evOffer))
	assert.Equal(t, stateOffering, f.Current())
	require.NoError(t, f.Event(ctx, evAnswer))
	assert.Equal(t, stateConnected, f.Current())
	require.NoError(t, f.Event(ctx, evClose))
	assert.Equal(t, stateClosed, f.Current())
}

func TestNegotiationFSMResponderPath(t *testing.T) {
	ctx := context.Background()
	f := newNegotiationFSM()

	require.NoError(t, f.Event(ctx, evAccept))
	assert.Equal(t, stateAnswering, f.Current())
	require.NoError(t, f.Event(ctx, evEstablish))
	assert.Equal(t, stateConnected, f.Current())
}

func TestNegotiationFSMRejectsDoubleOffer(t *testing.T) {
	ctx := context.Background()
	f := newNegotiationFSM()

	require.NoError(t, f.Event(ctx, evOffer))
	assert.Error(t, f.Event(ctx, evOffer))
	assert.Error(t, f.Event(ctx, evAccept))
	assert.Equal(t, stateOffering, f.Current())
}

func TestNegotiationFSMFailureIsNotRecoverable(t *testing.T) {
	ctx := context.Background()
	f := newNegotiationFSM()

	require.NoError(t, f.Event(ctx, evOffer))
	require.NoError(t, f.Event(ctx, evFail))
	assert.Equal(t, stateFailed, f.Current())
	assert.Error(t, f.Event(ctx, evOffer))
	require.NoError(t, f.Event(ctx, evClose))
}

func TestNegotiationFSMCannotFailFromIdle(t *testing.T) {
	f := newNegotiationFSM()
	assert.Error(t, f.Event(context.Background(), evFail))
}

func TestLegBuffersCandidatesUntilRemoteDescription(t *testing.T) {
	l := &leg{
		fsm:     newNegotiationFSM(),
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
	}

	require.NoError(t, l.addCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"}))
	require.NoError(t, l.addCandidate(webrtc.ICECandidateInit{Candidate: "candidate:2"}))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.pending, 2)
	assert.Equal(t, "candidate:1", l.pending[0].Candidate)
}

func TestLegCloseIsIdempotent(t *testing.T) {
	l := &leg{
		fsm:     newNegotiationFSM(),
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
		remote: []ports.RemoteTrackEvent{
			{TrackID: "a"},
			{TrackID: "b"},
		},
	}

	removed := l.close()
	assert.Len(t, removed, 2)
	assert.Empty(t, l.close())
	assert.Equal(t, stateClosed, l.fsm.Current())
}

func TestBuildSamplePrefersRemoteInboundReports(t *testing.T) {
	report := webrtc.StatsReport{
		"remote-inbound": webrtc.RemoteInboundRTPStreamStats{
			FractionLost:  0.08,
			RoundTripTime: 0.150,
		},
		"inbound": webrtc.InboundRTPStreamStats{
			PacketsReceived: 900,
			PacketsLost:     100,
			Jitter:          0.020,
		},
		"transport": webrtc.TransportStats{
			BytesSent:     4096,
			BytesReceived: 8192,
		},
	}

	sample := buildSample(domain.AttendeeID("a1"), report)

	assert.Equal(t, domain.AttendeeID("a1"), sample.AttendeeID)
	assert.InDelta(t, 0.08, sample.PacketLoss, 1e-9)
	assert.Equal(t, 150*time.Millisecond, sample.RoundTripTime)
	assert.Equal(t, 20*time.Millisecond, sample.Jitter)
	assert.Equal(t, uint64(4096), sample.BytesSent)
	assert.Equal(t, uint64(8192), sample.BytesReceived)
}

func TestBuildSampleFallsBackToInboundCounters(t *testing.T) {
	report := webrtc.StatsReport{
		"inbound": webrtc.InboundRTPStreamStats{
			PacketsReceived: 950,
			PacketsLost:     50,
		},
		"pair": webrtc.ICECandidatePairStats{
			State:                webrtc.StatsICECandidatePairStateSucceeded,
			CurrentRoundTripTime: 0.200,
		},
	}

	sample := buildSample(domain.AttendeeID("a2"), report)

	assert.InDelta(t, 0.05, sample.PacketLoss, 1e-9)
	assert.Equal(t, 200*time.Millisecond, sample.RoundTripTime)
}

func TestBuildSampleEmptyReport(t *testing.T) {
	sample := buildSample(domain.AttendeeID("a3"), webrtc.StatsReport{})
	assert.Zero(t, sample.PacketLoss)
	assert.Zero(t, sample.RoundTripTime)
}
