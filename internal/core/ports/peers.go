package ports

import (
	"context"

	"voicemesh/internal/core/domain"
	"voicemesh/pkg/events"

	"github.com/pion/webrtc/v4"
)

// RemoteTrackEvent is raised when a remote track starts or stops flowing.
type RemoteTrackEvent struct {
	AttendeeID domain.AttendeeID
	TrackID    string
	Kind       webrtc.RTPCodecType
	Content    bool
}

// PeerFailedEvent is raised when a link exhausts its negotiation retry.
type PeerFailedEvent struct {
	AttendeeID domain.AttendeeID
	Err        error
}

// PeerRegistry owns one PeerLink per remote participant and drives
// offer/answer/ICE exchange for each of them.
type PeerRegistry interface {
	// AddPeer creates an initiator link for a newly observed participant
	// and starts negotiation.
	AddPeer(ctx context.Context, attendeeID domain.AttendeeID) error

	// HandleOffer creates a responder link when the peer is unknown, sets
	// the remote description and answers.
	HandleOffer(ctx context.Context, from domain.AttendeeID, sdp webrtc.SessionDescription, content bool) error
	HandleAnswer(ctx context.Context, from domain.AttendeeID, sdp webrtc.SessionDescription, content bool) error
	HandleCandidate(from domain.AttendeeID, candidate webrtc.ICECandidateInit, content bool) error

	// RemovePeer closes and removes the link unconditionally, whatever its
	// negotiation state.
	RemovePeer(attendeeID domain.AttendeeID)
	// Reconcile removes every link whose attendee is not in keep.
	Reconcile(keep map[domain.AttendeeID]struct{})
	CloseAll()

	Count() int
	Known(attendeeID domain.AttendeeID) bool

	// StartScreenShare renegotiates the content stream onto every live
	// link; StopScreenShare tears only the content legs down.
	StartScreenShare(ctx context.Context) error
	StopScreenShare(ctx context.Context)

	// Samples returns one statistics sample per live link.
	Samples() []domain.NetworkSample

	TrackAdded() *events.Emitter[RemoteTrackEvent]
	TrackRemoved() *events.Emitter[RemoteTrackEvent]
	PeerConnected() *events.Emitter[domain.AttendeeID]
	PeerFailed() *events.Emitter[PeerFailedEvent]
}
