package ports

import (
	"context"

	"voicemesh/internal/core/domain"
	"voicemesh/pkg/events"

	"github.com/pion/webrtc/v4"
)

// Signaling event payloads. These cross the boundary between the transport
// and the call core; the transport owns (de)serialization.

type UserJoinedEvent struct {
	AttendeeID     domain.AttendeeID
	ExternalUserID string
	Username       string
}

type UserLeftEvent struct {
	AttendeeID domain.AttendeeID
}

type RosterUpdateEvent struct {
	Members []domain.RosterMember
}

type MediaStateEvent struct {
	AttendeeID domain.AttendeeID
	Media      domain.MediaState
}

// DescriptionEvent carries an offer or answer. Content marks the screen
// share stream, negotiated separately from the camera/mic stream.
type DescriptionEvent struct {
	From    domain.AttendeeID
	SDP     webrtc.SessionDescription
	Content bool
}

type CandidateEvent struct {
	From      domain.AttendeeID
	Candidate webrtc.ICECandidateInit
	Content   bool
}

type InviteEvent struct {
	ChannelID   domain.ChannelID
	ChannelName string
	ServerID    domain.ServerID
	ServerName  string
	InviterID   string
	InviterName string
}

// ConnectivityEvent reports transport state flips. Reconnected=true means
// the transport re-established after a drop: the next roster snapshot must
// be treated as authoritative.
type ConnectivityEvent struct {
	Connected   bool
	Reconnected bool
}

// SignalingEvents groups the inbound event emitters of the channel.
type SignalingEvents struct {
	UserJoined   *events.Emitter[UserJoinedEvent]
	UserLeft     *events.Emitter[UserLeftEvent]
	Roster       *events.Emitter[RosterUpdateEvent]
	MediaState   *events.Emitter[MediaStateEvent]
	Offer        *events.Emitter[DescriptionEvent]
	Answer       *events.Emitter[DescriptionEvent]
	Candidate    *events.Emitter[CandidateEvent]
	Invite       *events.Emitter[InviteEvent]
	Connectivity *events.Emitter[ConnectivityEvent]
}

func NewSignalingEvents() *SignalingEvents {
	return &SignalingEvents{
		UserJoined:   events.NewEmitter[UserJoinedEvent](),
		UserLeft:     events.NewEmitter[UserLeftEvent](),
		Roster:       events.NewEmitter[RosterUpdateEvent](),
		MediaState:   events.NewEmitter[MediaStateEvent](),
		Offer:        events.NewEmitter[DescriptionEvent](),
		Answer:       events.NewEmitter[DescriptionEvent](),
		Candidate:    events.NewEmitter[CandidateEvent](),
		Invite:       events.NewEmitter[InviteEvent](),
		Connectivity: events.NewEmitter[ConnectivityEvent](),
	}
}

// SignalingChannel is the out-of-band message transport to the coordination
// server. It is not a media path.
type SignalingChannel interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool

	JoinChannel(ctx context.Context, channelID domain.ChannelID) error
	LeaveChannel(ctx context.Context, channelID domain.ChannelID) error
	SendMediaState(ctx context.Context, state domain.MediaState) error
	SendOffer(ctx context.Context, to domain.AttendeeID, sdp webrtc.SessionDescription, content bool) error
	SendAnswer(ctx context.Context, to domain.AttendeeID, sdp webrtc.SessionDescription, content bool) error
	SendCandidate(ctx context.Context, to domain.AttendeeID, candidate webrtc.ICECandidateInit, content bool) error
	SendNetworkQuality(ctx context.Context, samples []domain.NetworkSample) error

	Events() *SignalingEvents
}
