package signal

import (
	"encoding/json"

	"voicemesh/internal/core/domain"

	"github.com/pion/webrtc/v4"
)

// SignalMessage is the wire envelope shared with the coordination server.
type SignalMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound and inbound message types.
const (
	TypeJoinChannel       = "join-channel"
	TypeLeaveChannel      = "leave-channel"
	TypeUserJoined        = "user-joined"
	TypeUserLeft          = "user-left"
	TypeRosterUpdate      = "roster-update"
	TypeMediaStateUpdate  = "media-state-update"
	TypeOffer             = "offer"
	TypeAnswer            = "answer"
	TypeICECandidate      = "ice-candidate"
	TypeScreenOffer       = "screen-share-offer"
	TypeScreenAnswer      = "screen-share-answer"
	TypeScreenCandidate   = "screen-share-ice-candidate"
	TypeNetworkQuality    = "network-quality-update"
	TypeVoiceInvite       = "voice-invite-received"
)

type ChannelPayload struct {
	ChannelID domain.ChannelID `json:"channelId"`
}

type UserJoinedPayload struct {
	AttendeeID     domain.AttendeeID `json:"attendeeId"`
	ExternalUserID string            `json:"externalUserId"`
	Username       string            `json:"username,omitempty"`
}

type UserLeftPayload struct {
	AttendeeID domain.AttendeeID `json:"attendeeId"`
}

type RosterUpdatePayload struct {
	Members []domain.RosterMember `json:"members"`
}

type MediaStatePayload struct {
	AttendeeID domain.AttendeeID `json:"attendeeId,omitempty"`
	Media      domain.MediaState `json:"mediaState"`
}

type DescriptionPayload struct {
	To   domain.AttendeeID         `json:"to,omitempty"`
	From domain.AttendeeID         `json:"from,omitempty"`
	SDP  webrtc.SessionDescription `json:"sdp"`
}

type CandidatePayload struct {
	To        domain.AttendeeID       `json:"to,omitempty"`
	From      domain.AttendeeID       `json:"from,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type NetworkQualityPayload struct {
	Stats []NetworkStat `json:"stats"`
}

type NetworkStat struct {
	AttendeeID domain.AttendeeID `json:"attendeeId"`
	PacketLoss float64           `json:"packetLoss"`
	RTTMillis  int64             `json:"rttMs"`
	JitterMS   int64             `json:"jitterMs"`
}

type VoiceInvitePayload struct {
	ChannelID       domain.ChannelID `json:"channelId"`
	ChannelName     string           `json:"channelName"`
	ServerID        domain.ServerID  `json:"serverId"`
	ServerName      string           `json:"serverName"`
	InviterID       string           `json:"inviterId"`
	InviterUsername string           `json:"inviterUsername"`
	Timestamp       int64            `json:"timestamp"`
}

func encodeMessage(msgType string, payload interface{}) (SignalMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SignalMessage{}, err
	}
	return SignalMessage{Type: msgType, Payload: raw}, nil
}
