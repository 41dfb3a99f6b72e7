package ports

import (
	"context"

	"voicemesh/internal/core/domain"
	"voicemesh/pkg/events"
)

// CallStateEvent describes a transition of the active call.
type CallStateEvent struct {
	Active bool
	Call   domain.ActiveCall
}

// CallService is the process-wide call state manager. Exactly one call can
// be active at a time; starting a new call replaces the old one. The media
// operations act on the active call and return ErrNoActiveCall otherwise.
type CallService interface {
	StartCall(ctx context.Context, channelID domain.ChannelID, serverID domain.ServerID, channelName string, callType domain.CallType) error
	EndCall(ctx context.Context) error
	MinimizeCall()
	MaximizeCall()
	IsInChannel(channelID domain.ChannelID) bool
	Active() (domain.ActiveCall, bool)

	SetMuted(muted bool) error
	SetVideoEnabled(enabled bool) error
	SetQuality(q domain.MediaQuality) error
	SetRecording(enabled bool) error
	StartScreenShare(ctx context.Context) error
	StopScreenShare(ctx context.Context) error
	SwitchCamera(ctx context.Context, deviceID string) error
	SwitchMicrophone(ctx context.Context, deviceID string) error

	StateChanged() *events.Emitter[CallStateEvent]
}

// RosterService maintains the authoritative participant list of the active
// channel.
type RosterService interface {
	ApplySnapshot(members []domain.RosterMember)
	ApplyJoin(member domain.RosterMember)
	ApplyLeave(attendeeID domain.AttendeeID)
	ApplyMediaState(attendeeID domain.AttendeeID, media domain.MediaState)
	BindTrack(attendeeID domain.AttendeeID, isLocal, isContent bool) (domain.VideoTile, error)
	UnbindTrack(attendeeID domain.AttendeeID, isContent bool)
	Members() []domain.RosterMember
	Member(attendeeID domain.AttendeeID) (domain.RosterMember, bool)
	Tiles() []domain.VideoTile
	Size() int
	Reset()
	Changed() *events.Emitter[struct{}]
}

// InviteService manages the bounded-lifetime queue of pending invites,
// independent of any live call.
type InviteService interface {
	HandleInvite(invite domain.Invite)
	Accept(ctx context.Context, id domain.InviteID) error
	Decline(id domain.InviteID) error
	Pending() []domain.Invite
	Added() *events.Emitter[domain.Invite]
	Removed() *events.Emitter[domain.Invite]
	Close()
}
