package ports

import (
	"context"

	"voicemesh/internal/core/domain"
	"voicemesh/pkg/events"

	"github.com/pion/webrtc/v4"
)

// MediaPipeline owns local capture devices and the local media state. All
// LocalMediaState mutations go through it.
type MediaPipeline interface {
	// Initialize runs the acquisition fallback cascade. On total failure it
	// returns a classified permission error.
	Initialize(ctx context.Context) error

	State() domain.MediaState

	// SetMuted and SetVideoEnabled disable tracks without stopping capture,
	// so toggling back is instantaneous and needs no renegotiation.
	SetMuted(muted bool) error
	SetVideoEnabled(enabled bool) error
	SetQuality(q domain.MediaQuality) error
	SetRecording(enabled bool) error

	// StartScreenShare acquires a separate content stream; StopScreenShare
	// releases it. An unexpected end of the capture (user stops sharing
	// from the browser chrome) surfaces as a ScreenShareEnded event, not an
	// error.
	StartScreenShare(ctx context.Context) error
	StopScreenShare() error

	// SwitchCamera / SwitchMicrophone swap the capture device and replace
	// the track on every live sender in place.
	SwitchCamera(ctx context.Context, deviceID string) error
	SwitchMicrophone(ctx context.Context, deviceID string) error

	// Tracks returns the camera/mic tracks; ScreenTracks the content
	// tracks, empty unless a share is active.
	Tracks() []webrtc.TrackLocal
	ScreenTracks() []webrtc.TrackLocal

	StateChanged() *events.Emitter[domain.MediaState]
	ScreenShareEnded() *events.Emitter[struct{}]
	TrackToggled() *events.Emitter[TrackToggleEvent]
	TrackReplaced() *events.Emitter[TrackReplaceEvent]

	Close() error
}

// TrackToggleEvent asks senders to gate a local track on or off without
// renegotiating.
type TrackToggleEvent struct {
	Kind    webrtc.RTPCodecType
	Enabled bool
}

// TrackReplaceEvent asks senders to swap a local track in place after a
// device switch.
type TrackReplaceEvent struct {
	Kind  webrtc.RTPCodecType
	Track webrtc.TrackLocal
}

// Recorder consumes local media when recording is toggled on.
type Recorder interface {
	Start(ctx context.Context, tracks []webrtc.TrackLocal) error
	Stop() error
}
