package domain

// MediaQuality is the declared capture quality of a participant.
type MediaQuality string

const (
	QualityLow    MediaQuality = "low"
	QualityMedium MediaQuality = "medium"
	QualityHigh   MediaQuality = "high"
	QualityAuto   MediaQuality = "auto"
)

// MediaState is the per-participant declared media state. For the local
// participant it is mutated only by the media pipeline; for remote
// participants it mirrors media-state-update events.
type MediaState struct {
	Muted         bool         `json:"muted"`
	Speaking      bool         `json:"speaking"`
	Video         bool         `json:"video"`
	ScreenSharing bool         `json:"screenSharing"`
	Recording     bool         `json:"recording"`
	Quality       MediaQuality `json:"mediaQuality"`
}

// RosterMember is one participant of a channel. The authoritative copy lives
// in the roster service, keyed by AttendeeID.
type RosterMember struct {
	AttendeeID     AttendeeID `json:"attendeeId"`
	ExternalUserID string     `json:"externalUserId"`
	Username       string     `json:"username"`
	Media          MediaState `json:"mediaState"`
}
