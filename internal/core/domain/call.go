package domain

import "time"

// CallType distinguishes what the caller asked to start with; it does not
// constrain later toggles.
type CallType string

const (
	CallTypeVoice  CallType = "voice"
	CallTypeVideo  CallType = "video"
	CallTypeScreen CallType = "screen"
)

// ActiveCall describes the single active call of the process. Created on
// join, destroyed on leave; minimize/maximize only flips Minimized.
type ActiveCall struct {
	ChannelID   ChannelID
	ServerID    ServerID
	ChannelName string
	StartedAt   time.Time
	Type        CallType
	Minimized   bool
}
