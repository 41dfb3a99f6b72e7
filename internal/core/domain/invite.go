package domain

import "time"

// Invite is a pending voice channel invitation. Invites are deduplicated by
// (ChannelID, InviterID); a repeat delivery refreshes ExpiresAt instead of
// creating a second entry.
type Invite struct {
	ID          InviteID
	ChannelID   ChannelID
	ChannelName string
	ServerID    ServerID
	ServerName  string
	InviterID   string
	InviterName string
	ReceivedAt  time.Time
	ExpiresAt   time.Time
}

// Key identifies the dedup bucket of the invite.
func (i Invite) Key() InviteKey {
	return InviteKey{ChannelID: i.ChannelID, InviterID: i.InviterID}
}

type InviteKey struct {
	ChannelID ChannelID
	InviterID string
}
