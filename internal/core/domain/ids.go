package domain

type AttendeeID string
type ChannelID string
type ServerID string
type TileID string
type InviteID string
