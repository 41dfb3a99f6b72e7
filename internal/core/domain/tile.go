package domain

// VideoTile binds a bound video track to a displayable surface. A member may
// own at most two tiles at once: one camera tile and one content tile.
type VideoTile struct {
	TileID    TileID
	Owner     AttendeeID
	IsLocal   bool
	IsContent bool
}
