package services

import (
	"testing"

	"voicemesh/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRoster() *rosterService {
	return NewRosterService(zap.NewNop().Sugar()).(*rosterService)
}

func member(id domain.AttendeeID, name string) domain.RosterMember {
	return domain.RosterMember{AttendeeID: id, Username: name}
}

func TestRosterJoinLeave(t *testing.T) {
	r := newRoster()

	r.ApplyJoin(member("a1", "alice"))
	r.ApplyJoin(member("a2", "bob"))
	assert.Equal(t, 2, r.Size())

	got, ok := r.Member("a1")
	require.True(t, ok)
	assert.Equal(t, "alice", got.Username)

	r.ApplyLeave("a1")
	assert.Equal(t, 1, r.Size())
	_, ok = r.Member("a1")
	assert.False(t, ok)

	// Leaving twice is harmless.
	r.ApplyLeave("a1")
	assert.Equal(t, 1, r.Size())
}

func TestRosterSnapshotIsAuthoritative(t *testing.T) {
	r := newRoster()

	r.ApplyJoin(member("a1", "alice"))
	r.ApplyJoin(member("a2", "bob"))
	_, err := r.BindTrack("a2", false, false)
	require.NoError(t, err)

	// a2 is gone from the server's view; a3 is new.
	r.ApplySnapshot([]domain.RosterMember{
		member("a1", "alice"),
		member("a3", "carol"),
	})

	assert.Equal(t, 2, r.Size())
	_, ok := r.Member("a2")
	assert.False(t, ok)
	assert.Empty(t, r.Tiles(), "tiles of dropped members must go with them")
}

func TestRosterSnapshotPreservesJoinOrder(t *testing.T) {
	r := newRoster()

	r.ApplyJoin(member("a1", "alice"))
	r.ApplyJoin(member("a2", "bob"))
	r.ApplySnapshot([]domain.RosterMember{
		member("a3", "carol"),
		member("a1", "alice"),
		member("a2", "bob"),
	})

	members := r.Members()
	require.Len(t, members, 3)
	assert.Equal(t, domain.AttendeeID("a1"), members[0].AttendeeID)
	assert.Equal(t, domain.AttendeeID("a2"), members[1].AttendeeID)
	assert.Equal(t, domain.AttendeeID("a3"), members[2].AttendeeID)
}

func TestRosterMediaStateUpdate(t *testing.T) {
	r := newRoster()
	r.ApplyJoin(member("a1", "alice"))

	r.ApplyMediaState("a1", domain.MediaState{Muted: true, Quality: domain.QualityHigh})

	got, _ := r.Member("a1")
	assert.True(t, got.Media.Muted)
	assert.Equal(t, domain.QualityHigh, got.Media.Quality)

	// Unknown members are ignored, not created.
	r.ApplyMediaState("ghost", domain.MediaState{Muted: true})
	_, ok := r.Member("ghost")
	assert.False(t, ok)
}

func TestBindTrackRequiresMember(t *testing.T) {
	r := newRoster()
	_, err := r.BindTrack("ghost", false, false)
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestBindTrackIsIdempotentPerSlot(t *testing.T) {
	r := newRoster()
	r.ApplyJoin(member("a1", "alice"))

	first, err := r.BindTrack("a1", false, false)
	require.NoError(t, err)
	second, err := r.BindTrack("a1", false, false)
	require.NoError(t, err)
	assert.Equal(t, first.TileID, second.TileID)

	// The content slot is separate from the camera slot.
	content, err := r.BindTrack("a1", false, true)
	require.NoError(t, err)
	assert.NotEqual(t, first.TileID, content.TileID)
	assert.True(t, content.IsContent)
	assert.Len(t, r.Tiles(), 2)
}

func TestTilesOrderCameraBeforeContent(t *testing.T) {
	r := newRoster()
	r.ApplyJoin(member("a1", "alice"))
	r.ApplyJoin(member("a2", "bob"))

	_, err := r.BindTrack("a2", false, true)
	require.NoError(t, err)
	_, err = r.BindTrack("a2", false, false)
	require.NoError(t, err)
	_, err = r.BindTrack("a1", false, false)
	require.NoError(t, err)

	tiles := r.Tiles()
	require.Len(t, tiles, 3)
	assert.Equal(t, domain.AttendeeID("a1"), tiles[0].Owner)
	assert.Equal(t, domain.AttendeeID("a2"), tiles[1].Owner)
	assert.False(t, tiles[1].IsContent)
	assert.True(t, tiles[2].IsContent)
}

func TestUnbindTrackRemovesTile(t *testing.T) {
	r := newRoster()
	r.ApplyJoin(member("a1", "alice"))
	_, err := r.BindTrack("a1", false, false)
	require.NoError(t, err)

	r.UnbindTrack("a1", false)
	assert.Empty(t, r.Tiles())

	r.UnbindTrack("a1", false)
	assert.Empty(t, r.Tiles())
}

func TestRosterReset(t *testing.T) {
	r := newRoster()
	r.ApplyJoin(member("a1", "alice"))
	_, err := r.BindTrack("a1", false, false)
	require.NoError(t, err)

	r.Reset()
	assert.Zero(t, r.Size())
	assert.Empty(t, r.Tiles())
	assert.Empty(t, r.Members())
}

func TestRosterChangedNotifications(t *testing.T) {
	r := newRoster()

	var fired int
	unsub := r.Changed().Subscribe(func(struct{}) { fired++ })
	defer unsub()

	r.ApplyJoin(member("a1", "alice"))
	r.ApplyMediaState("a1", domain.MediaState{Muted: true})
	r.ApplyLeave("a1")

	assert.Equal(t, 3, fired)
}
