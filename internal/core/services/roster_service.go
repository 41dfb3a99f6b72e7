package services

import (
	"sync"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/events"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type tileKey struct {
	owner   domain.AttendeeID
	content bool
}

type rosterService struct {
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	members map[domain.AttendeeID]domain.RosterMember
	order   []domain.AttendeeID
	tiles   map[tileKey]domain.VideoTile

	changed *events.Emitter[struct{}]
}

// NewRosterService creates an empty roster. The roster is the authoritative
// participant list of the active channel; server snapshots always win over
// locally accumulated deltas.
func NewRosterService(logger *zap.SugaredLogger) ports.RosterService {
	return &rosterService{
		logger:  logger,
		members: make(map[domain.AttendeeID]domain.RosterMember),
		tiles:   make(map[tileKey]domain.VideoTile),
		changed: events.NewEmitter[struct{}](),
	}
}

// ApplySnapshot replaces the member set with the server's view. Members
// absent from the snapshot are dropped together with their tiles; join
// order of surviving members is preserved.
func (s *rosterService) ApplySnapshot(members []domain.RosterMember) {
	s.mu.Lock()

	next := make(map[domain.AttendeeID]domain.RosterMember, len(members))
	for _, m := range members {
		next[m.AttendeeID] = m
	}

	order := make([]domain.AttendeeID, 0, len(members))
	for _, id := range s.order {
		if _, ok := next[id]; ok {
			order = append(order, id)
		}
	}
	for _, m := range members {
		if _, known := s.members[m.AttendeeID]; !known {
			order = append(order, m.AttendeeID)
		}
	}

	for key := range s.tiles {
		if _, ok := next[key.owner]; !ok {
			delete(s.tiles, key)
		}
	}

	s.members = next
	s.order = order
	s.mu.Unlock()

	s.logger.Infow("roster snapshot applied", "members", len(members))
	s.changed.Emit(struct{}{})
}

// ApplyJoin adds or updates a single member.
func (s *rosterService) ApplyJoin(member domain.RosterMember) {
	s.mu.Lock()
	if _, known := s.members[member.AttendeeID]; !known {
		s.order = append(s.order, member.AttendeeID)
	}
	s.members[member.AttendeeID] = member
	s.mu.Unlock()

	s.logger.Infow("member joined",
		"attendee_id", member.AttendeeID,
		"username", member.Username,
	)
	s.changed.Emit(struct{}{})
}

func (s *rosterService) ApplyLeave(attendeeID domain.AttendeeID) {
	s.mu.Lock()
	if _, known := s.members[attendeeID]; !known {
		s.mu.Unlock()
		return
	}
	delete(s.members, attendeeID)
	for i, id := range s.order {
		if id == attendeeID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	delete(s.tiles, tileKey{owner: attendeeID, content: false})
	delete(s.tiles, tileKey{owner: attendeeID, content: true})
	s.mu.Unlock()

	s.logger.Infow("member left", "attendee_id", attendeeID)
	s.changed.Emit(struct{}{})
}

// ApplyMediaState updates a member's declared media state. Unknown members
// are ignored; their state will arrive with the next snapshot.
func (s *rosterService) ApplyMediaState(attendeeID domain.AttendeeID, media domain.MediaState) {
	s.mu.Lock()
	member, known := s.members[attendeeID]
	if !known {
		s.mu.Unlock()
		return
	}
	member.Media = media
	s.members[attendeeID] = member
	s.mu.Unlock()

	s.changed.Emit(struct{}{})
}

// BindTrack creates the tile for a flowing video track. A tile exists only
// while its track is bound; binding the same slot twice returns the
// existing tile.
func (s *rosterService) BindTrack(attendeeID domain.AttendeeID, isLocal, isContent bool) (domain.VideoTile, error) {
	s.mu.Lock()
	if _, known := s.members[attendeeID]; !known {
		s.mu.Unlock()
		return domain.VideoTile{}, domain.ErrMemberNotFound
	}

	key := tileKey{owner: attendeeID, content: isContent}
	if tile, ok := s.tiles[key]; ok {
		s.mu.Unlock()
		return tile, nil
	}

	tile := domain.VideoTile{
		TileID:    domain.TileID(uuid.NewString()),
		Owner:     attendeeID,
		IsLocal:   isLocal,
		IsContent: isContent,
	}
	s.tiles[key] = tile
	s.mu.Unlock()

	s.changed.Emit(struct{}{})
	return tile, nil
}

func (s *rosterService) UnbindTrack(attendeeID domain.AttendeeID, isContent bool) {
	s.mu.Lock()
	key := tileKey{owner: attendeeID, content: isContent}
	_, existed := s.tiles[key]
	delete(s.tiles, key)
	s.mu.Unlock()

	if existed {
		s.changed.Emit(struct{}{})
	}
}

// Members returns the roster in join order.
func (s *rosterService) Members() []domain.RosterMember {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]domain.RosterMember, 0, len(s.order))
	for _, id := range s.order {
		members = append(members, s.members[id])
	}
	return members
}

func (s *rosterService) Member(attendeeID domain.AttendeeID) (domain.RosterMember, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	member, ok := s.members[attendeeID]
	return member, ok
}

// Tiles returns the tiles in roster order, camera tile before content tile
// per member.
func (s *rosterService) Tiles() []domain.VideoTile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tiles := make([]domain.VideoTile, 0, len(s.tiles))
	for _, id := range s.order {
		if tile, ok := s.tiles[tileKey{owner: id, content: false}]; ok {
			tiles = append(tiles, tile)
		}
		if tile, ok := s.tiles[tileKey{owner: id, content: true}]; ok {
			tiles = append(tiles, tile)
		}
	}
	return tiles
}

func (s *rosterService) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// Reset drops everything. Used on call end and on authoritative resync
// after a signaling reconnect.
func (s *rosterService) Reset() {
	s.mu.Lock()
	s.members = make(map[domain.AttendeeID]domain.RosterMember)
	s.order = nil
	s.tiles = make(map[tileKey]domain.VideoTile)
	s.mu.Unlock()

	s.changed.Emit(struct{}{})
}

func (s *rosterService) Changed() *events.Emitter[struct{}] {
	return s.changed
}
