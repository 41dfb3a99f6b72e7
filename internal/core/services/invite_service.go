package services

import (
	"context"
	"sync"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/events"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type pendingInvite struct {
	invite domain.Invite
	timer  *time.Timer
}

type inviteService struct {
	ttl    time.Duration
	call   ports.CallService
	logger *zap.SugaredLogger

	mu     sync.Mutex
	byID   map[domain.InviteID]*pendingInvite
	byKey  map[domain.InviteKey]domain.InviteID
	closed bool

	added   *events.Emitter[domain.Invite]
	removed *events.Emitter[domain.Invite]
}

// NewInviteService creates the pending invite queue. Invites live for ttl
// and are deduplicated by (channel, inviter); a repeat delivery refreshes
// the timer instead of queueing a second entry.
func NewInviteService(ttl time.Duration, call ports.CallService, logger *zap.SugaredLogger) ports.InviteService {
	return &inviteService{
		ttl:     ttl,
		call:    call,
		logger:  logger,
		byID:    make(map[domain.InviteID]*pendingInvite),
		byKey:   make(map[domain.InviteKey]domain.InviteID),
		added:   events.NewEmitter[domain.Invite](),
		removed: events.NewEmitter[domain.Invite](),
	}
}

// HandleInvite admits an incoming invitation. Invites for the channel the
// user is already in are dropped.
func (s *inviteService) HandleInvite(invite domain.Invite) {
	if s.call != nil && s.call.IsInChannel(invite.ChannelID) {
		return
	}

	now := time.Now()
	invite.ReceivedAt = now
	invite.ExpiresAt = now.Add(s.ttl)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if id, ok := s.byKey[invite.Key()]; ok {
		pending := s.byID[id]
		invite.ID = id
		pending.invite = invite
		pending.timer.Reset(s.ttl)
		s.mu.Unlock()

		s.logger.Debugw("invite refreshed",
			"invite_id", id,
			"channel_id", invite.ChannelID,
		)
		return
	}

	invite.ID = domain.InviteID(uuid.NewString())
	pending := &pendingInvite{invite: invite}
	pending.timer = time.AfterFunc(s.ttl, func() {
		s.expire(invite.ID)
	})
	s.byID[invite.ID] = pending
	s.byKey[invite.Key()] = invite.ID
	s.mu.Unlock()

	s.logger.Infow("invite received",
		"invite_id", invite.ID,
		"channel_id", invite.ChannelID,
		"inviter", invite.InviterName,
	)
	s.added.Emit(invite)
}

// Accept removes the invite and joins its channel as a voice call.
func (s *inviteService) Accept(ctx context.Context, id domain.InviteID) error {
	invite, ok := s.take(id)
	if !ok {
		return domain.ErrInviteNotFound
	}
	s.removed.Emit(invite)

	return s.call.StartCall(ctx, invite.ChannelID, invite.ServerID, invite.ChannelName, domain.CallTypeVoice)
}

func (s *inviteService) Decline(id domain.InviteID) error {
	invite, ok := s.take(id)
	if !ok {
		return domain.ErrInviteNotFound
	}
	s.logger.Infow("invite declined", "invite_id", id)
	s.removed.Emit(invite)
	return nil
}

func (s *inviteService) Pending() []domain.Invite {
	s.mu.Lock()
	defer s.mu.Unlock()

	invites := make([]domain.Invite, 0, len(s.byID))
	for _, pending := range s.byID {
		invites = append(invites, pending.invite)
	}
	return invites
}

func (s *inviteService) Added() *events.Emitter[domain.Invite] { return s.added }
func (s *inviteService) Removed() *events.Emitter[domain.Invite] { return s.removed }

// Close stops every expiry timer. Pending invites are dropped without
// Removed events.
func (s *inviteService) Close() {
	s.mu.Lock()
	s.closed = true
	for _, pending := range s.byID {
		pending.timer.Stop()
	}
	s.byID = make(map[domain.InviteID]*pendingInvite)
	s.byKey = make(map[domain.InviteKey]domain.InviteID)
	s.mu.Unlock()
}

func (s *inviteService) expire(id domain.InviteID) {
	invite, ok := s.take(id)
	if !ok {
		return
	}
	s.logger.Infow("invite expired", "invite_id", id)
	s.removed.Emit(invite)
}

// take removes the invite from both indexes. Accept, Decline and expiry all
// go through it, so exactly one of them wins for a given invite.
func (s *inviteService) take(id domain.InviteID) (domain.Invite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.byID[id]
	if !ok {
		return domain.Invite{}, false
	}
	pending.timer.Stop()
	delete(s.byID, id)
	delete(s.byKey, pending.invite.Key())
	return pending.invite, true
}
