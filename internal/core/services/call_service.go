package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	cerrors "voicemesh/pkg/errors"
	"voicemesh/pkg/events"
	"voicemesh/pkg/tracing"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// CallMetrics receives call lifecycle observations. Satisfied by the
// prometheus collector; nil disables metrics.
type CallMetrics interface {
	RecordCallStarted()
	RecordCallEnded(duration time.Duration)
	RecordNegotiation(outcome string)
}

// CallDeps are the collaborators of the call service. Pipeline and registry
// are created per call through the factories, so every call starts with
// fresh devices and an empty mesh.
type CallDeps struct {
	Signal      ports.SignalingChannel
	Roster      ports.RosterService
	Quality     *QualityService
	Metrics     CallMetrics
	NewPipeline func() ports.MediaPipeline
	NewRegistry func(pipeline ports.MediaPipeline) ports.PeerRegistry
	Local       domain.RosterMember
	Logger      *zap.SugaredLogger
}

type activeSession struct {
	info     domain.ActiveCall
	pipeline ports.MediaPipeline
	registry ports.PeerRegistry
	subs     events.Group
	cancel   context.CancelFunc

	// Video tracks whose owner has not reached the roster yet. Keyed by
	// owner and stream, retried on every roster change.
	pendMu  sync.Mutex
	pending map[pendingBindKey]struct{}
}

type pendingBindKey struct {
	attendee domain.AttendeeID
	content  bool
}

type callService struct {
	deps   CallDeps
	logger *zap.SugaredLogger

	mu   sync.Mutex
	gen  uint64
	call *activeSession

	stateChanged *events.Emitter[ports.CallStateEvent]
}

// NewCallService creates the singleton call state manager.
func NewCallService(deps CallDeps) ports.CallService {
	return &callService{
		deps:         deps,
		logger:       deps.Logger,
		stateChanged: events.NewEmitter[ports.CallStateEvent](),
	}
}

// StartCall joins a voice channel. An already active call in another
// channel is torn down first, without an intermediate state event; joining
// the channel of the active call is a no-op.
func (s *callService) StartCall(ctx context.Context, channelID domain.ChannelID, serverID domain.ServerID, channelName string, callType domain.CallType) error {
	ctx, span := tracing.TraceCall(ctx, "start", string(channelID))
	defer span.End()

	s.mu.Lock()
	if s.call != nil && s.call.info.ChannelID == channelID {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	old := s.call
	s.call = nil
	s.mu.Unlock()

	if old != nil {
		s.logger.Infow("replacing active call",
			"old_channel_id", old.info.ChannelID,
			"new_channel_id", channelID,
		)
		s.teardown(ctx, old)
	}

	pipeline := s.deps.NewPipeline()
	if err := pipeline.Initialize(ctx); err != nil {
		pipeline.Close()
		tracing.RecordError(ctx, err)
		return err
	}

	// Device acquisition can be slow. A newer StartCall or an EndCall in
	// the meantime wins; this attempt releases its devices and bows out.
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		pipeline.Close()
		s.logger.Infow("call start superseded", "channel_id", channelID)
		return nil
	}

	registry := s.deps.NewRegistry(pipeline)
	sess := &activeSession{
		info: domain.ActiveCall{
			ChannelID:   channelID,
			ServerID:    serverID,
			ChannelName: channelName,
			StartedAt:   time.Now(),
			Type:        callType,
		},
		pipeline: pipeline,
		registry: registry,
		pending:  make(map[pendingBindKey]struct{}),
	}
	s.bind(sess)
	s.call = sess
	s.mu.Unlock()

	if err := s.join(ctx, sess); err != nil {
		s.mu.Lock()
		if s.call == sess {
			s.gen++
			s.call = nil
		}
		s.mu.Unlock()
		s.teardown(ctx, sess)
		tracing.RecordError(ctx, err)
		return err
	}

	qctx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	if s.deps.Quality != nil {
		go s.deps.Quality.Run(qctx, registry, s.deps.Signal)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordCallStarted()
	}

	s.logger.Infow("call started",
		"channel_id", channelID,
		"channel_name", channelName,
		"type", callType,
	)
	s.stateChanged.Emit(ports.CallStateEvent{Active: true, Call: sess.info})
	return nil
}

// join connects the transport and announces the local participant.
func (s *callService) join(ctx context.Context, sess *activeSession) error {
	signal := s.deps.Signal
	if !signal.Connected() {
		if err := signal.Connect(ctx); err != nil {
			return cerrors.Wrap(err, cerrors.ErrCodeSignaling, "failed to connect signaling channel")
		}
	}
	if err := signal.JoinChannel(ctx, sess.info.ChannelID); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeSignaling, "failed to join channel")
	}

	state := sess.pipeline.State()
	if err := signal.SendMediaState(ctx, state); err != nil {
		s.logger.Warnw("failed to announce media state", "error", err)
	}

	local := s.deps.Local
	local.Media = state
	s.deps.Roster.ApplyJoin(local)
	if state.Video {
		if _, err := s.deps.Roster.BindTrack(local.AttendeeID, true, false); err != nil {
			s.logger.Warnw("failed to bind local tile", "error", err)
		}
	}
	return nil
}

// bind wires the session's signaling, registry and pipeline events. All
// subscriptions go through the session group, so teardown drops them in
// one shot.
func (s *callService) bind(sess *activeSession) {
	ev := s.deps.Signal.Events()
	roster := s.deps.Roster
	registry := sess.registry
	localID := s.deps.Local.AttendeeID

	sess.subs.Add(ev.UserJoined.Subscribe(func(e ports.UserJoinedEvent) {
		roster.ApplyJoin(domain.RosterMember{
			AttendeeID:     e.AttendeeID,
			ExternalUserID: e.ExternalUserID,
			Username:       e.Username,
		})
		go s.withSessionCtx(func(ctx context.Context) {
			if err := registry.AddPeer(ctx, e.AttendeeID); err != nil {
				s.logger.Errorw("failed to add peer", "attendee_id", e.AttendeeID, "error", err)
			}
		})
	}))

	sess.subs.Add(ev.UserLeft.Subscribe(func(e ports.UserLeftEvent) {
		roster.ApplyLeave(e.AttendeeID)
		registry.RemovePeer(e.AttendeeID)
	}))

	sess.subs.Add(ev.Roster.Subscribe(func(e ports.RosterUpdateEvent) {
		roster.ApplySnapshot(e.Members)

		keep := make(map[domain.AttendeeID]struct{}, len(e.Members))
		for _, m := range e.Members {
			keep[m.AttendeeID] = struct{}{}
		}
		delete(keep, localID)
		// Snapshots only reconcile removals. Toward each snapshot member the
		// initiating side is the one that observed the join; our side
		// answers their offer, which creates the link.
		registry.Reconcile(keep)
	}))

	sess.subs.Add(ev.MediaState.Subscribe(func(e ports.MediaStateEvent) {
		roster.ApplyMediaState(e.AttendeeID, e.Media)
	}))

	sess.subs.Add(ev.Offer.Subscribe(func(e ports.DescriptionEvent) {
		go s.withSessionCtx(func(ctx context.Context) {
			if err := registry.HandleOffer(ctx, e.From, e.SDP, e.Content); err != nil {
				s.logger.Errorw("failed to handle offer", "attendee_id", e.From, "error", err)
			}
		})
	}))

	sess.subs.Add(ev.Answer.Subscribe(func(e ports.DescriptionEvent) {
		go s.withSessionCtx(func(ctx context.Context) {
			if err := registry.HandleAnswer(ctx, e.From, e.SDP, e.Content); err != nil {
				s.logger.Errorw("failed to handle answer", "attendee_id", e.From, "error", err)
			}
		})
	}))

	sess.subs.Add(ev.Candidate.Subscribe(func(e ports.CandidateEvent) {
		if err := registry.HandleCandidate(e.From, e.Candidate, e.Content); err != nil {
			s.logger.Warnw("failed to handle candidate", "attendee_id", e.From, "error", err)
		}
	}))

	sess.subs.Add(ev.Connectivity.Subscribe(func(e ports.ConnectivityEvent) {
		if !e.Reconnected {
			return
		}
		// Rejoin after a transport drop. The server answers with a fresh
		// roster snapshot, which is authoritative and reconciles the mesh.
		go s.withSessionCtx(func(ctx context.Context) {
			if err := s.deps.Signal.JoinChannel(ctx, sess.info.ChannelID); err != nil {
				s.logger.Errorw("failed to rejoin channel after reconnect", "error", err)
				return
			}
			if err := s.deps.Signal.SendMediaState(ctx, sess.pipeline.State()); err != nil {
				s.logger.Warnw("failed to re-announce media state", "error", err)
			}
		})
	}))

	sess.subs.Add(registry.TrackAdded().Subscribe(func(e ports.RemoteTrackEvent) {
		if e.Kind != webrtc.RTPCodecTypeVideo {
			return
		}
		s.bindTile(sess, e.AttendeeID, e.Content)
	}))

	sess.subs.Add(registry.TrackRemoved().Subscribe(func(e ports.RemoteTrackEvent) {
		if e.Kind != webrtc.RTPCodecTypeVideo {
			return
		}
		sess.pendMu.Lock()
		delete(sess.pending, pendingBindKey{attendee: e.AttendeeID, content: e.Content})
		sess.pendMu.Unlock()
		roster.UnbindTrack(e.AttendeeID, e.Content)
	}))

	sess.subs.Add(roster.Changed().Subscribe(func(struct{}) {
		s.retryPendingBinds(sess)
	}))

	sess.subs.Add(registry.PeerConnected().Subscribe(func(id domain.AttendeeID) {
		s.logger.Infow("peer connected", "attendee_id", id)
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordNegotiation("success")
		}
	}))

	sess.subs.Add(registry.PeerFailed().Subscribe(func(e ports.PeerFailedEvent) {
		s.logger.Errorw("peer failed", "attendee_id", e.AttendeeID, "error", e.Err)
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordNegotiation("failure")
		}
		registry.RemovePeer(e.AttendeeID)
	}))

	sess.subs.Add(sess.pipeline.StateChanged().Subscribe(func(state domain.MediaState) {
		roster.ApplyMediaState(localID, state)
		go s.withSessionCtx(func(ctx context.Context) {
			if err := s.deps.Signal.SendMediaState(ctx, state); err != nil {
				s.logger.Warnw("failed to broadcast media state", "error", err)
			}
		})
	}))

	sess.subs.Add(sess.pipeline.ScreenShareEnded().Subscribe(func(struct{}) {
		s.logger.Infow("screen share ended by capture source")
		roster.UnbindTrack(localID, true)
		go s.withSessionCtx(func(ctx context.Context) {
			registry.StopScreenShare(ctx)
		})
	}))
}

// bindTile creates the tile for a flowing remote video track. Track and
// roster events are not ordered relative to each other, so a track whose
// owner is not in the roster yet is parked until the roster catches up.
func (s *callService) bindTile(sess *activeSession, attendeeID domain.AttendeeID, content bool) {
	_, err := s.deps.Roster.BindTrack(attendeeID, false, content)
	switch {
	case err == nil:
		sess.pendMu.Lock()
		delete(sess.pending, pendingBindKey{attendee: attendeeID, content: content})
		sess.pendMu.Unlock()
	case errors.Is(err, domain.ErrMemberNotFound):
		s.logger.Infow("tile bind deferred until member reaches roster",
			"attendee_id", attendeeID,
			"content", content,
		)
		sess.pendMu.Lock()
		sess.pending[pendingBindKey{attendee: attendeeID, content: content}] = struct{}{}
		sess.pendMu.Unlock()
	default:
		s.logger.Warnw("failed to bind tile",
			"attendee_id", attendeeID,
			"content", content,
			"error", err,
		)
	}
}

func (s *callService) retryPendingBinds(sess *activeSession) {
	sess.pendMu.Lock()
	if len(sess.pending) == 0 {
		sess.pendMu.Unlock()
		return
	}
	keys := make([]pendingBindKey, 0, len(sess.pending))
	for key := range sess.pending {
		keys = append(keys, key)
	}
	sess.pendMu.Unlock()

	for _, key := range keys {
		if _, ok := s.deps.Roster.Member(key.attendee); !ok {
			continue
		}
		s.bindTile(sess, key.attendee, key.content)
	}
}

func (s *callService) withSessionCtx(fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	fn(ctx)
}

// EndCall leaves the channel and releases everything. Calling it without
// an active call is a no-op.
func (s *callService) EndCall(ctx context.Context) error {
	s.mu.Lock()
	sess := s.call
	if sess == nil {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	s.call = nil
	s.mu.Unlock()

	ctx, span := tracing.TraceCall(ctx, "end", string(sess.info.ChannelID))
	defer span.End()

	s.teardown(ctx, sess)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordCallEnded(time.Since(sess.info.StartedAt))
	}

	s.logger.Infow("call ended",
		"channel_id", sess.info.ChannelID,
		"duration", time.Since(sess.info.StartedAt),
	)
	s.stateChanged.Emit(ports.CallStateEvent{Active: false, Call: sess.info})
	return nil
}

// teardown releases a session: subscriptions first so no event handler
// races the close, then mesh, devices, and finally the channel membership.
func (s *callService) teardown(ctx context.Context, sess *activeSession) {
	if sess.cancel != nil {
		sess.cancel()
	}
	sess.subs.Close()
	sess.registry.CloseAll()
	if err := sess.pipeline.Close(); err != nil {
		s.logger.Warnw("failed to close media pipeline", "error", err)
	}
	if s.deps.Signal.Connected() {
		if err := s.deps.Signal.LeaveChannel(ctx, sess.info.ChannelID); err != nil {
			s.logger.Warnw("failed to leave channel", "error", err)
		}
	}
	if s.deps.Quality != nil {
		s.deps.Quality.Reset()
	}
	s.deps.Roster.Reset()
}

func (s *callService) MinimizeCall() {
	s.setMinimized(true)
}

func (s *callService) MaximizeCall() {
	s.setMinimized(false)
}

func (s *callService) setMinimized(minimized bool) {
	s.mu.Lock()
	sess := s.call
	if sess == nil || sess.info.Minimized == minimized {
		s.mu.Unlock()
		return
	}
	sess.info.Minimized = minimized
	info := sess.info
	s.mu.Unlock()

	s.stateChanged.Emit(ports.CallStateEvent{Active: true, Call: info})
}

func (s *callService) IsInChannel(channelID domain.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call != nil && s.call.info.ChannelID == channelID
}

func (s *callService) Active() (domain.ActiveCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.call == nil {
		return domain.ActiveCall{}, false
	}
	return s.call.info, true
}

func (s *callService) SetMuted(muted bool) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	return sess.pipeline.SetMuted(muted)
}

func (s *callService) SetVideoEnabled(enabled bool) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	if err := sess.pipeline.SetVideoEnabled(enabled); err != nil {
		return err
	}
	if enabled {
		_, err = s.deps.Roster.BindTrack(s.deps.Local.AttendeeID, true, false)
		return err
	}
	s.deps.Roster.UnbindTrack(s.deps.Local.AttendeeID, false)
	return nil
}

func (s *callService) SetQuality(q domain.MediaQuality) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	return sess.pipeline.SetQuality(q)
}

func (s *callService) SetRecording(enabled bool) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	return sess.pipeline.SetRecording(enabled)
}

// StartScreenShare acquires the content stream and negotiates it onto
// every live link.
func (s *callService) StartScreenShare(ctx context.Context) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	if err := sess.pipeline.StartScreenShare(ctx); err != nil {
		return err
	}
	if err := sess.registry.StartScreenShare(ctx); err != nil {
		s.logger.Errorw("failed to negotiate screen share", "error", err)
		_ = sess.pipeline.StopScreenShare()
		return err
	}
	if _, err := s.deps.Roster.BindTrack(s.deps.Local.AttendeeID, true, true); err != nil {
		s.logger.Warnw("failed to bind local content tile", "error", err)
	}
	return nil
}

func (s *callService) StopScreenShare(ctx context.Context) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	sess.registry.StopScreenShare(ctx)
	s.deps.Roster.UnbindTrack(s.deps.Local.AttendeeID, true)
	return sess.pipeline.StopScreenShare()
}

func (s *callService) SwitchCamera(ctx context.Context, deviceID string) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	return sess.pipeline.SwitchCamera(ctx, deviceID)
}

func (s *callService) SwitchMicrophone(ctx context.Context, deviceID string) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	return sess.pipeline.SwitchMicrophone(ctx, deviceID)
}

func (s *callService) StateChanged() *events.Emitter[ports.CallStateEvent] {
	return s.stateChanged
}

func (s *callService) session() (*activeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.call == nil {
		return nil, domain.ErrNoActiveCall
	}
	return s.call, nil
}
