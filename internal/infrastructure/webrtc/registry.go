package webrtc

import (
	"context"
	"sync"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	cerrors "voicemesh/pkg/errors"
	"voicemesh/pkg/events"
	"voicemesh/pkg/retry"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Config holds transport configuration shared by every link. LocalID is
// the local attendee, used to break ties when offers cross.
type Config struct {
	ICEServers         []webrtc.ICEServer
	NegotiationTimeout time.Duration
	LocalID            domain.AttendeeID
}

// Registry keeps one PeerLink per remote participant of the active call
// and fans their track and connectivity events out to the core.
type Registry struct {
	cfg      Config
	signal   ports.SignalingChannel
	pipeline ports.MediaPipeline
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	links   map[domain.AttendeeID]*PeerLink
	sharing bool

	trackAdded    *events.Emitter[ports.RemoteTrackEvent]
	trackRemoved  *events.Emitter[ports.RemoteTrackEvent]
	peerConnected *events.Emitter[domain.AttendeeID]
	peerFailed    *events.Emitter[ports.PeerFailedEvent]

	subs events.Group
}

// NewRegistry creates an empty registry and wires it to the pipeline's
// track gating events, so a local mute or device switch propagates to every
// live sender without renegotiation.
func NewRegistry(
	cfg Config,
	signal ports.SignalingChannel,
	pipeline ports.MediaPipeline,
	logger *zap.SugaredLogger,
) ports.PeerRegistry {
	r := &Registry{
		cfg:           cfg,
		signal:        signal,
		pipeline:      pipeline,
		logger:        logger,
		links:         make(map[domain.AttendeeID]*PeerLink),
		trackAdded:    events.NewEmitter[ports.RemoteTrackEvent](),
		trackRemoved:  events.NewEmitter[ports.RemoteTrackEvent](),
		peerConnected: events.NewEmitter[domain.AttendeeID](),
		peerFailed:    events.NewEmitter[ports.PeerFailedEvent](),
	}

	r.subs.Add(pipeline.TrackToggled().Subscribe(r.handleTrackToggle))
	r.subs.Add(pipeline.TrackReplaced().Subscribe(r.handleTrackReplace))
	return r
}

func (r *Registry) hooks() linkHooks {
	return linkHooks{
		onTrackAdded:   r.trackAdded.Emit,
		onTrackRemoved: r.trackRemoved.Emit,
		onConnected:    r.peerConnected.Emit,
		onFailed: func(attendee domain.AttendeeID, err error) {
			r.peerFailed.Emit(ports.PeerFailedEvent{AttendeeID: attendee, Err: err})
		},
	}
}

// AddPeer creates an initiator link for a newly observed participant. A
// second AddPeer for a known attendee is a no-op; joins can be observed
// both through the join event and the next roster snapshot.
func (r *Registry) AddPeer(ctx context.Context, attendeeID domain.AttendeeID) error {
	r.mu.Lock()
	if _, exists := r.links[attendeeID]; exists {
		r.mu.Unlock()
		return nil
	}
	link := newPeerLink(attendeeID, r.cfg, r.signal, r.pipeline, r.hooks(), r.logger)
	r.links[attendeeID] = link
	sharing := r.sharing
	r.mu.Unlock()

	r.logger.Infow("adding peer", "attendee_id", attendeeID)

	if err := retry.Do(ctx, retry.Once(), func() error {
		return link.Offer(ctx, false)
	}); err != nil {
		r.RemovePeer(attendeeID)
		return err
	}

	// A share in progress extends to late joiners.
	if sharing {
		if err := link.offerContent(ctx, r.pipeline.ScreenTracks(), false); err != nil {
			r.logger.Warnw("failed to offer content to new peer",
				"attendee_id", attendeeID,
				"error", err,
			)
		}
	}
	return nil
}

// HandleOffer answers an offer, creating a responder link when the sender
// is not known yet.
func (r *Registry) HandleOffer(ctx context.Context, from domain.AttendeeID, sdp webrtc.SessionDescription, content bool) error {
	r.mu.Lock()
	link, exists := r.links[from]
	if !exists {
		link = newPeerLink(from, r.cfg, r.signal, r.pipeline, r.hooks(), r.logger)
		r.links[from] = link
	}
	r.mu.Unlock()

	return link.HandleOffer(ctx, sdp, content)
}

func (r *Registry) HandleAnswer(ctx context.Context, from domain.AttendeeID, sdp webrtc.SessionDescription, content bool) error {
	link, exists := r.link(from)
	if !exists {
		return domain.ErrPeerNotFound
	}
	return link.HandleAnswer(ctx, sdp, content)
}

func (r *Registry) HandleCandidate(from domain.AttendeeID, candidate webrtc.ICECandidateInit, content bool) error {
	link, exists := r.link(from)
	if !exists {
		return domain.ErrPeerNotFound
	}
	return link.HandleCandidate(candidate, content)
}

// RemovePeer closes the link whatever its negotiation state.
func (r *Registry) RemovePeer(attendeeID domain.AttendeeID) {
	r.mu.Lock()
	link, exists := r.links[attendeeID]
	delete(r.links, attendeeID)
	r.mu.Unlock()

	if !exists {
		return
	}
	r.logger.Infow("removing peer", "attendee_id", attendeeID)
	link.Close()
}

// Reconcile drops every link whose attendee is absent from keep. Links for
// attendees in keep are left alone; missing ones are NOT created here, the
// roster layer decides who initiates.
func (r *Registry) Reconcile(keep map[domain.AttendeeID]struct{}) {
	r.mu.Lock()
	var stale []*PeerLink
	for id, link := range r.links {
		if _, ok := keep[id]; !ok {
			stale = append(stale, link)
			delete(r.links, id)
		}
	}
	r.mu.Unlock()

	for _, link := range stale {
		r.logger.Infow("reconcile dropping stale peer", "attendee_id", link.attendee)
		link.Close()
	}
}

// CloseAll tears every link down. Used on call end.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	links := r.links
	r.links = make(map[domain.AttendeeID]*PeerLink)
	r.sharing = false
	r.mu.Unlock()

	for _, link := range links {
		link.Close()
	}
	r.subs.Close()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}

func (r *Registry) Known(attendeeID domain.AttendeeID) bool {
	_, ok := r.link(attendeeID)
	return ok
}

// StartScreenShare offers the content stream to every live link.
func (r *Registry) StartScreenShare(ctx context.Context) error {
	tracks := r.pipeline.ScreenTracks()
	if len(tracks) == 0 {
		return cerrors.NewInternalError("no content tracks to share")
	}

	r.mu.Lock()
	r.sharing = true
	links := make([]*PeerLink, 0, len(r.links))
	for _, link := range r.links {
		links = append(links, link)
	}
	r.mu.Unlock()

	for _, link := range links {
		if err := link.offerContent(ctx, tracks, false); err != nil {
			r.logger.Warnw("failed to offer content",
				"attendee_id", link.attendee,
				"error", err,
			)
		}
	}
	return nil
}

// StopScreenShare closes every content leg. Camera/mic legs are untouched.
func (r *Registry) StopScreenShare(ctx context.Context) {
	r.mu.Lock()
	r.sharing = false
	links := make([]*PeerLink, 0, len(r.links))
	for _, link := range r.links {
		links = append(links, link)
	}
	r.mu.Unlock()

	for _, link := range links {
		link.closeContentLeg()
	}
}

// Samples returns one statistics sample per connected link.
func (r *Registry) Samples() []domain.NetworkSample {
	r.mu.RLock()
	links := make([]*PeerLink, 0, len(r.links))
	for _, link := range r.links {
		links = append(links, link)
	}
	r.mu.RUnlock()

	samples := make([]domain.NetworkSample, 0, len(links))
	for _, link := range links {
		if sample, ok := link.Sample(); ok {
			samples = append(samples, sample)
		}
	}
	return samples
}

// handleTrackToggle gates the local track of the given kind on every
// sender. Disabling replaces the sender track with nil, so the transceiver
// stays negotiated and re-enabling is instantaneous.
func (r *Registry) handleTrackToggle(ev ports.TrackToggleEvent) {
	var track webrtc.TrackLocal
	if ev.Enabled {
		for _, t := range r.pipeline.Tracks() {
			if t.Kind() == ev.Kind {
				track = t
				break
			}
		}
		if track == nil {
			return
		}
	}
	r.replaceAll(ev.Kind, track)
}

func (r *Registry) handleTrackReplace(ev ports.TrackReplaceEvent) {
	r.replaceAll(ev.Kind, ev.Track)
}

func (r *Registry) replaceAll(kind webrtc.RTPCodecType, track webrtc.TrackLocal) {
	r.mu.RLock()
	links := make([]*PeerLink, 0, len(r.links))
	for _, link := range r.links {
		links = append(links, link)
	}
	r.mu.RUnlock()

	for _, link := range links {
		if err := link.ReplaceSenderTrack(kind, track); err != nil {
			r.logger.Warnw("failed to replace sender track",
				"attendee_id", link.attendee,
				"kind", kind.String(),
				"error", err,
			)
		}
	}
}

func (r *Registry) link(attendeeID domain.AttendeeID) (*PeerLink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	link, ok := r.links[attendeeID]
	return link, ok
}

func (r *Registry) TrackAdded() *events.Emitter[ports.RemoteTrackEvent] { return r.trackAdded }
func (r *Registry) TrackRemoved() *events.Emitter[ports.RemoteTrackEvent] { return r.trackRemoved }
func (r *Registry) PeerConnected() *events.Emitter[domain.AttendeeID] { return r.peerConnected }
func (r *Registry) PeerFailed() *events.Emitter[ports.PeerFailedEvent] { return r.peerFailed }
