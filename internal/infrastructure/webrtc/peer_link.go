package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	cerrors "voicemesh/pkg/errors"
	"voicemesh/pkg/tracing"

	"github.com/looplab/fsm"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Negotiation states of a single leg.
const (
	stateIdle      = "idle"
	stateOffering  = "offering"
	stateAnswering = "answering"
	stateConnected = "connected"
	stateFailed    = "failed"
	stateClosed    = "closed"
)

// Negotiation events.
const (
	evOffer     = "offer"
	evAccept    = "accept"
	evAnswer    = "answer"
	evEstablish = "establish"
	evFail      = "fail"
	evClose     = "close"
)

func newNegotiationFSM() *fsm.FSM {
	return fsm.NewFSM(stateIdle, fsm.Events{
		{Name: evOffer, Src: []string{stateIdle}, Dst: stateOffering},
		{Name: evAccept, Src: []string{stateIdle}, Dst: stateAnswering},
		{Name: evAnswer, Src: []string{stateOffering}, Dst: stateConnected},
		{Name: evEstablish, Src: []string{stateAnswering}, Dst: stateConnected},
		{Name: evFail, Src: []string{stateOffering, stateAnswering, stateConnected}, Dst: stateFailed},
		{Name: evClose, Src: []string{stateIdle, stateOffering, stateAnswering, stateConnected, stateFailed}, Dst: stateClosed},
	}, fsm.Callbacks{})
}

// leg is one peer connection of a link: the camera/mic connection, or the
// separately negotiated screen share connection.
type leg struct {
	content bool
	pc      *webrtc.PeerConnection
	fsm     *fsm.FSM

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	senders   map[webrtc.RTPCodecType]*webrtc.RTPSender
	remote    []ports.RemoteTrackEvent
	retried   bool
	closed    bool
}

// setRemoteDescription applies sdp and flushes every ICE candidate that
// arrived before it. Candidates cannot be added until the remote
// description is known.
func (l *leg) setRemoteDescription(sdp webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}

	l.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

// addCandidate buffers the candidate until the remote description is set.
func (l *leg) addCandidate(candidate webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if !l.remoteSet {
		l.pending = append(l.pending, candidate)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.pc.AddICECandidate(candidate)
}

func (l *leg) addTracks(tracks []webrtc.TrackLocal, drain func(*webrtc.RTPSender)) error {
	for _, track := range tracks {
		sender, err := l.pc.AddTrack(track)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.senders[track.Kind()] = sender
		l.mu.Unlock()
		if drain != nil {
			go drain(sender)
		}
	}
	return nil
}

func (l *leg) sender(kind webrtc.RTPCodecType) (*webrtc.RTPSender, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.senders[kind]
	return s, ok
}

// close tears the leg down and reports the remote tracks that were flowing
// through it, so the caller can emit removals.
func (l *leg) close() []ports.RemoteTrackEvent {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	remote := l.remote
	l.remote = nil
	l.mu.Unlock()

	_ = l.fsm.Event(context.Background(), evClose)
	if l.pc != nil {
		l.pc.Close()
	}
	return remote
}

// linkHooks are the registry callbacks a link reports into.
type linkHooks struct {
	onTrackAdded   func(ports.RemoteTrackEvent)
	onTrackRemoved func(ports.RemoteTrackEvent)
	onConnected    func(domain.AttendeeID)
	onFailed       func(domain.AttendeeID, error)
}

// PeerLink is the full-mesh connection to one remote participant. It owns
// up to two legs: the mandatory camera/mic leg and, while either side
// shares a screen, a content leg.
type PeerLink struct {
	attendee domain.AttendeeID
	cfg      Config
	signal   ports.SignalingChannel
	pipeline ports.MediaPipeline
	hooks    linkHooks
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	main    *leg
	content *leg
	stopped bool
}

func newPeerLink(
	attendee domain.AttendeeID,
	cfg Config,
	signal ports.SignalingChannel,
	pipeline ports.MediaPipeline,
	hooks linkHooks,
	logger *zap.SugaredLogger,
) *PeerLink {
	return &PeerLink{
		attendee: attendee,
		cfg:      cfg,
		signal:   signal,
		pipeline: pipeline,
		hooks:    hooks,
		logger:   logger,
	}
}

// newLeg builds a peer connection with the link's handlers wired.
func (p *PeerLink) newLeg(content bool) (*leg, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: p.cfg.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	l := &leg{
		content: content,
		pc:      pc,
		fsm:     newNegotiationFSM(),
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.signal.SendCandidate(ctx, p.attendee, c.ToJSON(), content); err != nil {
			p.logger.Warnw("failed to send ICE candidate",
				"attendee_id", p.attendee,
				"content", content,
				"error", err,
			)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		ev := ports.RemoteTrackEvent{
			AttendeeID: p.attendee,
			TrackID:    track.ID(),
			Kind:       track.Kind(),
			Content:    content,
		}
		l.mu.Lock()
		l.remote = append(l.remote, ev)
		l.mu.Unlock()

		p.logger.Infow("remote track started",
			"attendee_id", p.attendee,
			"track_id", track.ID(),
			"kind", track.Kind().String(),
			"content", content,
		)
		p.hooks.onTrackAdded(ev)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.handleConnectionState(l, state)
	})

	return l, nil
}

func (p *PeerLink) handleConnectionState(l *leg, state webrtc.PeerConnectionState) {
	p.logger.Infow("peer connection state changed",
		"attendee_id", p.attendee,
		"content", l.content,
		"state", state.String(),
	)

	switch state {
	case webrtc.PeerConnectionStateConnected:
		if !l.content {
			p.hooks.onConnected(p.attendee)
		}
	case webrtc.PeerConnectionStateFailed:
		p.failLeg(l, cerrors.NewNegotiationError(string(p.attendee), "peer connection failed"))
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
		if l.content {
			// The remote side stopped sharing. Drop the content leg and
			// surface the track removals.
			p.closeContentLeg()
		}
	}
}

// failLeg handles a negotiation or transport failure. The first failure of
// a leg tears it down and renegotiates from scratch once; the second is
// terminal and reported through onFailed.
func (p *PeerLink) failLeg(l *leg, cause error) {
	_ = l.fsm.Event(context.Background(), evFail)

	l.mu.Lock()
	alreadyRetried := l.retried
	l.retried = true
	l.mu.Unlock()

	p.mu.Lock()
	stopped := p.stopped
	content := l.content
	p.mu.Unlock()
	if stopped {
		return
	}

	if alreadyRetried {
		p.logger.Errorw("negotiation retry exhausted",
			"attendee_id", p.attendee,
			"content", content,
			"error", cause,
		)
		if !content {
			p.hooks.onFailed(p.attendee, fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, cause))
		}
		return
	}

	p.logger.Warnw("negotiation failed, retrying once",
		"attendee_id", p.attendee,
		"content", content,
		"error", cause,
	)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.NegotiationTimeout)
		defer cancel()

		var err error
		if content {
			err = p.offerContent(ctx, p.pipeline.ScreenTracks(), true)
		} else {
			err = p.Offer(ctx, true)
		}
		if err != nil && !content {
			p.hooks.onFailed(p.attendee, fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err))
		}
	}()
}

// drainRTCP returns the read loop for a sender's feedback channel. Reading
// is mandatory for the interceptor chain to process reports; keyframe
// requests are surfaced at debug level.
func (p *PeerLink) drainRTCP(l *leg) func(*webrtc.RTPSender) {
	content := l.content
	return func(sender *webrtc.RTPSender) {
		buf := make([]byte, 1500)
		for {
			n, _, err := sender.Read(buf)
			if err != nil {
				return
			}
			pkts, err := rtcp.Unmarshal(buf[:n])
			if err != nil {
				continue
			}
			for _, pkt := range pkts {
				if _, ok := pkt.(*rtcp.PictureLossIndication); ok {
					p.logger.Debugw("keyframe requested by peer",
						"attendee_id", p.attendee,
						"content", content,
					)
				}
			}
		}
	}
}

// attachLocalTracks adds the camera/mic tracks to the leg and immediately
// gates the kinds the local media state has disabled. The transceivers are
// still negotiated, so a muted participant sends nothing to a late joiner
// yet unmuting later needs no renegotiation.
func (p *PeerLink) attachLocalTracks(l *leg) error {
	if err := l.addTracks(p.pipeline.Tracks(), p.drainRTCP(l)); err != nil {
		return err
	}
	state := p.pipeline.State()
	if state.Muted {
		if err := p.gateLegSender(l, webrtc.RTPCodecTypeAudio); err != nil {
			return err
		}
	}
	if !state.Video {
		if err := p.gateLegSender(l, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	return nil
}

func (p *PeerLink) gateLegSender(l *leg, kind webrtc.RTPCodecType) error {
	sender, ok := l.sender(kind)
	if !ok {
		return nil
	}
	return sender.ReplaceTrack(nil)
}

// Offer starts (or restarts) negotiation of the camera/mic leg as the
// initiating side.
func (p *PeerLink) Offer(ctx context.Context, carryRetry bool) error {
	ctx, span := tracing.TraceNegotiation(ctx, "offer", string(p.attendee), false)
	defer span.End()

	l, err := p.resetLeg(false, carryRetry)
	if err != nil {
		return err
	}
	if err := p.attachLocalTracks(l); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeNegotiation, "failed to attach local tracks")
	}
	return p.sendOffer(ctx, l)
}

func (p *PeerLink) sendOffer(ctx context.Context, l *leg) error {
	if err := l.fsm.Event(ctx, evOffer); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeNegotiation, "invalid negotiation state for offer")
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeNegotiation, "failed to create offer")
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeNegotiation, "failed to set local description")
	}
	if err := p.signal.SendOffer(ctx, p.attendee, offer, l.content); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeSignaling, "failed to send offer")
	}

	p.armNegotiationTimeout(l)
	return nil
}

// armNegotiationTimeout fails the leg if no answer lands within the
// configured window.
func (p *PeerLink) armNegotiationTimeout(l *leg) {
	timeout := p.cfg.NegotiationTimeout
	if timeout <= 0 {
		return
	}
	time.AfterFunc(timeout, func() {
		if l.fsm.Current() == stateOffering {
			p.failLeg(l, cerrors.NewNegotiationError(string(p.attendee), "negotiation timed out"))
		}
	})
}

// HandleOffer answers an incoming offer as the responding side.
func (p *PeerLink) HandleOffer(ctx context.Context, sdp webrtc.SessionDescription, content bool) error {
	ctx, span := tracing.TraceNegotiation(ctx, "answer", string(p.attendee), content)
	defer span.End()

	// Crossed offers on the camera/mic leg: exactly one offer must survive,
	// or both sides destroy the connection the other is answering. The
	// higher attendee id keeps its own offer and waits for the peer to
	// yield; the lower id abandons its offer and answers.
	if !content && p.cfg.LocalID > p.attendee {
		if cur := p.leg(false); cur != nil && cur.fsm.Current() == stateOffering {
			p.logger.Infow("ignoring crossed offer, local offer stands",
				"attendee_id", p.attendee,
			)
			return nil
		}
	}

	l, err := p.resetLeg(content, false)
	if err != nil {
		return err
	}
	if err := l.fsm.Event(ctx, evAccept); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeNegotiation, "invalid negotiation state for offer")
	}
	if err := l.setRemoteDescription(sdp); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeNegotiation, "failed to set remote description")
	}

	// The camera/mic leg is bidirectional; a content leg only receives.
	if !content {
		if err := p.attachLocalTracks(l); err != nil {
			return cerrors.Wrap(err, cerrors.ErrCodeNegotiation, "failed to attach local tracks")
		}
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeNegotiation, "failed to create answer")
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeNegotiation, "failed to set local description")
	}
	if err := p.signal.SendAnswer(ctx, p.attendee, answer, content); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeSignaling, "failed to send answer")
	}
	return l.fsm.Event(ctx, evEstablish)
}

// HandleAnswer completes negotiation on the initiating side.
func (p *PeerLink) HandleAnswer(ctx context.Context, sdp webrtc.SessionDescription, content bool) error {
	l := p.leg(content)
	if l == nil {
		return domain.ErrPeerNotFound
	}
	if err := l.setRemoteDescription(sdp); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeNegotiation, "failed to set remote description")
	}
	return l.fsm.Event(ctx, evAnswer)
}

// HandleCandidate feeds a remote ICE candidate to the right leg, buffering
// it when the leg is not ready.
func (p *PeerLink) HandleCandidate(candidate webrtc.ICECandidateInit, content bool) error {
	l := p.leg(content)
	if l == nil {
		return domain.ErrPeerNotFound
	}
	return l.addCandidate(candidate)
}

// offerContent negotiates the screen share leg towards this peer.
func (p *PeerLink) offerContent(ctx context.Context, tracks []webrtc.TrackLocal, carryRetry bool) error {
	ctx, span := tracing.TraceNegotiation(ctx, "offer", string(p.attendee), true)
	defer span.End()

	l, err := p.resetLeg(true, carryRetry)
	if err != nil {
		return err
	}
	if err := l.addTracks(tracks, p.drainRTCP(l)); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeNegotiation, "failed to attach content tracks")
	}
	return p.sendOffer(ctx, l)
}

// closeContentLeg drops only the content leg, leaving camera/mic intact.
func (p *PeerLink) closeContentLeg() {
	p.mu.Lock()
	l := p.content
	p.content = nil
	p.mu.Unlock()

	if l == nil {
		return
	}
	for _, ev := range l.close() {
		p.hooks.onTrackRemoved(ev)
	}
}

// ReplaceSenderTrack swaps (or gates, with a nil track) the outgoing track
// of the given kind on every leg carrying it. No renegotiation happens.
func (p *PeerLink) ReplaceSenderTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	l := p.leg(false)
	if l == nil {
		return domain.ErrPeerNotFound
	}
	sender, ok := l.sender(kind)
	if !ok {
		return nil
	}
	return sender.ReplaceTrack(track)
}

// Sample reads the statistics of the camera/mic leg.
func (p *PeerLink) Sample() (domain.NetworkSample, bool) {
	l := p.leg(false)
	if l == nil || l.fsm.Current() != stateConnected {
		return domain.NetworkSample{}, false
	}
	return buildSample(p.attendee, l.pc.GetStats()), true
}

// Connected reports whether the camera/mic leg finished negotiating.
func (p *PeerLink) Connected() bool {
	l := p.leg(false)
	return l != nil && l.fsm.Current() == stateConnected
}

// Close tears down both legs.
func (p *PeerLink) Close() {
	p.mu.Lock()
	p.stopped = true
	main, content := p.main, p.content
	p.main, p.content = nil, nil
	p.mu.Unlock()

	for _, l := range []*leg{content, main} {
		if l == nil {
			continue
		}
		for _, ev := range l.close() {
			p.hooks.onTrackRemoved(ev)
		}
	}
}

func (p *PeerLink) leg(content bool) *leg {
	p.mu.Lock()
	defer p.mu.Unlock()
	if content {
		return p.content
	}
	return p.main
}

// resetLeg replaces the selected leg with a fresh one, closing any
// previous instance. carryRetry keeps the retried flag, so a renegotiation
// attempt cannot grant itself another retry.
func (p *PeerLink) resetLeg(content, carryRetry bool) (*leg, error) {
	l, err := p.newLeg(content)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrCodeNegotiation, "failed to create peer connection")
	}
	l.retried = carryRetry

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		l.close()
		return nil, domain.ErrPeerNotFound
	}
	var old *leg
	if content {
		old, p.content = p.content, l
	} else {
		old, p.main = p.main, l
	}
	p.mu.Unlock()

	if old != nil {
		for _, ev := range old.close() {
			p.hooks.onTrackRemoved(ev)
		}
	}
	return l, nil
}
