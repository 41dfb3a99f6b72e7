package services

import (
	"context"
	"sync"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/events"

	"github.com/pion/webrtc/v4"
)

type fakeSignal struct {
	mu        sync.Mutex
	connected bool
	joined    []domain.ChannelID
	left      []domain.ChannelID
	states    []domain.MediaState
	quality   [][]domain.NetworkSample
	events    *ports.SignalingEvents

	connectErr error
	joinErr    error
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{events: ports.NewSignalingEvents()}
}

func (f *fakeSignal) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSignal) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeSignal) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSignal) JoinChannel(ctx context.Context, channelID domain.ChannelID) error {
	if f.joinErr != nil {
		return f.joinErr
	}
	f.mu.Lock()
	f.joined = append(f.joined, channelID)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignal) LeaveChannel(ctx context.Context, channelID domain.ChannelID) error {
	f.mu.Lock()
	f.left = append(f.left, channelID)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignal) SendMediaState(ctx context.Context, state domain.MediaState) error {
	f.mu.Lock()
	f.states = append(f.states, state)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignal) SendOffer(ctx context.Context, to domain.AttendeeID, sdp webrtc.SessionDescription, content bool) error {
	return nil
}

func (f *fakeSignal) SendAnswer(ctx context.Context, to domain.AttendeeID, sdp webrtc.SessionDescription, content bool) error {
	return nil
}

func (f *fakeSignal) SendCandidate(ctx context.Context, to domain.AttendeeID, candidate webrtc.ICECandidateInit, content bool) error {
	return nil
}

func (f *fakeSignal) SendNetworkQuality(ctx context.Context, samples []domain.NetworkSample) error {
	f.mu.Lock()
	f.quality = append(f.quality, samples)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignal) Events() *ports.SignalingEvents { return f.events }

func (f *fakeSignal) joinedChannels() []domain.ChannelID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ChannelID(nil), f.joined...)
}

func (f *fakeSignal) leftChannels() []domain.ChannelID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ChannelID(nil), f.left...)
}

type fakePipeline struct {
	mu           sync.Mutex
	state        domain.MediaState
	initErr      error
	initGate     chan struct{}
	initialized  bool
	closed       bool
	shareStopped int

	stateChanged *events.Emitter[domain.MediaState]
	screenEnded  *events.Emitter[struct{}]
	toggled      *events.Emitter[ports.TrackToggleEvent]
	replaced     *events.Emitter[ports.TrackReplaceEvent]
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		state:        domain.MediaState{Quality: domain.QualityAuto},
		stateChanged: events.NewEmitter[domain.MediaState](),
		screenEnded:  events.NewEmitter[struct{}](),
		toggled:      events.NewEmitter[ports.TrackToggleEvent](),
		replaced:     events.NewEmitter[ports.TrackReplaceEvent](),
	}
}

func (f *fakePipeline) Initialize(ctx context.Context) error {
	if f.initGate != nil {
		select {
		case <-f.initGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.initErr != nil {
		return f.initErr
	}
	f.mu.Lock()
	f.initialized = true
	f.mu.Unlock()
	return nil
}

func (f *fakePipeline) State() domain.MediaState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePipeline) SetMuted(muted bool) error {
	f.mu.Lock()
	f.state.Muted = muted
	state := f.state
	f.mu.Unlock()
	f.stateChanged.Emit(state)
	return nil
}

func (f *fakePipeline) SetVideoEnabled(enabled bool) error {
	f.mu.Lock()
	f.state.Video = enabled
	state := f.state
	f.mu.Unlock()
	f.stateChanged.Emit(state)
	return nil
}

func (f *fakePipeline) SetQuality(q domain.MediaQuality) error {
	f.mu.Lock()
	f.state.Quality = q
	state := f.state
	f.mu.Unlock()
	f.stateChanged.Emit(state)
	return nil
}

func (f *fakePipeline) SetRecording(enabled bool) error {
	f.mu.Lock()
	f.state.Recording = enabled
	state := f.state
	f.mu.Unlock()
	f.stateChanged.Emit(state)
	return nil
}

func (f *fakePipeline) StartScreenShare(ctx context.Context) error {
	f.mu.Lock()
	if f.state.ScreenSharing {
		f.mu.Unlock()
		return domain.ErrScreenShareActive
	}
	f.state.ScreenSharing = true
	state := f.state
	f.mu.Unlock()
	f.stateChanged.Emit(state)
	return nil
}

func (f *fakePipeline) StopScreenShare() error {
	f.mu.Lock()
	f.state.ScreenSharing = false
	f.shareStopped++
	state := f.state
	f.mu.Unlock()
	f.stateChanged.Emit(state)
	return nil
}

func (f *fakePipeline) SwitchCamera(ctx context.Context, deviceID string) error { return nil }
func (f *fakePipeline) SwitchMicrophone(ctx context.Context, deviceID string) error { return nil }

func (f *fakePipeline) Tracks() []webrtc.TrackLocal { return nil }
func (f *fakePipeline) ScreenTracks() []webrtc.TrackLocal { return nil }

func (f *fakePipeline) StateChanged() *events.Emitter[domain.MediaState] { return f.stateChanged }
func (f *fakePipeline) ScreenShareEnded() *events.Emitter[struct{}]             { return f.screenEnded }
func (f *fakePipeline) TrackToggled() *events.Emitter[ports.TrackToggleEvent] { return f.toggled }
func (f *fakePipeline) TrackReplaced() *events.Emitter[ports.TrackReplaceEvent] { return f.replaced }

func (f *fakePipeline) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakePipeline) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeRegistry struct {
	mu         sync.Mutex
	peers      map[domain.AttendeeID]struct{}
	added      []domain.AttendeeID
	removed    []domain.AttendeeID
	reconciled []map[domain.AttendeeID]struct{}
	closedAll  bool
	shareStart int
	shareStop  int
	samples    []domain.NetworkSample

	trackAdded    *events.Emitter[ports.RemoteTrackEvent]
	trackRemoved  *events.Emitter[ports.RemoteTrackEvent]
	peerConnected *events.Emitter[domain.AttendeeID]
	peerFailed    *events.Emitter[ports.PeerFailedEvent]
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		peers:         make(map[domain.AttendeeID]struct{}),
		trackAdded:    events.NewEmitter[ports.RemoteTrackEvent](),
		trackRemoved:  events.NewEmitter[ports.RemoteTrackEvent](),
		peerConnected: events.NewEmitter[domain.AttendeeID](),
		peerFailed:    events.NewEmitter[ports.PeerFailedEvent](),
	}
}

func (f *fakeRegistry) AddPeer(ctx context.Context, attendeeID domain.AttendeeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.peers[attendeeID]; ok {
		return nil
	}
	f.peers[attendeeID] = struct{}{}
	f.added = append(f.added, attendeeID)
	return nil
}

func (f *fakeRegistry) HandleOffer(ctx context.Context, from domain.AttendeeID, sdp webrtc.SessionDescription, content bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[from] = struct{}{}
	return nil
}

func (f *fakeRegistry) HandleAnswer(ctx context.Context, from domain.AttendeeID, sdp webrtc.SessionDescription, content bool) error {
	return nil
}

func (f *fakeRegistry) HandleCandidate(from domain.AttendeeID, candidate webrtc.ICECandidateInit, content bool) error {
	return nil
}

func (f *fakeRegistry) RemovePeer(attendeeID domain.AttendeeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.peers, attendeeID)
	f.removed = append(f.removed, attendeeID)
}

func (f *fakeRegistry) Reconcile(keep map[domain.AttendeeID]struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.peers {
		if _, ok := keep[id]; !ok {
			delete(f.peers, id)
		}
	}
	f.reconciled = append(f.reconciled, keep)
}

func (f *fakeRegistry) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedAll = true
	f.peers = make(map[domain.AttendeeID]struct{})
}

func (f *fakeRegistry) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakeRegistry) Known(attendeeID domain.AttendeeID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.peers[attendeeID]
	return ok
}

func (f *fakeRegistry) StartScreenShare(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shareStart++
	return nil
}

func (f *fakeRegistry) StopScreenShare(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shareStop++
}

func (f *fakeRegistry) Samples() []domain.NetworkSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.samples
}

func (f *fakeRegistry) TrackAdded() *events.Emitter[ports.RemoteTrackEvent] { return f.trackAdded }
func (f *fakeRegistry) TrackRemoved() *events.Emitter[ports.RemoteTrackEvent] { return f.trackRemoved }
func (f *fakeRegistry) PeerConnected() *events.Emitter[domain.AttendeeID] { return f.peerConnected }
func (f *fakeRegistry) PeerFailed() *events.Emitter[ports.PeerFailedEvent] { return f.peerFailed }

func (f *fakeRegistry) addedPeers() []domain.AttendeeID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AttendeeID(nil), f.added...)
}

func (f *fakeRegistry) shareCounts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shareStart, f.shareStop
}

type fakeCall struct {
	mu        sync.Mutex
	started   []domain.ChannelID
	inChannel map[domain.ChannelID]bool
	startErr  error

	stateChanged *events.Emitter[ports.CallStateEvent]
}

func newFakeCall() *fakeCall {
	return &fakeCall{
		inChannel:    make(map[domain.ChannelID]bool),
		stateChanged: events.NewEmitter[ports.CallStateEvent](),
	}
}

func (f *fakeCall) StartCall(ctx context.Context, channelID domain.ChannelID, serverID domain.ServerID, channelName string, callType domain.CallType) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = append(f.started, channelID)
	f.mu.Unlock()
	return nil
}

func (f *fakeCall) EndCall(ctx context.Context) error { return nil }
func (f *fakeCall) MinimizeCall() {}
func (f *fakeCall) MaximizeCall() {}

func (f *fakeCall) IsInChannel(channelID domain.ChannelID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inChannel[channelID]
}

func (f *fakeCall) Active() (domain.ActiveCall, bool) { return domain.ActiveCall{}, false }

func (f *fakeCall) SetMuted(bool) error { return nil }
func (f *fakeCall) SetVideoEnabled(bool) error { return nil }
func (f *fakeCall) SetQuality(domain.MediaQuality) error { return nil }
func (f *fakeCall) SetRecording(bool) error { return nil }
func (f *fakeCall) StartScreenShare(context.Context) error { return nil }
func (f *fakeCall) StopScreenShare(context.Context) error { return nil }
func (f *fakeCall) SwitchCamera(context.Context, string) error { return nil }
func (f *fakeCall) SwitchMicrophone(context.Context, string) error { return nil }

func (f *fakeCall) StateChanged() *events.Emitter[ports.CallStateEvent] { return f.stateChanged }

func (f *fakeCall) startedChannels() []domain.ChannelID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ChannelID(nil), f.started...)
}

var _ ports.SignalingChannel = (*fakeSignal)(nil)
var _ ports.MediaPipeline = (*fakePipeline)(nil)
var _ ports.PeerRegistry = (*fakeRegistry)(nil)
var _ ports.CallService = (*fakeCall)(nil)
