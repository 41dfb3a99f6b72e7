package webrtc

import (
	"context"
	"sync"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/events"

	"github.com/pion/webrtc/v4"
)

type sentDescription struct {
	to      domain.AttendeeID
	sdp     webrtc.SessionDescription
	content bool
}

type fakeSignal struct {
	mu      sync.Mutex
	offers  []sentDescription
	answers []sentDescription
	events  *ports.SignalingEvents
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{events: ports.NewSignalingEvents()}
}

func (f *fakeSignal) Connect(ctx context.Context) error { return nil }
func (f *fakeSignal) Close() error { return nil }
func (f *fakeSignal) Connected() bool { return true }

func (f *fakeSignal) JoinChannel(ctx context.Context, channelID domain.ChannelID) error {
	return nil
}

func (f *fakeSignal) LeaveChannel(ctx context.Context, channelID domain.ChannelID) error {
	return nil
}

func (f *fakeSignal) SendMediaState(ctx context.Context, state domain.MediaState) error {
	return nil
}

func (f *fakeSignal) SendOffer(ctx context.Context, to domain.AttendeeID, sdp webrtc.SessionDescription, content bool) error {
	f.mu.Lock()
	f.offers = append(f.offers, sentDescription{to: to, sdp: sdp, content: content})
	f.mu.Unlock()
	return nil
}

func (f *fakeSignal) SendAnswer(ctx context.Context, to domain.AttendeeID, sdp webrtc.SessionDescription, content bool) error {
	f.mu.Lock()
	f.answers = append(f.answers, sentDescription{to: to, sdp: sdp, content: content})
	f.mu.Unlock()
	return nil
}

func (f *fakeSignal) SendCandidate(ctx context.Context, to domain.AttendeeID, candidate webrtc.ICECandidateInit, content bool) error {
	return nil
}

func (f *fakeSignal) SendNetworkQuality(ctx context.Context, samples []domain.NetworkSample) error {
	return nil
}

func (f *fakeSignal) Events() *ports.SignalingEvents { return f.events }

func (f *fakeSignal) sentOffers() []sentDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentDescription(nil), f.offers...)
}

func (f *fakeSignal) sentAnswers() []sentDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentDescription(nil), f.answers...)
}

func (f *fakeSignal) offersTo(to domain.AttendeeID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.offers {
		if o.to == to {
			n++
		}
	}
	return n
}

type fakePipeline struct {
	mu     sync.Mutex
	state  domain.MediaState
	tracks []webrtc.TrackLocal
	screen []webrtc.TrackLocal

	stateChanged *events.Emitter[domain.MediaState]
	screenEnded  *events.Emitter[struct{}]
	toggled      *events.Emitter[ports.TrackToggleEvent]
	replaced     *events.Emitter[ports.TrackReplaceEvent]
}

func newFakePipeline(tracks ...webrtc.TrackLocal) *fakePipeline {
	return &fakePipeline{
		state:        domain.MediaState{Video: true, Quality: domain.QualityAuto},
		tracks:       tracks,
		stateChanged: events.NewEmitter[domain.MediaState](),
		screenEnded:  events.NewEmitter[struct{}](),
		toggled:      events.NewEmitter[ports.TrackToggleEvent](),
		replaced:     events.NewEmitter[ports.TrackReplaceEvent](),
	}
}

func (f *fakePipeline) Initialize(ctx context.Context) error { return nil }

func (f *fakePipeline) State() domain.MediaState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePipeline) setState(state domain.MediaState) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

func (f *fakePipeline) SetMuted(muted bool) error {
	f.mu.Lock()
	f.state.Muted = muted
	f.mu.Unlock()
	f.toggled.Emit(ports.TrackToggleEvent{Kind: webrtc.RTPCodecTypeAudio, Enabled: !muted})
	return nil
}

func (f *fakePipeline) SetVideoEnabled(enabled bool) error {
	f.mu.Lock()
	f.state.Video = enabled
	f.mu.Unlock()
	f.toggled.Emit(ports.TrackToggleEvent{Kind: webrtc.RTPCodecTypeVideo, Enabled: enabled})
	return nil
}

func (f *fakePipeline) SetQuality(q domain.MediaQuality) error { return nil }
func (f *fakePipeline) SetRecording(enabled bool) error { return nil }

func (f *fakePipeline) StartScreenShare(ctx context.Context) error { return nil }
func (f *fakePipeline) StopScreenShare() error { return nil }

func (f *fakePipeline) SwitchCamera(ctx context.Context, deviceID string) error { return nil }
func (f *fakePipeline) SwitchMicrophone(ctx context.Context, deviceID string) error { return nil }

func (f *fakePipeline) Tracks() []webrtc.TrackLocal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), f.tracks...)
}

func (f *fakePipeline) ScreenTracks() []webrtc.TrackLocal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), f.screen...)
}

func (f *fakePipeline) StateChanged() *events.Emitter[domain.MediaState] { return f.stateChanged }
func (f *fakePipeline) ScreenShareEnded() *events.Emitter[struct{}] { return f.screenEnded }
func (f *fakePipeline) TrackToggled() *events.Emitter[ports.TrackToggleEvent] { return f.toggled }
func (f *fakePipeline) TrackReplaced() *events.Emitter[ports.TrackReplaceEvent] { return f.replaced }

func (f *fakePipeline) Close() error { return nil }

var _ ports.SignalingChannel = (*fakeSignal)(nil)
var _ ports.MediaPipeline = (*fakePipeline)(nil)
