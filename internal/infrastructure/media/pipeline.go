package media

import (
	"context"
	"fmt"
	"sync"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	cerrors "voicemesh/pkg/errors"
	"voicemesh/pkg/events"
	"voicemesh/pkg/validation"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	_ "github.com/pion/mediadevices/pkg/driver/camera"     // register camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // register microphone driver
	_ "github.com/pion/mediadevices/pkg/driver/screen"     // register screen driver
)

var _ ports.MediaPipeline = (*Pipeline)(nil)

// Config holds capture configuration.
type Config struct {
	VideoWidth         int
	VideoHeight        int
	FrameRate          int
	VideoBitrate       int // kbps
	AudioBitrate       int // kbps
	DefaultQuality     domain.MediaQuality
	CameraDeviceID     string
	MicrophoneDeviceID string
}

// Pipeline owns local capture devices and the local media state. Camera and
// microphone share one stream; screen share gets its own stream per session
// because its lifecycle is user-gesture gated and can end from outside.
type Pipeline struct {
	cfg      Config
	logger   *zap.SugaredLogger
	recorder ports.Recorder

	codecSelector *mediadevices.CodecSelector

	mu           sync.RWMutex
	stream       mediadevices.MediaStream
	screenStream mediadevices.MediaStream
	state        domain.MediaState
	initialized  bool

	stateChanged     *events.Emitter[domain.MediaState]
	screenShareEnded *events.Emitter[struct{}]
	trackToggled     *events.Emitter[ports.TrackToggleEvent]
	trackReplaced    *events.Emitter[ports.TrackReplaceEvent]
}

func NewPipeline(cfg Config, recorder ports.Recorder, logger *zap.SugaredLogger) *Pipeline {
	if cfg.DefaultQuality == "" {
		cfg.DefaultQuality = domain.QualityAuto
	}
	return &Pipeline{
		cfg:              cfg,
		logger:           logger,
		recorder:         recorder,
		stateChanged:     events.NewEmitter[domain.MediaState](),
		screenShareEnded: events.NewEmitter[struct{}](),
		trackToggled:     events.NewEmitter[ports.TrackToggleEvent](),
		trackReplaced:    events.NewEmitter[ports.TrackReplaceEvent](),
	}
}

// Initialize builds the codec selector and runs the acquisition cascade.
// A partial acquisition (audio-only or video-only) is a success; only a
// full miss surfaces a classified permission error.
func (p *Pipeline) Initialize(ctx context.Context) error {
	selector, err := p.buildCodecSelector()
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeInternal, "failed to configure codecs")
	}
	p.codecSelector = selector

	result, err := runCascade(ctx, p.defaultStrategies())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stream = result.Stream
	p.initialized = true
	p.state = domain.MediaState{
		Muted:   result.Kind == AcquireVideoOnly,
		Video:   result.Kind != AcquireAudioOnly,
		Quality: p.cfg.DefaultQuality,
	}

	p.logger.Infow("media pipeline initialized",
		"acquired", result.Kind,
		"tracks", len(result.Stream.GetTracks()),
	)

	p.emitStateLocked()
	return nil
}

func (p *Pipeline) buildCodecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 params: %w", err)
	}
	vpxParams.BitRate = p.cfg.VideoBitrate * 1000
	vpxParams.KeyFrameInterval = 15
	vpxParams.RateControlEndUsage = vpx.RateControlVBR

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus params: %w", err)
	}
	opusParams.BitRate = p.cfg.AudioBitrate * 1000
	opusParams.Latency = opus.Latency20ms

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

func (p *Pipeline) State() domain.MediaState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SetMuted gates the audio track. Capture keeps running so unmuting is
// instantaneous and needs no renegotiation.
func (p *Pipeline) SetMuted(muted bool) error {
	p.mu.Lock()
	if p.state.Muted == muted {
		p.mu.Unlock()
		return nil
	}
	p.state.Muted = muted
	p.emitStateLocked()
	p.mu.Unlock()

	p.trackToggled.Emit(ports.TrackToggleEvent{Kind: webrtc.RTPCodecTypeAudio, Enabled: !muted})
	return nil
}

// SetVideoEnabled gates the camera track, same semantics as SetMuted.
func (p *Pipeline) SetVideoEnabled(enabled bool) error {
	p.mu.Lock()
	if p.state.Video == enabled {
		p.mu.Unlock()
		return nil
	}
	p.state.Video = enabled
	p.emitStateLocked()
	p.mu.Unlock()

	p.trackToggled.Emit(ports.TrackToggleEvent{Kind: webrtc.RTPCodecTypeVideo, Enabled: enabled})
	return nil
}

func (p *Pipeline) SetQuality(q domain.MediaQuality) error {
	if err := validation.ValidateQuality(string(q)); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Quality = q
	p.emitStateLocked()
	return nil
}

func (p *Pipeline) SetRecording(enabled bool) error {
	p.mu.Lock()
	if p.state.Recording == enabled {
		p.mu.Unlock()
		return nil
	}
	p.state.Recording = enabled
	tracks := p.tracksLocked()
	p.emitStateLocked()
	p.mu.Unlock()

	if p.recorder == nil {
		return nil
	}
	if enabled {
		return p.recorder.Start(context.Background(), tracks)
	}
	return p.recorder.Stop()
}

// StartScreenShare acquires a separate content stream. The capture can end
// from outside (the user stops sharing from the browser chrome); that is
// surfaced through ScreenShareEnded, never as an error.
func (p *Pipeline) StartScreenShare(ctx context.Context) error {
	p.mu.Lock()
	if p.state.ScreenSharing {
		p.mu.Unlock()
		return domain.ErrScreenShareActive
	}
	p.mu.Unlock()

	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: p.screenConstraints,
		Codec: p.codecSelector,
	})
	if err != nil {
		return classifyAcquireError(err)
	}

	for _, track := range stream.GetTracks() {
		track.OnEnded(func(error) {
			p.logger.Infow("screen capture ended by the system")
			p.handleScreenEnded()
		})
	}

	p.mu.Lock()
	p.screenStream = stream
	p.state.ScreenSharing = true
	p.emitStateLocked()
	p.mu.Unlock()
	return nil
}

// StopScreenShare releases the content stream. Calling it with no active
// share is a no-op.
func (p *Pipeline) StopScreenShare() error {
	p.mu.Lock()
	stream := p.screenStream
	p.screenStream = nil
	wasSharing := p.state.ScreenSharing
	p.state.ScreenSharing = false
	if wasSharing {
		p.emitStateLocked()
	}
	p.mu.Unlock()

	if stream != nil {
		for _, track := range stream.GetTracks() {
			track.Close()
		}
	}
	return nil
}

// handleScreenEnded is the implicit-stop path: same cleanup as an explicit
// stop, plus a notification so peers drop the content legs.
func (p *Pipeline) handleScreenEnded() {
	p.mu.Lock()
	if !p.state.ScreenSharing {
		p.mu.Unlock()
		return
	}
	p.screenStream = nil
	p.state.ScreenSharing = false
	p.emitStateLocked()
	p.mu.Unlock()

	p.screenShareEnded.Emit(struct{}{})
}

// SwitchCamera replaces the camera track in place on every live sender, so
// the switch causes no visible interruption and no renegotiation.
func (p *Pipeline) SwitchCamera(ctx context.Context, deviceID string) error {
	return p.switchDevice(ctx, webrtc.RTPCodecTypeVideo, deviceID)
}

// SwitchMicrophone replaces the microphone track in place.
func (p *Pipeline) SwitchMicrophone(ctx context.Context, deviceID string) error {
	return p.switchDevice(ctx, webrtc.RTPCodecTypeAudio, deviceID)
}

func (p *Pipeline) switchDevice(ctx context.Context, kind webrtc.RTPCodecType, deviceID string) error {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return cerrors.NewInternalError("media pipeline not initialized")
	}
	if kind == webrtc.RTPCodecTypeVideo {
		p.cfg.CameraDeviceID = deviceID
	} else {
		p.cfg.MicrophoneDeviceID = deviceID
	}
	p.mu.Unlock()

	constraints := mediadevices.MediaStreamConstraints{Codec: p.codecSelector}
	if kind == webrtc.RTPCodecTypeVideo {
		constraints.Video = p.videoConstraints
	} else {
		constraints.Audio = p.audioConstraints
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return classifyAcquireError(err)
	}
	tracks := stream.GetTracks()
	if len(tracks) == 0 {
		return cerrors.NewDeviceNotFound("device produced no track")
	}
	newTrack := tracks[0]

	p.mu.Lock()
	// Close and drop the old track of the same kind, then adopt the new one.
	if p.stream != nil {
		for _, old := range p.stream.GetTracks() {
			if old.Kind() == newTrack.Kind() {
				p.stream.RemoveTrack(old)
				old.Close()
			}
		}
		p.stream.AddTrack(newTrack)
	}
	p.mu.Unlock()

	p.trackReplaced.Emit(ports.TrackReplaceEvent{Kind: kind, Track: newTrack})
	p.logger.Infow("capture device switched", "kind", kind.String(), "device_id", deviceID)
	return nil
}

func (p *Pipeline) Tracks() []webrtc.TrackLocal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tracksLocked()
}

func (p *Pipeline) tracksLocked() []webrtc.TrackLocal {
	if p.stream == nil {
		return nil
	}
	out := make([]webrtc.TrackLocal, 0, 2)
	for _, t := range p.stream.GetTracks() {
		out = append(out, t)
	}
	return out
}

func (p *Pipeline) ScreenTracks() []webrtc.TrackLocal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.screenStream == nil {
		return nil
	}
	out := make([]webrtc.TrackLocal, 0, 1)
	for _, t := range p.screenStream.GetTracks() {
		out = append(out, t)
	}
	return out
}

func (p *Pipeline) StateChanged() *events.Emitter[domain.MediaState] {
	return p.stateChanged
}

func (p *Pipeline) ScreenShareEnded() *events.Emitter[struct{}] {
	return p.screenShareEnded
}

func (p *Pipeline) TrackToggled() *events.Emitter[ports.TrackToggleEvent] {
	return p.trackToggled
}

func (p *Pipeline) TrackReplaced() *events.Emitter[ports.TrackReplaceEvent] {
	return p.trackReplaced
}

// Close stops every capture stream.
func (p *Pipeline) Close() error {
	p.StopScreenShare()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		for _, track := range p.stream.GetTracks() {
			track.Close()
		}
		p.stream = nil
	}
	p.initialized = false
	p.state = domain.MediaState{Quality: p.cfg.DefaultQuality}
	return nil
}

// emitStateLocked snapshots state under the lock; the emitter itself runs
// callbacks outside any pipeline invariants.
func (p *Pipeline) emitStateLocked() {
	state := p.state
	go p.stateChanged.Emit(state)
}
