package media

import (
	"context"
	"strings"
	"time"

	cerrors "voicemesh/pkg/errors"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
)

// AcquireKind says which devices a strategy asks for.
type AcquireKind string

const (
	AcquireAudioVideo AcquireKind = "audio+video"
	AcquireAudioOnly  AcquireKind = "audio"
	AcquireVideoOnly  AcquireKind = "video"
)

// AcquireResult is the outcome of one acquisition attempt.
type AcquireResult struct {
	Kind   AcquireKind
	Stream mediadevices.MediaStream
}

// acquireFunc performs one device acquisition attempt.
type acquireFunc func(ctx context.Context) (mediadevices.MediaStream, error)

// Strategy is one entry of the ordered fallback cascade.
type Strategy struct {
	Kind    AcquireKind
	Acquire acquireFunc
}

// runCascade tries each strategy in order and returns the first success.
// When every strategy fails, the error of the first (most capable) attempt
// is classified and returned, since it names the device the caller most
// likely cares about.
func runCascade(ctx context.Context, strategies []Strategy) (AcquireResult, error) {
	var firstErr error

	for _, s := range strategies {
		if ctx.Err() != nil {
			return AcquireResult{}, ctx.Err()
		}
		stream, err := s.Acquire(ctx)
		if err == nil {
			return AcquireResult{Kind: s.Kind, Stream: stream}, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	if firstErr == nil {
		return AcquireResult{}, cerrors.NewDeviceNotFound("no acquisition strategy configured")
	}
	return AcquireResult{}, classifyAcquireError(firstErr)
}

// classifyAcquireError maps heterogeneous driver failures onto the
// permission error taxonomy so callers can render an actionable prompt.
func classifyAcquireError(err error) *cerrors.CallError {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "not allowed"):
		return cerrors.Wrap(err, cerrors.ErrCodePermissionDenied, "device access denied")
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no such") || strings.Contains(msg, "no device"):
		return cerrors.Wrap(err, cerrors.ErrCodeDeviceNotFound, "no capture device available")
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in use") || strings.Contains(msg, "already"):
		return cerrors.Wrap(err, cerrors.ErrCodeDeviceBusy, "capture device is in use")
	case strings.Contains(msg, "constraint") || strings.Contains(msg, "unsupported") || strings.Contains(msg, "overconstrained"):
		return cerrors.Wrap(err, cerrors.ErrCodeConstraints, "device constraints cannot be satisfied")
	default:
		return cerrors.Wrap(err, cerrors.ErrCodePermissionDenied, "device acquisition failed")
	}
}

// defaultStrategies builds the audio+video -> audio -> video cascade from
// the configured constraints.
func (p *Pipeline) defaultStrategies() []Strategy {
	return []Strategy{
		{Kind: AcquireAudioVideo, Acquire: func(ctx context.Context) (mediadevices.MediaStream, error) {
			return mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
				Video: p.videoConstraints,
				Audio: p.audioConstraints,
				Codec: p.codecSelector,
			})
		}},
		{Kind: AcquireAudioOnly, Acquire: func(ctx context.Context) (mediadevices.MediaStream, error) {
			return mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
				Audio: p.audioConstraints,
				Codec: p.codecSelector,
			})
		}},
		{Kind: AcquireVideoOnly, Acquire: func(ctx context.Context) (mediadevices.MediaStream, error) {
			return mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
				Video: p.videoConstraints,
				Codec: p.codecSelector,
			})
		}},
	}
}

func (p *Pipeline) videoConstraints(c *mediadevices.MediaTrackConstraints) {
	if p.cfg.CameraDeviceID != "" {
		c.DeviceID = prop.String(p.cfg.CameraDeviceID)
	}
	c.Width = prop.Int(p.cfg.VideoWidth)
	c.Height = prop.Int(p.cfg.VideoHeight)
	c.FrameRate = prop.Float(float64(p.cfg.FrameRate))
	c.FrameFormat = prop.FrameFormat(frame.FormatYUY2)
}

func (p *Pipeline) audioConstraints(c *mediadevices.MediaTrackConstraints) {
	if p.cfg.MicrophoneDeviceID != "" {
		c.DeviceID = prop.String(p.cfg.MicrophoneDeviceID)
	}
	c.SampleRate = prop.Int(48000)
	c.ChannelCount = prop.Int(1)
	c.Latency = prop.Duration(20 * time.Millisecond)
}

func (p *Pipeline) screenConstraints(c *mediadevices.MediaTrackConstraints) {
	c.FrameRate = prop.Float(15)
}
