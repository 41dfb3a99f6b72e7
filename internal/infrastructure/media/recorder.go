package media

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"voicemesh/internal/core/ports"
	cerrors "voicemesh/pkg/errors"

	"github.com/pion/mediadevices"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

var _ ports.Recorder = (*TrackRecorder)(nil)

const recorderMTU = 1200

// TrackRecorder dumps the local capture tracks to disk as length-prefixed
// RTP packets, one file per track per session. It taps the encoder output
// directly, so recording works with or without connected peers.
type TrackRecorder struct {
	dir    string
	logger *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	readers []mediadevices.RTPReadCloser
	wg      sync.WaitGroup
	running bool
}

func NewTrackRecorder(dir string, logger *zap.SugaredLogger) *TrackRecorder {
	return &TrackRecorder{dir: dir, logger: logger}
}

func (r *TrackRecorder) Start(ctx context.Context, tracks []webrtc.TrackLocal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if len(tracks) == 0 {
		return cerrors.NewInternalError("no tracks to record")
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeInternal, "failed to create recording directory")
	}

	ctx, cancel := context.WithCancel(ctx)
	started := 0
	stamp := time.Now().Format("20060102-150405")

	for i, track := range tracks {
		mdTrack, ok := track.(mediadevices.Track)
		if !ok {
			continue
		}

		mime := webrtc.MimeTypeOpus
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			mime = webrtc.MimeTypeVP8
		}

		reader, err := mdTrack.NewRTPReader(mime, uint32(0x5000+i), recorderMTU)
		if err != nil {
			r.logger.Warnw("failed to open RTP reader for recording",
				"kind", track.Kind().String(), "error", err)
			continue
		}

		name := fmt.Sprintf("%s-%s-%d.rtp", stamp, track.Kind().String(), i)
		file, err := os.Create(filepath.Join(r.dir, name))
		if err != nil {
			reader.Close()
			cancel()
			return cerrors.Wrap(err, cerrors.ErrCodeInternal, "failed to create recording file")
		}

		r.readers = append(r.readers, reader)
		r.wg.Add(1)
		go r.pump(ctx, reader, file)
		started++
	}

	if started == 0 {
		cancel()
		return cerrors.NewInternalError("no recordable tracks")
	}

	r.cancel = cancel
	r.running = true
	r.logger.Infow("recording started", "dir", r.dir, "tracks", started)
	return nil
}

func (r *TrackRecorder) pump(ctx context.Context, reader mediadevices.RTPReadCloser, file *os.File) {
	defer r.wg.Done()
	defer file.Close()

	w := bufio.NewWriter(file)
	defer w.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pkts, release, err := reader.Read()
		if err != nil {
			if err != io.EOF {
				r.logger.Warnw("recording read failed", "file", file.Name(), "error", err)
			}
			return
		}
		for _, pkt := range pkts {
			if err := writePacket(w, pkt); err != nil {
				release()
				r.logger.Warnw("recording write failed", "file", file.Name(), "error", err)
				return
			}
		}
		release()
	}
}

// writePacket frames one RTP packet with a big-endian uint16 length prefix.
func writePacket(w io.Writer, pkt *rtp.Packet) error {
	buf, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(buf))); err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func (r *TrackRecorder) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	readers := r.readers
	r.cancel = nil
	r.readers = nil
	r.running = false
	r.mu.Unlock()

	cancel()
	// Closing the readers unblocks any pump stuck in Read.
	for _, reader := range readers {
		reader.Close()
	}
	r.wg.Wait()
	r.logger.Infow("recording stopped")
	return nil
}
