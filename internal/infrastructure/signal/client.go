package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	cerrors "voicemesh/pkg/errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var _ ports.SignalingChannel = (*Client)(nil)

// Config holds the websocket client configuration.
type Config struct {
	URL              string
	JWTSecret        string
	UserID           string
	TokenTTL         time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	ReconnectMaxWait time.Duration
	MessagesPerSec   float64
	MessageBurst     int
}

// Client is the websocket signaling channel to the coordination server. It
// reconnects with exponential backoff and emits a Connectivity event with
// Reconnected=true once re-established, so the roster treats the next
// snapshot as authoritative.
type Client struct {
	cfg    Config
	events *ports.SignalingEvents
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	sendCh  chan SignalMessage
	limiter *rate.Limiter
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	return &Client{
		cfg:     cfg,
		events:  ports.NewSignalingEvents(),
		logger:  logger,
		sendCh:  make(chan SignalMessage, 64),
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSec), cfg.MessageBurst),
		done:    make(chan struct{}),
	}
}

func (c *Client) Events() *ports.SignalingEvents {
	return c.events
}

// Connect dials the server and starts the read/write pumps. It returns once
// the first dial succeeds; later drops are handled by the reconnect loop.
func (c *Client) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		cancel()
		return err
	}

	go c.run(runCtx)
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	token, err := c.mintToken()
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeUnauthorized, "failed to build auth token")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return cerrors.Wrap(err, cerrors.ErrCodeUnauthorized, "signaling auth rejected")
		}
		return cerrors.Wrap(err, cerrors.ErrCodeSignaling, "failed to dial signaling server")
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	return nil
}

// mintToken signs a short-lived access token for the websocket handshake.
func (c *Client) mintToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": c.cfg.UserID,
		"iat": now.Unix(),
		"exp": now.Add(c.cfg.TokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.cfg.JWTSecret))
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	reconnected := false
	for {
		c.events.Connectivity.Emit(ports.ConnectivityEvent{Connected: true, Reconnected: reconnected})

		err := c.pump(ctx)
		c.setDisconnected()
		c.events.Connectivity.Emit(ports.ConnectivityEvent{Connected: false})

		if ctx.Err() != nil || c.isClosed() {
			return
		}
		c.logger.Warnw("signaling connection lost, reconnecting", "error", err)

		bo := backoff.NewExponentialBackOff()
		bo.MaxInterval = c.cfg.ReconnectMaxWait
		bo.MaxElapsedTime = 0 // keep trying until cancelled

		dial := func() error { return c.dial(ctx) }
		if err := backoff.Retry(dial, backoff.WithContext(bo, ctx)); err != nil {
			return
		}
		reconnected = true
	}
}

// pump runs the read loop and the serialized write loop for one connection.
// It returns when either side fails.
func (c *Client) pump(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return domain.ErrNotConnected
	}

	errCh := make(chan error, 2)

	go func() {
		for {
			var msg SignalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errCh <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
			if err := c.dispatch(msg); err != nil {
				c.logger.Warnw("failed to handle signaling message", "type", msg.Type, "error", err)
			}
		}
	}()

	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()

		case msg := <-c.sendCh:
			if err := c.limiter.Wait(ctx); err != nil {
				conn.Close()
				return err
			}
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				conn.Close()
				return err
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return err
			}

		case err := <-errCh:
			conn.Close()
			return err
		}
	}
}

func (c *Client) dispatch(msg SignalMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}

	switch msg.Type {
	case TypeUserJoined:
		var p UserJoinedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid user-joined payload: %w", err)
		}
		c.events.UserJoined.Emit(ports.UserJoinedEvent{
			AttendeeID:     p.AttendeeID,
			ExternalUserID: p.ExternalUserID,
			Username:       p.Username,
		})

	case TypeUserLeft:
		var p UserLeftPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid user-left payload: %w", err)
		}
		c.events.UserLeft.Emit(ports.UserLeftEvent{AttendeeID: p.AttendeeID})

	case TypeRosterUpdate:
		var p RosterUpdatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid roster-update payload: %w", err)
		}
		c.events.Roster.Emit(ports.RosterUpdateEvent{Members: p.Members})

	case TypeMediaStateUpdate:
		var p MediaStatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid media-state-update payload: %w", err)
		}
		c.events.MediaState.Emit(ports.MediaStateEvent{AttendeeID: p.AttendeeID, Media: p.Media})

	case TypeOffer, TypeScreenOffer:
		var p DescriptionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid offer payload: %w", err)
		}
		c.events.Offer.Emit(ports.DescriptionEvent{From: p.From, SDP: p.SDP, Content: msg.Type == TypeScreenOffer})

	case TypeAnswer, TypeScreenAnswer:
		var p DescriptionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid answer payload: %w", err)
		}
		c.events.Answer.Emit(ports.DescriptionEvent{From: p.From, SDP: p.SDP, Content: msg.Type == TypeScreenAnswer})

	case TypeICECandidate, TypeScreenCandidate:
		var p CandidatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid ice-candidate payload: %w", err)
		}
		c.events.Candidate.Emit(ports.CandidateEvent{From: p.From, Candidate: p.Candidate, Content: msg.Type == TypeScreenCandidate})

	case TypeVoiceInvite:
		var p VoiceInvitePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid voice-invite payload: %w", err)
		}
		c.events.Invite.Emit(ports.InviteEvent{
			ChannelID:   p.ChannelID,
			ChannelName: p.ChannelName,
			ServerID:    p.ServerID,
			ServerName:  p.ServerName,
			InviterID:   p.InviterID,
			InviterName: p.InviterUsername,
		})

	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}

	return nil
}

func (c *Client) send(ctx context.Context, msgType string, payload interface{}) error {
	if !c.Connected() {
		return cerrors.New(cerrors.ErrCodeSignaling, "signaling channel not connected")
	}

	msg, err := encodeMessage(msgType, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msgType, err)
	}

	select {
	case c.sendCh <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) JoinChannel(ctx context.Context, channelID domain.ChannelID) error {
	return c.send(ctx, TypeJoinChannel, ChannelPayload{ChannelID: channelID})
}

func (c *Client) LeaveChannel(ctx context.Context, channelID domain.ChannelID) error {
	return c.send(ctx, TypeLeaveChannel, ChannelPayload{ChannelID: channelID})
}

func (c *Client) SendMediaState(ctx context.Context, state domain.MediaState) error {
	return c.send(ctx, TypeMediaStateUpdate, MediaStatePayload{Media: state})
}

func (c *Client) SendOffer(ctx context.Context, to domain.AttendeeID, sdp webrtc.SessionDescription, content bool) error {
	msgType := TypeOffer
	if content {
		msgType = TypeScreenOffer
	}
	return c.send(ctx, msgType, DescriptionPayload{To: to, SDP: sdp})
}

func (c *Client) SendAnswer(ctx context.Context, to domain.AttendeeID, sdp webrtc.SessionDescription, content bool) error {
	msgType := TypeAnswer
	if content {
		msgType = TypeScreenAnswer
	}
	return c.send(ctx, msgType, DescriptionPayload{To: to, SDP: sdp})
}

func (c *Client) SendCandidate(ctx context.Context, to domain.AttendeeID, candidate webrtc.ICECandidateInit, content bool) error {
	msgType := TypeICECandidate
	if content {
		msgType = TypeScreenCandidate
	}
	return c.send(ctx, msgType, CandidatePayload{To: to, Candidate: candidate})
}

func (c *Client) SendNetworkQuality(ctx context.Context, samples []domain.NetworkSample) error {
	stats := make([]NetworkStat, 0, len(samples))
	for _, s := range samples {
		stats = append(stats, NetworkStat{
			AttendeeID: s.AttendeeID,
			PacketLoss: s.PacketLoss,
			RTTMillis:  s.RoundTripTime.Milliseconds(),
			JitterMS:   s.Jitter.Milliseconds(),
		})
	}
	return c.send(ctx, TypeNetworkQuality, NetworkQualityPayload{Stats: stats})
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) setDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close shuts the client down for good; no reconnect is attempted.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	return nil
}
