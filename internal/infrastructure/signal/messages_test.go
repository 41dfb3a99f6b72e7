package signal

import (
	"encoding/json"
	"testing"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient() *Client {
	return NewClient(Config{
		URL:            "ws://localhost:0/ws",
		MessagesPerSec: 100,
		MessageBurst:   10,
		PongTimeout:    time.Minute,
	}, zap.NewNop().Sugar())
}

func rawMessage(t *testing.T, msgType string, payload interface{}) SignalMessage {
	t.Helper()
	msg, err := encodeMessage(msgType, payload)
	require.NoError(t, err)
	return msg
}

func TestDispatchUserJoined(t *testing.T) {
	c := testClient()

	var got ports.UserJoinedEvent
	c.Events().UserJoined.Subscribe(func(e ports.UserJoinedEvent) { got = e })

	msg := rawMessage(t, TypeUserJoined, UserJoinedPayload{
		AttendeeID:     "att-1",
		ExternalUserID: "user-1",
		Username:       "alice",
	})
	require.NoError(t, c.dispatch(msg))

	assert.Equal(t, domain.AttendeeID("att-1"), got.AttendeeID)
	assert.Equal(t, "alice", got.Username)
}

func TestDispatchOfferRoutesContentVariant(t *testing.T) {
	c := testClient()

	var got []ports.DescriptionEvent
	c.Events().Offer.Subscribe(func(e ports.DescriptionEvent) { got = append(got, e) })

	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	require.NoError(t, c.dispatch(rawMessage(t, TypeOffer, DescriptionPayload{From: "att-2", SDP: sdp})))
	require.NoError(t, c.dispatch(rawMessage(t, TypeScreenOffer, DescriptionPayload{From: "att-2", SDP: sdp})))

	require.Len(t, got, 2)
	assert.False(t, got[0].Content)
	assert.True(t, got[1].Content)
	assert.Equal(t, domain.AttendeeID("att-2"), got[0].From)
}

func TestDispatchRosterUpdate(t *testing.T) {
	c := testClient()

	var got ports.RosterUpdateEvent
	c.Events().Roster.Subscribe(func(e ports.RosterUpdateEvent) { got = e })

	members := []domain.RosterMember{
		{AttendeeID: "att-1", Username: "alice", Media: domain.MediaState{Video: true, Quality: domain.QualityAuto}},
		{AttendeeID: "att-2", Username: "bob"},
	}
	require.NoError(t, c.dispatch(rawMessage(t, TypeRosterUpdate, RosterUpdatePayload{Members: members})))

	require.Len(t, got.Members, 2)
	assert.True(t, got.Members[0].Media.Video)
}

func TestDispatchVoiceInvite(t *testing.T) {
	c := testClient()

	var got ports.InviteEvent
	c.Events().Invite.Subscribe(func(e ports.InviteEvent) { got = e })

	msg := rawMessage(t, TypeVoiceInvite, VoiceInvitePayload{
		ChannelID:       "general",
		ChannelName:     "General",
		ServerID:        "srv-1",
		ServerName:      "Team",
		InviterID:       "user-9",
		InviterUsername: "carol",
		Timestamp:       time.Now().UnixMilli(),
	})
	require.NoError(t, c.dispatch(msg))

	assert.Equal(t, domain.ChannelID("general"), got.ChannelID)
	assert.Equal(t, "carol", got.InviterName)
}

func TestDispatchRejectsUnknownAndMalformed(t *testing.T) {
	c := testClient()

	assert.Error(t, c.dispatch(SignalMessage{Type: "bogus"}))
	assert.Error(t, c.dispatch(SignalMessage{}))
	assert.Error(t, c.dispatch(SignalMessage{Type: TypeUserJoined, Payload: json.RawMessage(`{`)}))
}

func TestEncodeMessageEnvelope(t *testing.T) {
	msg, err := encodeMessage(TypeJoinChannel, ChannelPayload{ChannelID: "general"})
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"join-channel","payload":{"channelId":"general"}}`, string(data))
}
