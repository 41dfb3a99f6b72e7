package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/internal/infrastructure/middleware"
	"voicemesh/internal/infrastructure/monitoring"
	"voicemesh/pkg/events"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubCallService struct {
	active    domain.ActiveCall
	hasActive bool
	started   []domain.ChannelID
	ended     int
	muted     *bool
	opErr     error
	state     *events.Emitter[ports.CallStateEvent]
}

func newStubCallService() *stubCallService {
	return &stubCallService{state: events.NewEmitter[ports.CallStateEvent]()}
}

func (s *stubCallService) StartCall(ctx context.Context, channelID domain.ChannelID, serverID domain.ServerID, channelName string, callType domain.CallType) error {
	s.started = append(s.started, channelID)
	return s.opErr
}

func (s *stubCallService) EndCall(ctx context.Context) error { s.ended++; return s.opErr }
func (s *stubCallService) MinimizeCall() {}
func (s *stubCallService) MaximizeCall() {}

func (s *stubCallService) IsInChannel(channelID domain.ChannelID) bool {
	return s.hasActive && s.active.ChannelID == channelID
}

func (s *stubCallService) Active() (domain.ActiveCall, bool) { return s.active, s.hasActive }

func (s *stubCallService) SetMuted(muted bool) error {
	if s.opErr != nil {
		return s.opErr
	}
	s.muted = &muted
	return nil
}

func (s *stubCallService) SetVideoEnabled(enabled bool) error { return s.opErr }
func (s *stubCallService) SetQuality(q domain.MediaQuality) error { return s.opErr }
func (s *stubCallService) SetRecording(enabled bool) error { return s.opErr }
func (s *stubCallService) StartScreenShare(ctx context.Context) error { return s.opErr }
func (s *stubCallService) StopScreenShare(ctx context.Context) error { return s.opErr }
func (s *stubCallService) SwitchCamera(ctx context.Context, id string) error { return s.opErr }
func (s *stubCallService) SwitchMicrophone(ctx context.Context, id string) error { return s.opErr }

func (s *stubCallService) StateChanged() *events.Emitter[ports.CallStateEvent] { return s.state }

type stubRoster struct {
	members []domain.RosterMember
	tiles   []domain.VideoTile
	changed *events.Emitter[struct{}]
}

func newStubRoster() *stubRoster {
	return &stubRoster{changed: events.NewEmitter[struct{}]()}
}

func (r *stubRoster) ApplySnapshot(members []domain.RosterMember) {}
func (r *stubRoster) ApplyJoin(member domain.RosterMember) {}
func (r *stubRoster) ApplyLeave(attendeeID domain.AttendeeID) {}
func (r *stubRoster) ApplyMediaState(attendeeID domain.AttendeeID, media domain.MediaState) {}

func (r *stubRoster) BindTrack(attendeeID domain.AttendeeID, isLocal, isContent bool) (domain.VideoTile, error) {
	return domain.VideoTile{}, nil
}

func (r *stubRoster) UnbindTrack(attendeeID domain.AttendeeID, isContent bool) {}
func (r *stubRoster) Members() []domain.RosterMember { return r.members }

func (r *stubRoster) Member(attendeeID domain.AttendeeID) (domain.RosterMember, bool) {
	return domain.RosterMember{}, false
}

func (r *stubRoster) Tiles() []domain.VideoTile { return r.tiles }
func (r *stubRoster) Size() int { return len(r.members) }
func (r *stubRoster) Reset() {}
func (r *stubRoster) Changed() *events.Emitter[struct{}] { return r.changed }

type stubInvites struct {
	pending  []domain.Invite
	accepted []domain.InviteID
	declined []domain.InviteID
	err      error
	added    *events.Emitter[domain.Invite]
	removed  *events.Emitter[domain.Invite]
}

func newStubInvites() *stubInvites {
	return &stubInvites{
		added:   events.NewEmitter[domain.Invite](),
		removed: events.NewEmitter[domain.Invite](),
	}
}

func (s *stubInvites) HandleInvite(invite domain.Invite) {}

func (s *stubInvites) Accept(ctx context.Context, id domain.InviteID) error {
	s.accepted = append(s.accepted, id)
	return s.err
}

func (s *stubInvites) Decline(id domain.InviteID) error {
	s.declined = append(s.declined, id)
	return s.err
}

func (s *stubInvites) Pending() []domain.Invite { return s.pending }
func (s *stubInvites) Added() *events.Emitter[domain.Invite] { return s.added }
func (s *stubInvites) Removed() *events.Emitter[domain.Invite] { return s.removed }
func (s *stubInvites) Close() {}

type stubViewState struct {
	state domain.ViewState
}

func (s *stubViewState) Get(ctx context.Context) (domain.ViewState, error) { return s.state, nil }

func (s *stubViewState) SetWindowPosition(ctx context.Context, pos domain.WindowPosition) error {
	s.state.Window = pos
	return nil
}

func (s *stubViewState) SetViewedServer(ctx context.Context, serverID domain.ServerID) error {
	s.state.ViewedServerID = serverID
	return nil
}

func (s *stubViewState) SetViewMode(ctx context.Context, mode domain.ViewMode) error {
	s.state.Mode = mode
	return nil
}

func (s *stubViewState) Watch(fn func(domain.ViewState)) func() { return func() {} }
func (s *stubViewState) Close() error { return nil }

var (
	_ ports.CallService         = (*stubCallService)(nil)
	_ ports.RosterService       = (*stubRoster)(nil)
	_ ports.InviteService       = (*stubInvites)(nil)
	_ ports.ViewStateRepository = (*stubViewState)(nil)
)

type opsFixture struct {
	router    *gin.Engine
	calls     *stubCallService
	roster    *stubRoster
	invites   *stubInvites
	viewState *stubViewState
}

func newOpsFixture(t *testing.T, healthErr error) *opsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &opsFixture{
		calls:     newStubCallService(),
		roster:    newStubRoster(),
		invites:   newStubInvites(),
		viewState: &stubViewState{state: domain.ViewState{Mode: domain.ViewModeFull}},
	}

	health := monitoring.NewHealthChecker()
	health.AddCheck("storage", time.Second, func(ctx context.Context) error { return healthErr })

	handler := NewOpsHandler(f.calls, f.roster, f.invites, f.viewState, health)

	f.router = gin.New()
	f.router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	handler.SetupRoutes(f.router)
	return f
}

func (f *opsFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestOpsHandler_Health(t *testing.T) {
	f := newOpsFixture(t, nil)
	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpsHandler_HealthDegraded(t *testing.T) {
	f := newOpsFixture(t, assert.AnError)
	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOpsHandler_GetCall_Inactive(t *testing.T) {
	f := newOpsFixture(t, nil)
	w := f.do(t, http.MethodGet, "/api/v1/call", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["active"])
}

func TestOpsHandler_GetCall_Active(t *testing.T) {
	f := newOpsFixture(t, nil)
	f.calls.hasActive = true
	f.calls.active = domain.ActiveCall{
		ChannelID:   "chan-1",
		ChannelName: "general",
		StartedAt:   time.Now(),
		Type:        domain.CallTypeVoice,
	}
	f.roster.members = []domain.RosterMember{{AttendeeID: "att-1", Username: "alice"}}

	w := f.do(t, http.MethodGet, "/api/v1/call", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["active"])
	assert.Equal(t, "chan-1", resp["channel_id"])
	assert.Len(t, resp["members"], 1)
}

func TestOpsHandler_StartCall(t *testing.T) {
	f := newOpsFixture(t, nil)
	w := f.do(t, http.MethodPost, "/api/v1/call", gin.H{
		"channel_id": "chan-1", "channel_name": "general", "call_type": "video",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, f.calls.started, 1)
	assert.Equal(t, domain.ChannelID("chan-1"), f.calls.started[0])
}

func TestOpsHandler_StartCall_DefaultsToVoice(t *testing.T) {
	f := newOpsFixture(t, nil)
	w := f.do(t, http.MethodPost, "/api/v1/call", gin.H{"channel_id": "chan-1"})

	require.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "voice", resp["type"])
}

func TestOpsHandler_StartCall_RejectsBadInput(t *testing.T) {
	f := newOpsFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/call", gin.H{"channel_id": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/call", gin.H{"channel_id": "chan-1", "call_type": "hologram"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.calls.started)
}

func TestOpsHandler_EndCall(t *testing.T) {
	f := newOpsFixture(t, nil)
	w := f.do(t, http.MethodDelete, "/api/v1/call", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, f.calls.ended)
}

func TestOpsHandler_Mute(t *testing.T) {
	f := newOpsFixture(t, nil)
	w := f.do(t, http.MethodPost, "/api/v1/call/mute", gin.H{"enabled": true})

	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, f.calls.muted)
	assert.True(t, *f.calls.muted)
}

func TestOpsHandler_MediaOpWithoutCallConflicts(t *testing.T) {
	f := newOpsFixture(t, nil)
	f.calls.opErr = domain.ErrNoActiveCall

	w := f.do(t, http.MethodPost, "/api/v1/call/mute", gin.H{"enabled": true})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/call/screenshare", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOpsHandler_SetQuality_Validates(t *testing.T) {
	f := newOpsFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/call/quality", gin.H{"quality": "high"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/call/quality", gin.H{"quality": "ultra"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOpsHandler_Invites(t *testing.T) {
	f := newOpsFixture(t, nil)
	f.invites.pending = []domain.Invite{{ID: "inv-1", ChannelID: "chan-1", InviterName: "bob"}}

	w := f.do(t, http.MethodGet, "/api/v1/invites", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp["invites"], 1)
	assert.Equal(t, "inv-1", resp["invites"][0]["id"])

	w = f.do(t, http.MethodPost, "/api/v1/invites/inv-1/accept", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []domain.InviteID{"inv-1"}, f.invites.accepted)

	f.invites.err = domain.ErrInviteNotFound
	w = f.do(t, http.MethodPost, "/api/v1/invites/gone/decline", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOpsHandler_ViewState(t *testing.T) {
	f := newOpsFixture(t, nil)

	w := f.do(t, http.MethodPut, "/api/v1/view/window", gin.H{"x": 40, "y": 80})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodPut, "/api/v1/view/mode", gin.H{"mode": "overlay"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodPut, "/api/v1/view/server", gin.H{"server_id": "srv-1"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/view", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state domain.ViewState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, domain.WindowPosition{X: 40, Y: 80}, state.Window)
	assert.Equal(t, domain.ViewModeOverlay, state.Mode)
	assert.Equal(t, domain.ServerID("srv-1"), state.ViewedServerID)

	w = f.do(t, http.MethodPut, "/api/v1/view/mode", gin.H{"mode": "sideways"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
