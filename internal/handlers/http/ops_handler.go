package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/internal/infrastructure/monitoring"
	"voicemesh/pkg/errors"
	"voicemesh/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OpsHandler exposes the local control surface of the client: call state,
// media toggles, pending invites and the persisted view state. It is meant
// for same-host tooling, not for the public internet.
type OpsHandler struct {
	calls     ports.CallService
	roster    ports.RosterService
	invites   ports.InviteService
	viewState ports.ViewStateRepository
	health    *monitoring.HealthChecker
}

func NewOpsHandler(
	calls ports.CallService,
	roster ports.RosterService,
	invites ports.InviteService,
	viewState ports.ViewStateRepository,
	health *monitoring.HealthChecker,
) *OpsHandler {
	return &OpsHandler{
		calls:     calls,
		roster:    roster,
		invites:   invites,
		viewState: viewState,
		health:    health,
	}
}

func (h *OpsHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/call", h.GetCall)
		api.POST("/call", h.StartCall)
		api.DELETE("/call", h.EndCall)
		api.POST("/call/minimize", h.Minimize)
		api.POST("/call/maximize", h.Maximize)

		api.POST("/call/mute", h.SetMuted)
		api.POST("/call/video", h.SetVideo)
		api.POST("/call/quality", h.SetQuality)
		api.POST("/call/recording", h.SetRecording)
		api.POST("/call/screenshare", h.StartScreenShare)
		api.DELETE("/call/screenshare", h.StopScreenShare)
		api.POST("/call/camera", h.SwitchCamera)
		api.POST("/call/microphone", h.SwitchMicrophone)

		api.GET("/invites", h.ListInvites)
		api.POST("/invites/:id/accept", h.AcceptInvite)
		api.POST("/invites/:id/decline", h.DeclineInvite)

		api.GET("/view", h.GetViewState)
		api.PUT("/view/window", h.SetWindowPosition)
		api.PUT("/view/server", h.SetViewedServer)
		api.PUT("/view/mode", h.SetViewMode)
	}
}

func (h *OpsHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := h.health.CheckAll(ctx)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *OpsHandler) GetCall(c *gin.Context) {
	call, ok := h.calls.Active()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active":       true,
		"channel_id":   call.ChannelID,
		"server_id":    call.ServerID,
		"channel_name": call.ChannelName,
		"started_at":   call.StartedAt,
		"type":         call.Type,
		"minimized":    call.Minimized,
		"members":      h.roster.Members(),
		"tiles":        h.roster.Tiles(),
	})
}

type StartCallRequest struct {
	ChannelID   string `json:"channel_id" binding:"required"`
	ServerID    string `json:"server_id"`
	ChannelName string `json:"channel_name"`
	CallType    string `json:"call_type"`
}

func (h *OpsHandler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	if err := validation.ValidateChannelID(req.ChannelID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if req.ChannelName != "" {
		if err := validation.ValidateChannelName(req.ChannelName); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
	}

	callType := domain.CallType(strings.ToLower(req.CallType))
	switch callType {
	case "":
		callType = domain.CallTypeVoice
	case domain.CallTypeVoice, domain.CallTypeVideo, domain.CallTypeScreen:
	default:
		c.Error(errors.NewInvalidInputError("unknown call type: " + req.CallType))
		return
	}

	err := h.calls.StartCall(c.Request.Context(),
		domain.ChannelID(req.ChannelID), domain.ServerID(req.ServerID), req.ChannelName, callType)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"channel_id": req.ChannelID, "type": callType})
}

func (h *OpsHandler) EndCall(c *gin.Context) {
	if err := h.calls.EndCall(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OpsHandler) Minimize(c *gin.Context) {
	h.calls.MinimizeCall()
	c.Status(http.StatusNoContent)
}

func (h *OpsHandler) Maximize(c *gin.Context) {
	h.calls.MaximizeCall()
	c.Status(http.StatusNoContent)
}

type ToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *OpsHandler) SetMuted(c *gin.Context) {
	var req ToggleRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	h.callOp(c, h.calls.SetMuted(*req.Enabled))
}

func (h *OpsHandler) SetVideo(c *gin.Context) {
	var req ToggleRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	h.callOp(c, h.calls.SetVideoEnabled(*req.Enabled))
}

func (h *OpsHandler) SetQuality(c *gin.Context) {
	var req struct {
		Quality string `json:"quality" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateQuality(req.Quality); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	h.callOp(c, h.calls.SetQuality(domain.MediaQuality(req.Quality)))
}

func (h *OpsHandler) SetRecording(c *gin.Context) {
	var req ToggleRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	h.callOp(c, h.calls.SetRecording(*req.Enabled))
}

func (h *OpsHandler) StartScreenShare(c *gin.Context) {
	h.callOp(c, h.calls.StartScreenShare(c.Request.Context()))
}

func (h *OpsHandler) StopScreenShare(c *gin.Context) {
	h.callOp(c, h.calls.StopScreenShare(c.Request.Context()))
}

type SwitchDeviceRequest struct {
	DeviceID string `json:"device_id" binding:"required,max=256"`
}

func (h *OpsHandler) SwitchCamera(c *gin.Context) {
	var req SwitchDeviceRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	h.callOp(c, h.calls.SwitchCamera(c.Request.Context(), req.DeviceID))
}

func (h *OpsHandler) SwitchMicrophone(c *gin.Context) {
	var req SwitchDeviceRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	h.callOp(c, h.calls.SwitchMicrophone(c.Request.Context(), req.DeviceID))
}

// callOp translates the outcome of a media operation into a response.
// ErrNoActiveCall is a client mistake, not a server fault.
func (h *OpsHandler) callOp(c *gin.Context, err error) {
	if err != nil {
		if err == domain.ErrNoActiveCall {
			c.JSON(http.StatusConflict, gin.H{"error": "no active call"})
			return
		}
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OpsHandler) ListInvites(c *gin.Context) {
	pending := h.invites.Pending()
	out := make([]gin.H, 0, len(pending))
	for _, inv := range pending {
		out = append(out, gin.H{
			"id":           inv.ID,
			"channel_id":   inv.ChannelID,
			"channel_name": inv.ChannelName,
			"server_id":    inv.ServerID,
			"server_name":  inv.ServerName,
			"inviter_id":   inv.InviterID,
			"inviter_name": inv.InviterName,
			"received_at":  inv.ReceivedAt,
			"expires_at":   inv.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"invites": out})
}

func (h *OpsHandler) AcceptInvite(c *gin.Context) {
	id := domain.InviteID(c.Param("id"))
	if err := h.invites.Accept(c.Request.Context(), id); err != nil {
		if err == domain.ErrInviteNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "invite not found"})
			return
		}
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OpsHandler) DeclineInvite(c *gin.Context) {
	id := domain.InviteID(c.Param("id"))
	if err := h.invites.Decline(id); err != nil {
		if err == domain.ErrInviteNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "invite not found"})
			return
		}
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OpsHandler) GetViewState(c *gin.Context) {
	state, err := h.viewState.Get(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *OpsHandler) SetWindowPosition(c *gin.Context) {
	var req struct {
		X *int `json:"x" binding:"required"`
		Y *int `json:"y" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := h.viewState.SetWindowPosition(c.Request.Context(), domain.WindowPosition{X: *req.X, Y: *req.Y}); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OpsHandler) SetViewedServer(c *gin.Context) {
	var req struct {
		ServerID string `json:"server_id" binding:"required,max=64"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := h.viewState.SetViewedServer(c.Request.Context(), domain.ServerID(req.ServerID)); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OpsHandler) SetViewMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	mode := domain.ViewMode(strings.ToLower(req.Mode))
	if mode != domain.ViewModeFull && mode != domain.ViewModeOverlay {
		c.Error(errors.NewInvalidInputError("unknown view mode: " + req.Mode))
		return
	}
	if err := h.viewState.SetViewMode(c.Request.Context(), mode); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
