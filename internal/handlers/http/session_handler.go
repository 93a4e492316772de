package http

import (
	"errors"
	"net/http"

	"meetmesh/internal/core/domain"
	"meetmesh/internal/core/ports"
	apperrors "meetmesh/pkg/errors"

	"github.com/gin-gonic/gin"
)

// SessionHandler exposes the session controls over HTTP. It is a thin
// adapter: every route maps onto one orchestrator operation.
type SessionHandler struct {
	session ports.SessionService
}

func NewSessionHandler(session ports.SessionService) *SessionHandler {
	return &SessionHandler{session: session}
}

func (h *SessionHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/session/join", h.Join)
		api.POST("/session/leave", h.Leave)
		api.GET("/session", h.Status)
		api.GET("/session/participants", h.Participants)

		api.POST("/session/mute", h.ToggleMute)
		api.POST("/session/video", h.ToggleVideo)
		api.POST("/session/screen-share", h.ToggleScreenShare)
		api.POST("/session/pin/:id", h.Pin)
		api.POST("/session/audio-output", h.SetAudioOutput)
		api.POST("/session/gesture", h.Gesture)
	}
}

func (h *SessionHandler) Join(c *gin.Context) {
	var req struct {
		MeetingID string `json:"meeting_id" binding:"required,min=1,max=100"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.session.Join(c.Request.Context(), domain.MeetingID(req.MeetingID)); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"state": h.session.State(),
	})
}

func (h *SessionHandler) Leave(c *gin.Context) {
	if err := h.session.EndCall(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.session.State()})
}

func (h *SessionHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":            h.session.State(),
		"duration_seconds": int(h.session.Duration().Seconds()),
	})
}

func (h *SessionHandler) Participants(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"participants": h.session.Participants(),
	})
}

func (h *SessionHandler) ToggleMute(c *gin.Context) {
	muted, err := h.session.ToggleMute(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": muted})
}

func (h *SessionHandler) ToggleVideo(c *gin.Context) {
	videoOff, err := h.session.ToggleVideo(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"video_off": videoOff})
}

func (h *SessionHandler) ToggleScreenShare(c *gin.Context) {
	sharing, err := h.session.ToggleScreenShare(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sharing": sharing})
}

func (h *SessionHandler) Pin(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participant id is required"})
		return
	}
	h.session.PinParticipant(domain.ParticipantID(id))
	c.JSON(http.StatusOK, gin.H{"pinned": id})
}

func (h *SessionHandler) SetAudioOutput(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.session.SetAudioOutput(req.DeviceID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": req.DeviceID})
}

func (h *SessionHandler) Gesture(c *gin.Context) {
	h.session.NotifyGesture()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *SessionHandler) writeError(c *gin.Context, err error) {
	if appErr := apperrors.AsAppError(err); appErr != nil {
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}

	switch {
	case errors.Is(err, domain.ErrAlreadyJoined):
		c.JSON(http.StatusConflict, gin.H{"error": "already in a session"})
	case errors.Is(err, domain.ErrNotConnected):
		c.JSON(http.StatusConflict, gin.H{"error": "not in a session"})
	case errors.Is(err, domain.ErrPermissionDenied), errors.Is(err, domain.ErrDeviceUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrParticipantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
