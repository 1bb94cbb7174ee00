package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/sessions"
	appErrors "github.com/rgcs-trial/krong-thai-sop-system-sub003/pkg/errors"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/pkg/response"
)

// SessionHandler exposes the staff session lifecycle over HTTP.
type SessionHandler struct {
	manager *sessions.Manager
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(manager *sessions.Manager) (*SessionHandler, error) {
	if manager == nil {
		return nil, errors.New("session handler: manager is required")
	}
	return &SessionHandler{manager: manager}, nil
}

type createSessionRequest struct {
	UserID           string   `json:"user_id" validate:"required"`
	RestaurantID     string   `json:"restaurant_id"`
	Role             string   `json:"role"`
	DeviceID         string   `json:"device_id" validate:"required"`
	LoginMethod      string   `json:"login_method" validate:"required,oneof=pin biometric emergency"`
	DeviceTrusted    bool     `json:"device_trusted"`
	LocationVerified bool     `json:"location_verified"`
	Features         []string `json:"features"`
}

// POST /api/sessions
func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	session, err := h.manager.Create(requestContext(c), sessions.CreateParams{
		UserID:       req.UserID,
		RestaurantID: req.RestaurantID,
		Role:         req.Role,
		DeviceID:     req.DeviceID,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Metadata: sessions.Metadata{
			LoginMethod:      sessions.LoginMethod(req.LoginMethod),
			DeviceTrusted:    req.DeviceTrusted,
			LocationVerified: req.LocationVerified,
			Features:         req.Features,
		},
	})
	if err != nil {
		response.Error(c, appErrors.NewBadRequest(err.Error()))
		return
	}

	response.Success(c, http.StatusCreated, session)
}

// GET /api/sessions/:id/validate
func (h *SessionHandler) Validate(c *gin.Context) {
	result := h.manager.Validate(requestContext(c), c.Param("id"))
	response.Success(c, http.StatusOK, result)
}

// POST /api/sessions/:id/refresh
func (h *SessionHandler) Refresh(c *gin.Context) {
	session, err := h.manager.Refresh(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, mapSessionError(err))
		return
	}
	response.Success(c, http.StatusOK, session)
}

// POST /api/sessions/:id/activity
func (h *SessionHandler) Activity(c *gin.Context) {
	if err := h.manager.UpdateActivity(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, mapSessionError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": true})
}

type terminateSessionRequest struct {
	Reason string `json:"reason"`
}

// DELETE /api/sessions/:id
func (h *SessionHandler) Terminate(c *gin.Context) {
	var req terminateSessionRequest
	// The body is optional on termination.
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "logout"
	}

	if err := h.manager.Terminate(requestContext(c), c.Param("id"), req.Reason); err != nil {
		response.Error(c, mapSessionError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"terminated": true})
}

// GET /api/sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	session, ok := h.manager.Get(c.Param("id"))
	if !ok {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// GET /api/sessions/stats
func (h *SessionHandler) Stats(c *gin.Context) {
	response.Success(c, http.StatusOK, h.manager.Stats())
}

// POST /api/sessions/cleanup
func (h *SessionHandler) Cleanup(c *gin.Context) {
	removed := h.manager.CleanupExpired(requestContext(c))
	response.Success(c, http.StatusOK, gin.H{"removed": removed})
}

func mapSessionError(err error) error {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		return appErrors.ErrNotFound
	case errors.Is(err, sessions.ErrRefreshLimit):
		return appErrors.ErrRefreshLimit
	case errors.Is(err, sessions.ErrSessionNotActive):
		return appErrors.ErrSessionInvalid
	default:
		return appErrors.ErrInternalServer.WithInternal(err)
	}
}
