package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/overrides"
	appErrors "github.com/rgcs-trial/krong-thai-sop-system-sub003/pkg/errors"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/pkg/response"
)

// OverrideHandler exposes the manager override workflow over HTTP.
type OverrideHandler struct {
	engine *overrides.Engine
}

// NewOverrideHandler constructs the handler.
func NewOverrideHandler(engine *overrides.Engine) (*OverrideHandler, error) {
	if engine == nil {
		return nil, errors.New("override handler: engine is required")
	}
	return &OverrideHandler{engine: engine}, nil
}

type authenticateRequest struct {
	ManagerID    string `json:"manager_id" validate:"required"`
	PIN          string `json:"pin" validate:"required"`
	DeviceID     string `json:"device_id"`
	OverrideType string `json:"override_type" validate:"required"`
}

// POST /api/overrides/authenticate
func (h *OverrideHandler) Authenticate(c *gin.Context) {
	var req authenticateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	authCtx, err := h.engine.AuthenticateManager(
		requestContext(c), req.ManagerID, req.PIN, req.DeviceID, overrides.Type(req.OverrideType))
	if err != nil {
		response.Error(c, mapOverrideError(err))
		return
	}

	response.Success(c, http.StatusOK, authCtx)
}

type overrideDetailsRequest struct {
	Reason            string   `json:"reason"`
	ExpectedDuration  string   `json:"expected_duration"`
	AffectedResources []string `json:"affected_resources"`
	BusinessImpact    string   `json:"business_impact"`
	SessionID         string   `json:"session_id"`
	ExtendBy          string   `json:"extend_by"`
	Operations        []string `json:"operations"`
	BypassControls    []string `json:"bypass_controls"`
}

type createOverrideRequest struct {
	Type          string                 `json:"type" validate:"required"`
	TargetUserID  string                 `json:"target_user_id" validate:"required"`
	RequestedBy   string                 `json:"requested_by" validate:"required"`
	Justification string                 `json:"justification" validate:"required"`
	Urgency       string                 `json:"urgency" validate:"omitempty,oneof=low medium high critical"`
	Details       overrideDetailsRequest `json:"details"`
}

// POST /api/overrides
func (h *OverrideHandler) Create(c *gin.Context) {
	var req createOverrideRequest
	if !bindAndValidate(c, &req) {
		return
	}

	expected, err := parseOptionalDuration(req.Details.ExpectedDuration)
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("details.expected_duration must be a duration such as 2h or 45m"))
		return
	}
	extendBy, err := parseOptionalDuration(req.Details.ExtendBy)
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("details.extend_by must be a duration such as 2h or 45m"))
		return
	}

	request, err := h.engine.RequestOverride(requestContext(c), overrides.RequestParams{
		Type:          overrides.Type(req.Type),
		TargetUserID:  req.TargetUserID,
		RequestedBy:   req.RequestedBy,
		Justification: req.Justification,
		Urgency:       overrides.Urgency(req.Urgency),
		Details: overrides.Details{
			Reason:            req.Details.Reason,
			ExpectedDuration:  expected,
			AffectedResources: req.Details.AffectedResources,
			BusinessImpact:    req.Details.BusinessImpact,
			SessionID:         req.Details.SessionID,
			ExtendBy:          extendBy,
			Operations:        req.Details.Operations,
			BypassControls:    req.Details.BypassControls,
		},
	})
	if err != nil {
		response.Error(c, mapOverrideError(err))
		return
	}

	response.Success(c, http.StatusCreated, request)
}

type decisionRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason"`
}

// POST /api/overrides/:id/approve
func (h *OverrideHandler) Approve(c *gin.Context) {
	var req decisionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.engine.ApproveOverride(requestContext(c), c.Param("id"), req.Actor, req.Reason); err != nil {
		response.Error(c, mapOverrideError(err))
		return
	}

	request, _ := h.engine.GetRequest(c.Param("id"))
	response.Success(c, http.StatusOK, request)
}

// POST /api/overrides/:id/deny
func (h *OverrideHandler) Deny(c *gin.Context) {
	var req decisionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.engine.DenyOverride(requestContext(c), c.Param("id"), req.Actor, req.Reason); err != nil {
		response.Error(c, mapOverrideError(err))
		return
	}

	request, _ := h.engine.GetRequest(c.Param("id"))
	response.Success(c, http.StatusOK, request)
}

type executeRequest struct {
	Actor string `json:"actor" validate:"required"`
}

// POST /api/overrides/:id/execute
func (h *OverrideHandler) Execute(c *gin.Context) {
	var req executeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	outcome, err := h.engine.ExecuteOverride(requestContext(c), c.Param("id"), req.Actor)
	if err != nil {
		response.Error(c, mapOverrideError(err))
		return
	}

	request, _ := h.engine.GetRequest(c.Param("id"))
	response.Success(c, http.StatusOK, gin.H{
		"request": request,
		"outcome": outcome,
	})
}

// GET /api/overrides
func (h *OverrideHandler) List(c *gin.Context) {
	requests := h.engine.PendingRequests(overrides.Filter{
		Type:         overrides.Type(c.Query("type")),
		TargetUserID: c.Query("target_user_id"),
		Urgency:      overrides.Urgency(c.Query("urgency")),
	})
	response.Success(c, http.StatusOK, requests)
}

// GET /api/overrides/:id
func (h *OverrideHandler) Get(c *gin.Context) {
	request, ok := h.engine.GetRequest(c.Param("id"))
	if !ok {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, request)
}

func parseOptionalDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}

func mapOverrideError(err error) error {
	switch {
	case errors.Is(err, overrides.ErrInvalidCredentials):
		return appErrors.ErrInvalidCredentials
	case errors.Is(err, overrides.ErrVerificationUnavailable):
		return appErrors.New("override.verification_unavailable",
			"Credential verification is temporarily unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, overrides.ErrInsufficientLevel):
		return appErrors.ErrAuthorizationLevel
	case errors.Is(err, overrides.ErrAuthContextRequired):
		return appErrors.ErrManagerAuthRequired
	case errors.Is(err, overrides.ErrSelfApproval):
		return appErrors.ErrSelfApproval
	case errors.Is(err, overrides.ErrRequestNotFound):
		return appErrors.ErrNotFound
	case errors.Is(err, overrides.ErrRequestNotPending),
		errors.Is(err, overrides.ErrRequestNotApproved),
		errors.Is(err, overrides.ErrExecutionInProgress):
		return appErrors.ErrRequestState
	default:
		return appErrors.NewBadRequest(err.Error())
	}
}
