package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/audit"
	appErrors "github.com/rgcs-trial/krong-thai-sop-system-sub003/pkg/errors"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/pkg/response"
)

// AuditHandler exposes the security audit log over HTTP.
type AuditHandler struct {
	svc *audit.Service
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(svc *audit.Service) (*AuditHandler, error) {
	if svc == nil {
		return nil, errors.New("audit handler: service is required")
	}
	return &AuditHandler{svc: svc}, nil
}

// GET /api/audit
func (h *AuditHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	per := parseIntQuery(c, "per_page", 50)

	var filters audit.Filters
	filters.EventType = c.Query("event_type")
	filters.Actor = c.Query("actor")
	filters.Target = c.Query("target")
	filters.Severity = c.Query("severity")

	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			filters.Since = &t
		}
	}
	if u := c.Query("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			filters.Until = &t
		}
	}

	logs, total, err := h.svc.List(requestContext(c), audit.ListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{Page: page, PerPage: per, Total: int(total)})
}
