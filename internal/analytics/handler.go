package analytics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"veridoc/verification-backend/internal/api"
	"veridoc/verification-backend/internal/verification"
)

// Handler exposes the analytics API.
type Handler struct {
	aggregator *Aggregator
	logger     *zap.Logger
}

func NewHandler(aggregator *Aggregator, logger *zap.Logger) *Handler {
	return &Handler{aggregator: aggregator, logger: logger}
}

// RegisterRoutes wires the analytics endpoints onto an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/analytics/verifications/summary", h.summary)
	rg.GET("/analytics/verifications/trends", h.trends)
}

// parseQuery reads from/to/organization_id params, defaulting the window to
// the last 30 days. Scoping to an organization other than the caller's own is
// rejected.
func parseQuery(c *gin.Context) (Query, error) {
	q := Query{To: time.Now()}
	q.From = q.To.AddDate(0, 0, -30)

	if s := c.Query("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, verification.NewError(verification.CodeInvalidArgument, "invalid from timestamp")
		}
		q.From = t
	}
	if s := c.Query("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, verification.NewError(verification.CodeInvalidArgument, "invalid to timestamp")
		}
		q.To = t
	}
	if q.To.Before(q.From) {
		return q, verification.NewError(verification.CodeInvalidArgument, "window end precedes start")
	}

	if s := c.Query("organization_id"); s != "" {
		orgID, err := uuid.Parse(s)
		if err != nil {
			return q, verification.NewError(verification.CodeInvalidArgument, "invalid organization id")
		}
		identity, ok := api.IdentityFrom(c)
		if !ok || identity.OrganizationID == nil || *identity.OrganizationID != orgID {
			return q, verification.NewError(verification.CodeForbidden, "cannot query another organization's analytics")
		}
		q.OrganizationID = &orgID
	}
	return q, nil
}

func (h *Handler) summary(c *gin.Context) {
	q, err := parseQuery(c)
	if err != nil {
		api.Fail(c, err)
		return
	}
	summary, err := h.aggregator.GetSummary(c.Request.Context(), q)
	if err != nil {
		h.logger.Error("analytics summary failed", zap.Error(err))
		api.FailWith(c, verification.CodeInternal, "failed to compute summary")
		return
	}
	api.OK(c, http.StatusOK, summary)
}

func (h *Handler) trends(c *gin.Context) {
	q, err := parseQuery(c)
	if err != nil {
		api.Fail(c, err)
		return
	}
	interval := c.DefaultQuery("interval", IntervalDaily)
	if _, err := truncUnitFor(interval); err != nil {
		api.FailWith(c, verification.CodeInvalidArgument, err.Error())
		return
	}
	report, err := h.aggregator.GetTrend(c.Request.Context(), q, interval)
	if err != nil {
		h.logger.Error("analytics trend failed", zap.Error(err))
		api.FailWith(c, verification.CodeInternal, "failed to compute trend")
		return
	}
	api.OK(c, http.StatusOK, report)
}
