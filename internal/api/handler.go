package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"veridoc/verification-backend/internal/events"
	"veridoc/verification-backend/internal/verification"
)

// maxWebhookBody bounds inbound provider payloads.
const maxWebhookBody = 1 << 20

// Handler exposes the verification API over HTTP.
type Handler struct {
	orchestrator *verification.Orchestrator
	correlator   *verification.Correlator
	ws           *events.WSManager
	logger       *zap.Logger

	jwtSecret     string
	webhookPerSec float64
	webhookBurst  int
}

func NewHandler(
	orchestrator *verification.Orchestrator,
	correlator *verification.Correlator,
	ws *events.WSManager,
	jwtSecret string,
	webhookPerSec float64,
	webhookBurst int,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		orchestrator:  orchestrator,
		correlator:    correlator,
		ws:            ws,
		logger:        logger,
		jwtSecret:     jwtSecret,
		webhookPerSec: webhookPerSec,
		webhookBurst:  webhookBurst,
	}
}

// RegisterRoutes wires the verification endpoints onto the router group.
// Webhook routes are unauthenticated but rate limited; everything else
// requires a bearer token.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	webhooks := rg.Group("/verification/webhooks")
	webhooks.Use(RateLimitMiddleware(h.webhookPerSec, h.webhookBurst))
	webhooks.POST("/:provider", h.handleProviderWebhook)

	authed := rg.Group("")
	authed.Use(AuthMiddleware(h.jwtSecret))

	authed.POST("/documents/:id/verify", h.startVerification)
	authed.GET("/documents/:id/verification-history", h.verificationHistory)

	authed.GET("/verification/:id/status", h.verificationStatus)
	authed.GET("/verification/:id/results", h.verificationResults)
	authed.POST("/verification/:id/cancel", h.cancelVerification)
	authed.POST("/verification/:id/review", h.submitReview)
	authed.GET("/verification/providers/health", h.providerHealth)

	authed.GET("/ws", h.handleWebSocket)
}

type verifyRequest struct {
	Type          string          `json:"type" binding:"required"`
	Priority      string          `json:"priority"`
	WebhookURL    *string         `json:"webhook_url"`
	CallbackData  json.RawMessage `json:"callback_data"`
	IncludeManual bool            `json:"include_manual"`
	ExpiresIn     int             `json:"expires_in_seconds"`
}

func (h *Handler) startVerification(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		FailWith(c, verification.CodeForbidden, "not authenticated")
		return
	}
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		FailWith(c, verification.CodeInvalidArgument, "invalid document id")
		return
	}

	var body verifyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		FailWith(c, verification.CodeInvalidArgument, "invalid request body")
		return
	}
	vtype, err := verification.ParseType(body.Type)
	if err != nil {
		Fail(c, err)
		return
	}
	priority, err := verification.ParsePriority(body.Priority)
	if err != nil {
		Fail(c, err)
		return
	}

	req, err := h.orchestrator.Start(c.Request.Context(), documentID, identity.Caller(), vtype, priority, verification.StartOptions{
		WebhookURL:    body.WebhookURL,
		CallbackData:  body.CallbackData,
		IncludeManual: body.IncludeManual,
		ExpiresIn:     time.Duration(body.ExpiresIn) * time.Second,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, http.StatusAccepted, req)
}

func (h *Handler) verificationStatus(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		FailWith(c, verification.CodeForbidden, "not authenticated")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		FailWith(c, verification.CodeInvalidArgument, "invalid verification id")
		return
	}

	req, err := h.orchestrator.Get(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	if !req.CanView(identity.Caller()) {
		FailWith(c, verification.CodeForbidden, "no access to this verification")
		return
	}

	view, err := h.orchestrator.GetStatus(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, http.StatusOK, view)
}

func (h *Handler) verificationResults(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		FailWith(c, verification.CodeForbidden, "not authenticated")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		FailWith(c, verification.CodeInvalidArgument, "invalid verification id")
		return
	}

	req, err := h.orchestrator.Get(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	if !req.CanView(identity.Caller()) {
		FailWith(c, verification.CodeForbidden, "no access to this verification")
		return
	}
	if !req.Status.IsTerminal() {
		FailWith(c, verification.CodeInvalidState, "verification has not finished")
		return
	}
	OK(c, http.StatusOK, req)
}

func (h *Handler) verificationHistory(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		FailWith(c, verification.CodeForbidden, "not authenticated")
		return
	}
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		FailWith(c, verification.CodeInvalidArgument, "invalid document id")
		return
	}

	reqs, err := h.orchestrator.History(c.Request.Context(), documentID, identity.Caller())
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, http.StatusOK, reqs)
}

func (h *Handler) cancelVerification(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		FailWith(c, verification.CodeForbidden, "not authenticated")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		FailWith(c, verification.CodeInvalidArgument, "invalid verification id")
		return
	}

	if err := h.orchestrator.Cancel(c.Request.Context(), id, identity.Caller()); err != nil {
		Fail(c, err)
		return
	}
	OK(c, http.StatusOK, gin.H{"status": verification.StatusCancelled})
}

type reviewRequest struct {
	Decision string `json:"decision" binding:"required"`
	Notes    string `json:"notes"`
}

func (h *Handler) submitReview(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		FailWith(c, verification.CodeForbidden, "not authenticated")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		FailWith(c, verification.CodeInvalidArgument, "invalid verification id")
		return
	}

	var body reviewRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		FailWith(c, verification.CodeInvalidArgument, "invalid request body")
		return
	}
	if err := h.orchestrator.SubmitReview(c.Request.Context(), id, identity.Caller(), body.Decision, body.Notes); err != nil {
		Fail(c, err)
		return
	}
	OK(c, http.StatusOK, gin.H{"recorded": true})
}

// handleProviderWebhook accepts one provider callback. Malformed deliveries
// and deliveries for unknown or already-finished jobs are acknowledged with
// 200 so providers stop retrying them.
func (h *Handler) handleProviderWebhook(c *gin.Context) {
	provider := c.Param("provider")
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		FailWith(c, verification.CodeInvalidArgument, "unreadable payload")
		return
	}

	if err := h.correlator.HandleWebhook(c.Request.Context(), provider, payload); err != nil {
		h.logger.Warn("webhook rejected",
			zap.String("provider", provider),
			zap.Error(err))
		Fail(c, err)
		return
	}
	OK(c, http.StatusOK, gin.H{"received": true})
}

func (h *Handler) providerHealth(c *gin.Context) {
	health := h.orchestrator.ProviderHealth(c.Request.Context())
	OK(c, http.StatusOK, health)
}

func (h *Handler) handleWebSocket(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		FailWith(c, verification.CodeForbidden, "not authenticated")
		return
	}
	orgID := ""
	if identity.OrganizationID != nil {
		orgID = identity.OrganizationID.String()
	}
	if err := h.ws.HandleConnection(c.Writer, c.Request, identity.UserID.String(), orgID); err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
	}
}
