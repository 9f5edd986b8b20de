package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Webhook provider tags.
const (
	WebhookProviderAIForensics = "ai-forensics"
	WebhookProviderBlockchain  = "blockchain"
)

// Correlator maps inbound provider callbacks to pending requests. Raw
// provider JSON never travels past this boundary: each payload is normalized
// into the provider-specific partial-result shape before it reaches the
// orchestrator.
type Correlator struct {
	orchestrator *Orchestrator
	logger       *zap.Logger
}

func NewCorrelator(orchestrator *Orchestrator, logger *zap.Logger) *Correlator {
	return &Correlator{orchestrator: orchestrator, logger: logger}
}

// HandleWebhook normalizes one provider delivery and applies it. Provider
// deliveries are at-least-once, so malformed payloads and unknown job ids are
// logged and discarded without error; the provider gets a success
// acknowledgement either way and stops retrying.
func (c *Correlator) HandleWebhook(ctx context.Context, provider string, payload []byte) error {
	var (
		jobID   string
		partial ResultBag
		errMsg  string
		err     error
	)
	switch provider {
	case WebhookProviderAIForensics:
		jobID, partial, errMsg, err = parseAIForensicsPayload(payload)
	case WebhookProviderBlockchain:
		jobID, partial, errMsg, err = parseBlockchainPayload(payload)
	default:
		return NewError(CodeInvalidArgument, "unknown webhook provider %q", provider)
	}
	if err != nil {
		c.logger.Warn("malformed webhook payload discarded",
			zap.String("provider", provider),
			zap.Error(err))
		return nil
	}

	applyErr := c.orchestrator.ApplyResult(ctx, ResultRef{ExternalJobID: jobID}, partial, errMsg)
	if applyErr != nil {
		if IsCode(applyErr, CodeNotFound) {
			// Expected for retried or very late deliveries.
			c.logger.Info("webhook for unknown job id discarded",
				zap.String("provider", provider),
				zap.String("job_id", jobID))
			return nil
		}
		return applyErr
	}
	return nil
}

// aiForensicsPayload is the analyzer's webhook shape. Newer deployments send
// explicit 0-100 authenticity/tampering scores; older ones only a 0-1
// confidence.
type aiForensicsPayload struct {
	JobID                string                 `json:"job_id"`
	Status               string                 `json:"status"`
	AuthenticityScore    *float64               `json:"authenticity_score"`
	TamperingProbability *float64               `json:"tampering_probability"`
	ConfidenceScore      *float64               `json:"confidence_score"`
	IsAuthentic          *bool                  `json:"is_authentic"`
	AnalysisResults      map[string]interface{} `json:"analysis_results"`
	Error                string                 `json:"error"`
}

func parseAIForensicsPayload(payload []byte) (string, ResultBag, string, error) {
	var p aiForensicsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", ResultBag{}, "", err
	}
	if p.JobID == "" {
		return "", ResultBag{}, "", fmt.Errorf("payload carries no job_id")
	}

	result := &AIForensicsResult{
		ProviderJobID: p.JobID,
		Details:       p.AnalysisResults,
		ReportedAt:    time.Now(),
	}

	var errMsg string
	switch p.Status {
	case "completed":
		result.Status = ProviderStatusCompleted
	case "failed":
		result.Status = ProviderStatusFailed
		errMsg = "ai-forensics analysis failed"
		if p.Error != "" {
			errMsg = fmt.Sprintf("ai-forensics analysis failed: %s", p.Error)
		}
	default:
		result.Status = ProviderStatusProcessing
	}

	switch {
	case p.AuthenticityScore != nil && p.TamperingProbability != nil:
		result.Authenticity = *p.AuthenticityScore
		result.Tampering = *p.TamperingProbability
	case p.ConfidenceScore != nil:
		result.Authenticity = *p.ConfidenceScore * 100
		result.Tampering = 100 - result.Authenticity
	}

	return p.JobID, ResultBag{AIForensics: result}, errMsg, nil
}

// blockchainPayload is the notarization service's webhook shape.
type blockchainPayload struct {
	NotarizationID string `json:"notarization_id"`
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	TxHash         string `json:"tx_hash"`
	BlockHeight    int64  `json:"block_height"`
	Timestamp      string `json:"timestamp"`
	Error          string `json:"error"`
}

func parseBlockchainPayload(payload []byte) (string, ResultBag, string, error) {
	var p blockchainPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", ResultBag{}, "", err
	}
	jobID := p.NotarizationID
	if jobID == "" {
		jobID = p.JobID
	}
	if jobID == "" {
		return "", ResultBag{}, "", fmt.Errorf("payload carries no notarization id")
	}

	result := &BlockchainResult{
		ProviderJobID: jobID,
		TxHash:        p.TxHash,
		BlockHeight:   p.BlockHeight,
	}

	var errMsg string
	switch p.Status {
	case "confirmed":
		result.Status = "confirmed"
		if ts, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
			result.NotarizedAt = &ts
		}
	case "failed":
		result.Status = ProviderStatusFailed
		errMsg = "blockchain notarization failed"
		if p.Error != "" {
			errMsg = fmt.Sprintf("blockchain notarization failed: %s", p.Error)
		}
	default:
		result.Status = ProviderStatusProcessing
	}

	return jobID, ResultBag{Blockchain: result}, errMsg, nil
}
