package providers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ManualAdapter opens a human-review task. When no review queue service is
// configured the adapter acknowledges locally; reviewers then complete the
// request through the review endpoint.
type ManualAdapter struct {
	http   *httpClient
	logger *zap.Logger
}

func NewManualAdapter(cfg Config, logger *zap.Logger) *ManualAdapter {
	var client *httpClient
	if cfg.BaseURL != "" {
		client = newHTTPClient(cfg, logger)
	}
	return &ManualAdapter{http: client, logger: logger}
}

func (a *ManualAdapter) Name() string { return "manual" }

func (a *ManualAdapter) Submit(ctx context.Context, job Job) (*SubmitResult, error) {
	if a.http == nil {
		// Local review queue: the task lives on the verification row itself.
		return &SubmitResult{ProviderJobID: "manual-" + uuid.NewString(), Status: "queued"}, nil
	}
	var resp struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	payload := map[string]interface{}{
		"verification_id": job.VerificationID,
		"document_id":     job.DocumentID,
		"document_url":    job.DocumentURL,
		"priority":        job.Priority,
	}
	if err := a.http.doJSON(ctx, http.MethodPost, "/api/v1/review-tasks", payload, &resp); err != nil {
		return nil, err
	}
	return &SubmitResult{ProviderJobID: resp.TaskID, Status: resp.Status}, nil
}

func (a *ManualAdapter) GetStatus(ctx context.Context, providerJobID string) (*StatusResult, error) {
	if a.http == nil {
		return &StatusResult{Status: "queued"}, nil
	}
	var resp map[string]interface{}
	if err := a.http.doJSON(ctx, http.MethodGet, "/api/v1/review-tasks/"+providerJobID, nil, &resp); err != nil {
		return nil, err
	}
	return &StatusResult{Status: stringField(resp, "status"), Fields: resp}, nil
}

func (a *ManualAdapter) HealthCheck(ctx context.Context) bool {
	if a.http == nil {
		return true
	}
	return a.http.healthy(ctx, "/health")
}
