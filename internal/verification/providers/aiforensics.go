package providers

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// AIForensicsAdapter submits documents to the forensic analysis service.
// Analysis is asynchronous: the submit call returns a job id and the provider
// reports completion through the ai-forensics webhook.
type AIForensicsAdapter struct {
	http   *httpClient
	logger *zap.Logger
}

func NewAIForensicsAdapter(cfg Config, logger *zap.Logger) *AIForensicsAdapter {
	return &AIForensicsAdapter{
		http:   newHTTPClient(cfg, logger),
		logger: logger,
	}
}

func (a *AIForensicsAdapter) Name() string { return "ai-forensics" }

func (a *AIForensicsAdapter) Submit(ctx context.Context, job Job) (*SubmitResult, error) {
	var resp struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	payload := map[string]interface{}{
		"document_url":  job.DocumentURL,
		"document_hash": job.ContentHash,
		"priority":      job.Priority,
		"callback_url":  job.CallbackURL,
	}
	if err := a.http.doJSON(ctx, http.MethodPost, "/api/v1/analyze", payload, &resp); err != nil {
		return nil, err
	}
	if resp.JobID == "" {
		return nil, fmt.Errorf("ai-forensics returned no job id")
	}
	return &SubmitResult{ProviderJobID: resp.JobID, Status: resp.Status}, nil
}

func (a *AIForensicsAdapter) GetStatus(ctx context.Context, providerJobID string) (*StatusResult, error) {
	var resp map[string]interface{}
	if err := a.http.doJSON(ctx, http.MethodGet, "/api/v1/jobs/"+providerJobID, nil, &resp); err != nil {
		return nil, err
	}
	return &StatusResult{Status: stringField(resp, "status"), Fields: resp}, nil
}

func (a *AIForensicsAdapter) HealthCheck(ctx context.Context) bool {
	return a.http.healthy(ctx, "/health")
}
