package providers

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// IPFSAdapter pins document content through the pinning service. Pinning
// answers synchronously: the submit response already carries the CID, so no
// webhook leg exists for this provider.
type IPFSAdapter struct {
	http   *httpClient
	logger *zap.Logger
}

func NewIPFSAdapter(cfg Config, logger *zap.Logger) *IPFSAdapter {
	return &IPFSAdapter{
		http:   newHTTPClient(cfg, logger),
		logger: logger,
	}
}

func (a *IPFSAdapter) Name() string { return "ipfs" }

func (a *IPFSAdapter) Submit(ctx context.Context, job Job) (*SubmitResult, error) {
	var resp struct {
		RequestID  string `json:"request_id"`
		Status     string `json:"status"`
		CID        string `json:"cid"`
		GatewayURL string `json:"gateway_url"`
	}
	payload := map[string]interface{}{
		"source_url":    job.DocumentURL,
		"document_hash": job.ContentHash,
		"name":          job.DocumentID,
	}
	if err := a.http.doJSON(ctx, http.MethodPost, "/api/v1/pins", payload, &resp); err != nil {
		return nil, err
	}
	if resp.CID == "" && resp.RequestID == "" {
		return nil, fmt.Errorf("pinning service returned neither cid nor request id")
	}
	return &SubmitResult{
		ProviderJobID: resp.RequestID,
		Status:        resp.Status,
		Fields: map[string]interface{}{
			"cid":         resp.CID,
			"gateway_url": resp.GatewayURL,
		},
	}, nil
}

func (a *IPFSAdapter) GetStatus(ctx context.Context, providerJobID string) (*StatusResult, error) {
	var resp map[string]interface{}
	if err := a.http.doJSON(ctx, http.MethodGet, "/api/v1/pins/"+providerJobID, nil, &resp); err != nil {
		return nil, err
	}
	return &StatusResult{Status: stringField(resp, "status"), Fields: resp}, nil
}

func (a *IPFSAdapter) HealthCheck(ctx context.Context) bool {
	return a.http.healthy(ctx, "/health")
}
