package providers

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// BlockchainAdapter submits document hashes to the notarization service.
// Confirmation arrives asynchronously through the blockchain webhook once the
// anchoring transaction settles.
type BlockchainAdapter struct {
	http   *httpClient
	logger *zap.Logger
}

func NewBlockchainAdapter(cfg Config, logger *zap.Logger) *BlockchainAdapter {
	return &BlockchainAdapter{
		http:   newHTTPClient(cfg, logger),
		logger: logger,
	}
}

func (a *BlockchainAdapter) Name() string { return "blockchain" }

func (a *BlockchainAdapter) Submit(ctx context.Context, job Job) (*SubmitResult, error) {
	var resp struct {
		NotarizationID string `json:"notarization_id"`
		Status         string `json:"status"`
		TxHash         string `json:"tx_hash"`
	}
	payload := map[string]interface{}{
		"document_hash": job.ContentHash,
		"reference":     job.VerificationID,
		"callback_url":  job.CallbackURL,
	}
	if err := a.http.doJSON(ctx, http.MethodPost, "/api/v1/notarizations", payload, &resp); err != nil {
		return nil, err
	}
	if resp.NotarizationID == "" {
		return nil, fmt.Errorf("notarization service returned no id")
	}
	fields := map[string]interface{}{}
	if resp.TxHash != "" {
		fields["tx_hash"] = resp.TxHash
	}
	return &SubmitResult{ProviderJobID: resp.NotarizationID, Status: resp.Status, Fields: fields}, nil
}

func (a *BlockchainAdapter) GetStatus(ctx context.Context, providerJobID string) (*StatusResult, error) {
	var resp map[string]interface{}
	if err := a.http.doJSON(ctx, http.MethodGet, "/api/v1/notarizations/"+providerJobID, nil, &resp); err != nil {
		return nil, err
	}
	return &StatusResult{Status: stringField(resp, "status"), Fields: resp}, nil
}

func (a *BlockchainAdapter) HealthCheck(ctx context.Context) bool {
	return a.http.healthy(ctx, "/health")
}
