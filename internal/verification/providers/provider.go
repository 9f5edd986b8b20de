package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Job is the dispatch payload handed to an external provider.
type Job struct {
	VerificationID string `json:"verification_id"`
	DocumentID     string `json:"document_id"`
	DocumentURL    string `json:"document_url,omitempty"`
	ContentHash    string `json:"content_hash,omitempty"`
	Priority       string `json:"priority,omitempty"`
	// CallbackURL is this system's webhook endpoint for the provider.
	CallbackURL string `json:"callback_url,omitempty"`
}

// SubmitResult is a provider's acknowledgment of a dispatched job. Providers
// that answer synchronously carry their result in Fields.
type SubmitResult struct {
	ProviderJobID string
	Status        string
	Fields        map[string]interface{}
}

// StatusResult is a provider's answer to a status poll.
type StatusResult struct {
	Status string
	Fields map[string]interface{}
}

// Adapter wraps one external provider's request/response contract.
type Adapter interface {
	Name() string
	Submit(ctx context.Context, job Job) (*SubmitResult, error)
	GetStatus(ctx context.Context, providerJobID string) (*StatusResult, error)
	HealthCheck(ctx context.Context) bool
}

// Config holds one provider endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// httpClient is the shared bearer-authenticated JSON transport.
type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func newHTTPClient(cfg Config, logger *zap.Logger) *httpClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &httpClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *httpClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(payload))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}
	return nil
}

func (c *httpClient) healthy(ctx context.Context, path string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func stringField(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}
