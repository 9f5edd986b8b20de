package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"veridoc/verification-backend/internal/documents"
	"veridoc/verification-backend/internal/verification"
)

const testSecret = "test-secret"

// stubRepo is an in-memory verification.Repository for HTTP-level tests.
type stubRepo struct {
	rows map[uuid.UUID]*verification.Request
}

func newStubRepo() *stubRepo {
	return &stubRepo{rows: make(map[uuid.UUID]*verification.Request)}
}

func (r *stubRepo) Create(_ context.Context, req *verification.Request) error {
	cp := *req
	r.rows[req.ID] = &cp
	return nil
}

func (r *stubRepo) GetByID(_ context.Context, id uuid.UUID) (*verification.Request, error) {
	if req, ok := r.rows[id]; ok {
		cp := *req
		return &cp, nil
	}
	return nil, nil
}

func (r *stubRepo) GetByExternalJobID(_ context.Context, jobID string) (*verification.Request, error) {
	for _, req := range r.rows {
		if req.ExternalJobID != nil && *req.ExternalJobID == jobID {
			cp := *req
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) Update(_ context.Context, req *verification.Request) error {
	cp := *req
	r.rows[req.ID] = &cp
	return nil
}

func (r *stubRepo) ListByDocument(_ context.Context, documentID uuid.UUID) ([]verification.Request, error) {
	var out []verification.Request
	for _, req := range r.rows {
		if req.DocumentID == documentID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *stubRepo) ListExpired(_ context.Context, _ time.Time, _ int) ([]verification.Request, error) {
	return nil, nil
}

func (r *stubRepo) ListRetryEligible(_ context.Context, _ time.Time, _ int) ([]verification.Request, error) {
	return nil, nil
}

type stubDocs struct {
	docs map[uuid.UUID]*documents.Document
}

func (s *stubDocs) FindByID(_ context.Context, id uuid.UUID) (*documents.Document, error) {
	return s.docs[id], nil
}

type testEnv struct {
	router *gin.Engine
	repo   *stubRepo
	docs   *stubDocs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := newStubRepo()
	docs := &stubDocs{docs: make(map[uuid.UUID]*documents.Document)}
	logger := zap.NewNop()

	orchestrator := verification.NewOrchestrator(repo, docs, nil, nil, verification.Config{
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  time.Millisecond,
		RequestTTL:     time.Hour,
	}, logger)
	t.Cleanup(orchestrator.Close)
	correlator := verification.NewCorrelator(orchestrator, logger)

	handler := NewHandler(orchestrator, correlator, nil, testSecret, 1000, 1000, logger)
	router := gin.New()
	handler.RegisterRoutes(router.Group("/api/v1"))

	return &testEnv{router: router, repo: repo, docs: docs}
}

func signToken(t *testing.T, userID uuid.UUID, org *uuid.UUID, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": userID.String(),
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	if org != nil {
		claims["organization_id"] = org.String()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func doRequest(env *testEnv, method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWebhookUnknownProviderRejected(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(env, http.MethodPost, "/api/v1/verification/webhooks/carrier-pigeon", "", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_argument", resp.Error.Code)
}

func TestWebhookMalformedPayloadAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(env, http.MethodPost, "/api/v1/verification/webhooks/ai-forensics", "", `{broken`)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
}

func TestWebhookUnknownJobAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	body := `{"job_id":"no-such-job","status":"completed","authenticity_score":90,"tampering_probability":5}`
	rec := doRequest(env, http.MethodPost, "/api/v1/verification/webhooks/ai-forensics", "", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
}

func TestWebhookFinalizesRequest(t *testing.T) {
	env := newTestEnv(t)
	jobID := "job-42"
	req := &verification.Request{
		ID:                uuid.New(),
		DocumentID:        uuid.New(),
		RequesterID:       uuid.New(),
		Status:            verification.StatusInProgress,
		ExpectedProviders: []string{"ai_forensics"},
		ExternalJobID:     &jobID,
	}
	require.NoError(t, env.repo.Create(context.Background(), req))

	body := `{"job_id":"job-42","status":"completed","authenticity_score":95,"tampering_probability":2}`
	rec := doRequest(env, http.MethodPost, "/api/v1/verification/webhooks/ai-forensics", "", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	stored, err := env.repo.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, verification.StatusCompleted, stored.Status)
	require.NotNil(t, stored.Overall)
	assert.Equal(t, verification.VerdictAuthentic, stored.Overall.Verdict)
}

func TestStatusRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(env, http.MethodGet, "/api/v1/verification/"+uuid.NewString()+"/status", "", "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.False(t, resp.Success)
}

func TestStatusRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(env, http.MethodGet, "/api/v1/verification/"+uuid.NewString()+"/status", "not-a-jwt", "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatusVisibleToRequester(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()
	req := &verification.Request{
		ID:                uuid.New(),
		DocumentID:        uuid.New(),
		RequesterID:       userID,
		Status:            verification.StatusInProgress,
		ExpectedProviders: []string{"ai_forensics"},
	}
	require.NoError(t, env.repo.Create(context.Background(), req))

	token := signToken(t, userID, nil, "member")
	rec := doRequest(env, http.MethodGet, "/api/v1/verification/"+req.ID.String()+"/status", token, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
}

func TestStatusHiddenFromStranger(t *testing.T) {
	env := newTestEnv(t)
	req := &verification.Request{
		ID:          uuid.New(),
		DocumentID:  uuid.New(),
		RequesterID: uuid.New(),
		Status:      verification.StatusInProgress,
	}
	require.NoError(t, env.repo.Create(context.Background(), req))

	token := signToken(t, uuid.New(), nil, "member")
	rec := doRequest(env, http.MethodGet, "/api/v1/verification/"+req.ID.String()+"/status", token, "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatusUnknownIDIsNotFound(t *testing.T) {
	env := newTestEnv(t)

	token := signToken(t, uuid.New(), nil, "member")
	rec := doRequest(env, http.MethodGet, "/api/v1/verification/"+uuid.NewString()+"/status", token, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestResultsRejectUnfinishedVerification(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()
	req := &verification.Request{
		ID:          uuid.New(),
		DocumentID:  uuid.New(),
		RequesterID: userID,
		Status:      verification.StatusInProgress,
	}
	require.NoError(t, env.repo.Create(context.Background(), req))

	token := signToken(t, userID, nil, "member")
	rec := doRequest(env, http.MethodGet, "/api/v1/verification/"+req.ID.String()+"/results", token, "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_state", resp.Error.Code)
}

func TestCancelTerminalConflicts(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()
	req := &verification.Request{
		ID:          uuid.New(),
		DocumentID:  uuid.New(),
		RequesterID: userID,
		Status:      verification.StatusCompleted,
	}
	require.NoError(t, env.repo.Create(context.Background(), req))

	token := signToken(t, userID, nil, "member")
	rec := doRequest(env, http.MethodPost, "/api/v1/verification/"+req.ID.String()+"/cancel", token, "")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWebhookRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := newStubRepo()
	docs := &stubDocs{docs: make(map[uuid.UUID]*documents.Document)}
	logger := zap.NewNop()
	orchestrator := verification.NewOrchestrator(repo, docs, nil, nil, verification.Config{RequestTTL: time.Hour}, logger)
	t.Cleanup(orchestrator.Close)
	correlator := verification.NewCorrelator(orchestrator, logger)

	handler := NewHandler(orchestrator, correlator, nil, testSecret, 0.001, 1, logger)
	router := gin.New()
	handler.RegisterRoutes(router.Group("/api/v1"))
	env := &testEnv{router: router, repo: repo, docs: docs}

	body := `{"job_id":"no-such-job","status":"completed"}`
	first := doRequest(env, http.MethodPost, "/api/v1/verification/webhooks/ai-forensics", "", body)
	second := doRequest(env, http.MethodPost, "/api/v1/verification/webhooks/ai-forensics", "", body)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	resp := decodeEnvelope(t, second)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "rate_limited", resp.Error.Code)
}
