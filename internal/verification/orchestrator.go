package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"veridoc/verification-backend/internal/documents"
	"veridoc/verification-backend/internal/events"
	"veridoc/verification-backend/internal/verification/providers"
	"veridoc/verification-backend/pkg/workflows"
)

// Caller identifies the authenticated principal performing an operation.
type Caller struct {
	UserID         uuid.UUID
	OrganizationID *uuid.UUID
	Role           string
}

// hasOrgAuthority reports whether the caller can act on requests of an
// organization it belongs to.
func (c Caller) hasOrgAuthority(orgID *uuid.UUID) bool {
	if orgID == nil || c.OrganizationID == nil {
		return false
	}
	if *c.OrganizationID != *orgID {
		return false
	}
	return c.Role == "admin" || c.Role == "org_admin"
}

// CanView reports whether the caller may read this request.
func (r *Request) CanView(c Caller) bool {
	return r.RequesterID == c.UserID || sameOrg(r.OrganizationID, c.OrganizationID)
}

// StartOptions carries the optional fields of a verify request.
type StartOptions struct {
	WebhookURL    *string
	CallbackData  json.RawMessage
	IncludeManual bool
	ExpiresIn     time.Duration
}

// ResultRef addresses a request either by its own id or by the provider job
// id a webhook carries.
type ResultRef struct {
	ID            *uuid.UUID
	ExternalJobID string
}

// Config is the orchestration policy.
type Config struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RequestTTL     time.Duration
	// WebhookBaseURL is this system's public base URL, handed to providers
	// as the callback target.
	WebhookBaseURL string
}

// Orchestrator drives the verification state machine: it creates requests,
// dispatches provider jobs, applies partial results, and emits lifecycle
// events. All mutations of a single request are serialized by a per-id lock.
type Orchestrator struct {
	repo        Repository
	docs        documents.Store
	adapters    map[Type]providers.Adapter
	broadcaster *events.Broadcaster
	sm          *workflows.StateMachine
	cfg         Config
	logger      *zap.Logger
	locks       *keyedLocks
	notify      *http.Client
	stop        chan struct{}

	// Tracks in-flight dispatch loops so the sweeper cannot start a
	// duplicate retry loop for a request this process already owns.
	dispatchMu     sync.Mutex
	activeDispatch map[uuid.UUID]bool
}

func NewOrchestrator(
	repo Repository,
	docs documents.Store,
	adapters map[Type]providers.Adapter,
	broadcaster *events.Broadcaster,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 5 * time.Second
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 2 * time.Minute
	}
	if cfg.RequestTTL == 0 {
		cfg.RequestTTL = 30 * time.Minute
	}
	return &Orchestrator{
		repo:        repo,
		docs:        docs,
		adapters:    adapters,
		broadcaster: broadcaster,
		sm: workflows.NewStateMachine(map[string][]string{
			string(StatusPending):    {string(StatusInProgress), string(StatusFailed), string(StatusCancelled)},
			string(StatusInProgress): {string(StatusCompleted), string(StatusFailed), string(StatusCancelled)},
			string(StatusCompleted):  {},
			string(StatusFailed):     {},
			string(StatusCancelled):  {},
		}),
		cfg:            cfg,
		logger:         logger,
		locks:          newKeyedLocks(),
		notify:         &http.Client{Timeout: 10 * time.Second},
		stop:           make(chan struct{}),
		activeDispatch: make(map[uuid.UUID]bool),
	}
}

// expectedProvidersFor maps a verification type to the provider fan-out set.
func expectedProvidersFor(t Type, includeManual bool) []Type {
	switch t {
	case TypeHybrid:
		set := []Type{TypeAIForensics, TypeBlockchain, TypeIPFS}
		if includeManual {
			set = append(set, TypeManual)
		}
		return set
	default:
		return []Type{t}
	}
}

// Start validates access, creates the request in pending, kicks off dispatch
// in the background, and returns without waiting for any provider.
func (o *Orchestrator) Start(ctx context.Context, documentID uuid.UUID, caller Caller, vtype Type, priority Priority, opts StartOptions) (*Request, error) {
	for _, pt := range expectedProvidersFor(vtype, opts.IncludeManual) {
		if _, ok := o.adapters[pt]; !ok {
			return nil, NewError(CodeInvalidArgument, "unsupported verification type %q", vtype)
		}
	}

	doc, err := o.docs.FindByID(ctx, documentID)
	if err != nil {
		return nil, WrapError(CodeInternal, err, "document lookup failed")
	}
	if doc == nil {
		return nil, NewError(CodeNotFound, "document %s not found", documentID)
	}
	if doc.OwnerID != caller.UserID && !sameOrg(doc.OrganizationID, caller.OrganizationID) {
		return nil, NewError(CodeForbidden, "requester has no access to document %s", documentID)
	}

	now := time.Now()
	ttl := opts.ExpiresIn
	if ttl <= 0 {
		ttl = o.cfg.RequestTTL
	}
	expiresAt := now.Add(ttl)

	expected := expectedProvidersFor(vtype, opts.IncludeManual)
	expectedNames := make([]string, len(expected))
	for i, t := range expected {
		expectedNames[i] = string(t)
	}

	req := &Request{
		ID:                uuid.New(),
		DocumentID:        documentID,
		RequesterID:       caller.UserID,
		OrganizationID:    doc.OrganizationID,
		Type:              vtype,
		Priority:          priority,
		Status:            StatusPending,
		ExpectedProviders: expectedNames,
		RequestedBy:       caller.UserID.String(),
		ErrorMessages:     []string{},
		WebhookURL:        opts.WebhookURL,
		CallbackData:      opts.CallbackData,
		RequestedAt:       now,
		StartedAt:         now,
		ExpiresAt:         &expiresAt,
	}

	if err := o.repo.Create(ctx, req); err != nil {
		return nil, WrapError(CodeInternal, err, "failed to persist verification request")
	}

	o.logger.Info("verification started",
		zap.String("verification_id", req.ID.String()),
		zap.String("document_id", documentID.String()),
		zap.String("type", string(vtype)),
		zap.String("priority", string(priority)))

	go o.dispatch(req.ID)

	return req, nil
}

func sameOrg(a, b *uuid.UUID) bool {
	return a != nil && b != nil && *a == *b
}

// dispatch submits the request to its providers, retrying with exponential
// backoff. Retry state is persisted on the row so a restarted process can
// resume through the sweeper.
func (o *Orchestrator) dispatch(id uuid.UUID) {
	o.dispatchMu.Lock()
	if o.activeDispatch[id] {
		o.dispatchMu.Unlock()
		return
	}
	o.activeDispatch[id] = true
	o.dispatchMu.Unlock()
	defer func() {
		o.dispatchMu.Lock()
		delete(o.activeDispatch, id)
		o.dispatchMu.Unlock()
	}()

	for {
		delay, done := o.dispatchOnce(id)
		if done {
			return
		}
		select {
		case <-time.After(delay):
		case <-o.stop:
			return
		}
	}
}

// dispatchOnce performs one submission attempt under the per-id lock. It
// returns the backoff delay before the next attempt, or done=true when the
// request needs no further dispatch work.
func (o *Orchestrator) dispatchOnce(id uuid.UUID) (time.Duration, bool) {
	unlock := o.locks.lock(id)
	defer unlock()

	ctx := context.Background()
	req, err := o.repo.GetByID(ctx, id)
	if err != nil || req == nil {
		o.logger.Error("dispatch: failed to load request", zap.String("verification_id", id.String()), zap.Error(err))
		return 0, true
	}
	if req.Status.IsTerminal() {
		return 0, true
	}

	var contentHash, documentURL string
	if doc, err := o.docs.FindByID(ctx, req.DocumentID); err == nil && doc != nil {
		contentHash = doc.ContentHash
		documentURL = doc.StorageURL
	}

	var submitErrs []string
	for _, pt := range req.ExpectedTypes() {
		if req.Results.statusFor(pt) != "" {
			continue // already submitted or reported
		}
		adapter := o.adapters[pt]
		result, err := adapter.Submit(ctx, providers.Job{
			VerificationID: req.ID.String(),
			DocumentID:     req.DocumentID.String(),
			DocumentURL:    documentURL,
			ContentHash:    contentHash,
			Priority:       string(req.Priority),
			CallbackURL:    o.callbackURLFor(adapter.Name()),
		})
		if err != nil {
			submitErrs = append(submitErrs, fmt.Sprintf("%s: %v", adapter.Name(), err))
			o.logger.Warn("provider dispatch failed",
				zap.String("verification_id", req.ID.String()),
				zap.String("provider", adapter.Name()),
				zap.Error(err))
			continue
		}
		o.recordSubmission(req, pt, result)
	}

	if len(submitErrs) > 0 {
		req.RetryCount++
		req.ErrorMessages = append(req.ErrorMessages, strings.Join(submitErrs, "; "))
		if req.RetryCount >= o.cfg.MaxRetries {
			o.finalize(req, StatusFailed)
			if err := o.repo.Update(ctx, req); err != nil {
				o.logger.Error("dispatch: failed to persist exhausted request", zap.Error(err))
			}
			o.publish(req, events.KindFailed, map[string]interface{}{
				"status": req.Status,
				"error":  "retries exhausted",
			})
			return 0, true
		}
		delay := o.backoff(req.RetryCount)
		next := time.Now().Add(delay)
		req.NextRetryAt = &next
		if err := o.repo.Update(ctx, req); err != nil {
			o.logger.Error("dispatch: failed to persist retry state", zap.Error(err))
		}
		return delay, false
	}

	// Every provider accepted the job.
	req.NextRetryAt = nil
	if req.Status == StatusPending && o.sm.CanTransition(string(req.Status), string(StatusInProgress)) {
		req.Status = StatusInProgress
	}
	if req.AllReported() {
		// Synchronous providers (IPFS pinning) can complete a request at
		// dispatch time.
		o.settle(req)
	}
	if err := o.repo.Update(ctx, req); err != nil {
		o.logger.Error("dispatch: failed to persist request", zap.Error(err))
		return 0, true
	}
	o.publish(req, events.KindStarted, map[string]interface{}{
		"status":   req.Status,
		"progress": req.Progress(),
	})
	if req.Status.IsTerminal() {
		o.publishTerminal(req)
		o.notifyCaller(req)
	}
	return 0, true
}

// recordSubmission writes the provider acknowledgment into the results bag.
func (o *Orchestrator) recordSubmission(req *Request, pt Type, result *providers.SubmitResult) {
	if req.ExternalJobID == nil && result.ProviderJobID != "" {
		jobID := result.ProviderJobID
		req.ExternalJobID = &jobID
	}
	switch pt {
	case TypeAIForensics:
		req.Results.Merge(ResultBag{AIForensics: &AIForensicsResult{
			Status:        ProviderStatusProcessing,
			ProviderJobID: result.ProviderJobID,
			ReportedAt:    time.Now(),
		}})
	case TypeBlockchain:
		req.Results.Merge(ResultBag{Blockchain: &BlockchainResult{
			Status:        ProviderStatusProcessing,
			ProviderJobID: result.ProviderJobID,
			TxHash:        stringFromFields(result.Fields, "tx_hash"),
		}})
	case TypeIPFS:
		cid := stringFromFields(result.Fields, "cid")
		req.Results.Merge(ResultBag{IPFS: &IPFSResult{
			Status:     ProviderStatusCompleted,
			Pinned:     cid != "",
			CID:        cid,
			GatewayURL: stringFromFields(result.Fields, "gateway_url"),
		}})
	case TypeManual:
		req.Results.Merge(ResultBag{Manual: &ManualResult{
			Status: ProviderStatusProcessing,
		}})
	}
}

func stringFromFields(fields map[string]interface{}, key string) string {
	if fields == nil {
		return ""
	}
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func (o *Orchestrator) callbackURLFor(provider string) string {
	if o.cfg.WebhookBaseURL == "" {
		return ""
	}
	return strings.TrimRight(o.cfg.WebhookBaseURL, "/") + "/api/v1/verification/webhooks/" + provider
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := o.cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= o.cfg.RetryMaxDelay {
			return o.cfg.RetryMaxDelay
		}
	}
	if delay > o.cfg.RetryMaxDelay {
		delay = o.cfg.RetryMaxDelay
	}
	return delay
}

// ApplyResult merges a partial provider result into the request and, when all
// expected providers have reported, finalizes it through the scoring engine.
// Idempotent: reapplying a result to a terminal request is a logged no-op.
func (o *Orchestrator) ApplyResult(ctx context.Context, ref ResultRef, partial ResultBag, errMsg string) error {
	req, err := o.resolve(ctx, ref)
	if err != nil {
		return err
	}
	if req == nil {
		return NewError(CodeNotFound, "no verification request matches the result reference")
	}

	unlock := o.locks.lock(req.ID)
	defer unlock()

	// Reload under the lock: another writer may have finalized it.
	req, err = o.repo.GetByID(ctx, req.ID)
	if err != nil || req == nil {
		return WrapError(CodeInternal, err, "failed to reload request")
	}

	if req.Status == StatusCancelled {
		// Late provider result for a cancelled request: kept for audit,
		// status and overall stay untouched, no event.
		req.Results.Merge(partial)
		if err := o.repo.Update(ctx, req); err != nil {
			return WrapError(CodeInternal, err, "failed to record late result")
		}
		o.logger.Info("late result recorded for cancelled request",
			zap.String("verification_id", req.ID.String()))
		return nil
	}
	if req.Status.IsTerminal() {
		o.logger.Info("result for terminal request ignored",
			zap.String("verification_id", req.ID.String()),
			zap.String("status", string(req.Status)))
		return nil
	}

	req.Results.Merge(partial)
	if errMsg != "" {
		req.ErrorMessages = append(req.ErrorMessages, errMsg)
	}
	if req.Status == StatusPending {
		req.Status = StatusInProgress
	}

	finalized := false
	if req.AllReported() {
		o.settle(req)
		finalized = true
	}

	if err := o.repo.Update(ctx, req); err != nil {
		return WrapError(CodeInternal, err, "failed to persist result")
	}

	if finalized {
		o.publishTerminal(req)
		o.notifyCaller(req)
	} else {
		o.publish(req, events.KindStatusUpdate, map[string]interface{}{
			"status":   req.Status,
			"progress": req.Progress(),
		})
	}
	return nil
}

// settle moves a fully-reported request to its terminal state and derives the
// overall verdict.
func (o *Orchestrator) settle(req *Request) {
	if req.AllFailed() {
		o.finalize(req, StatusFailed)
		return
	}
	overall := Score(req.Results)
	req.Overall = &overall
	o.finalize(req, StatusCompleted)
}

// finalize stamps a terminal status. overall stays nil unless completed.
func (o *Orchestrator) finalize(req *Request, status Status) {
	if !o.sm.CanTransition(string(req.Status), string(status)) {
		return
	}
	now := time.Now()
	req.Status = status
	req.CompletedAt = &now
	req.NextRetryAt = nil
	if status != StatusCompleted {
		req.Overall = nil
	}
}

func (o *Orchestrator) resolve(ctx context.Context, ref ResultRef) (*Request, error) {
	if ref.ID != nil {
		req, err := o.repo.GetByID(ctx, *ref.ID)
		if err != nil {
			return nil, WrapError(CodeInternal, err, "failed to load request")
		}
		return req, nil
	}
	if ref.ExternalJobID != "" {
		req, err := o.repo.GetByExternalJobID(ctx, ref.ExternalJobID)
		if err != nil {
			return nil, WrapError(CodeInternal, err, "failed to look up external job id")
		}
		return req, nil
	}
	return nil, NewError(CodeInvalidArgument, "result reference carries neither id nor external job id")
}

// Cancel marks a pending or in-progress request cancelled. Only the owner or
// an organization admin may cancel. Work already handed to providers is not
// aborted; late webhooks are kept for audit.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID, caller Caller) error {
	unlock := o.locks.lock(id)
	defer unlock()

	req, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return WrapError(CodeInternal, err, "failed to load request")
	}
	if req == nil {
		return NewError(CodeNotFound, "verification request %s not found", id)
	}
	if req.RequesterID != caller.UserID && !caller.hasOrgAuthority(req.OrganizationID) {
		return NewError(CodeForbidden, "caller may not cancel verification %s", id)
	}
	if req.Status.IsTerminal() {
		return NewError(CodeInvalidState, "cannot cancel a %s verification", req.Status)
	}

	o.finalize(req, StatusCancelled)
	if err := o.repo.Update(ctx, req); err != nil {
		return WrapError(CodeInternal, err, "failed to persist cancellation")
	}

	o.logger.Info("verification cancelled",
		zap.String("verification_id", id.String()),
		zap.String("cancelled_by", caller.UserID.String()))
	o.publish(req, events.KindStatusUpdate, map[string]interface{}{
		"status": req.Status,
	})
	o.notifyCaller(req)
	return nil
}

// Get loads one request.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, WrapError(CodeInternal, err, "failed to load request")
	}
	if req == nil {
		return nil, NewError(CodeNotFound, "verification request %s not found", id)
	}
	return req, nil
}

// GetStatus returns the live status projection.
func (o *Orchestrator) GetStatus(ctx context.Context, id uuid.UUID) (*StatusView, error) {
	req, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		ID:       req.ID,
		Status:   req.Status,
		Progress: req.Progress(),
		Results:  req.Results,
		Overall:  req.Overall,
		Error:    strings.Join(req.ErrorMessages, "; "),
	}, nil
}

// History lists all verification requests for a document, newest first.
func (o *Orchestrator) History(ctx context.Context, documentID uuid.UUID, caller Caller) ([]Request, error) {
	doc, err := o.docs.FindByID(ctx, documentID)
	if err != nil {
		return nil, WrapError(CodeInternal, err, "document lookup failed")
	}
	if doc == nil {
		return nil, NewError(CodeNotFound, "document %s not found", documentID)
	}
	if doc.OwnerID != caller.UserID && !sameOrg(doc.OrganizationID, caller.OrganizationID) {
		return nil, NewError(CodeForbidden, "caller has no access to document %s", documentID)
	}
	reqs, err := o.repo.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, WrapError(CodeInternal, err, "failed to list history")
	}
	return reqs, nil
}

// SubmitReview records a manual review decision through the same path as
// provider results.
func (o *Orchestrator) SubmitReview(ctx context.Context, id uuid.UUID, reviewer Caller, decision, notes string) error {
	switch decision {
	case DecisionApproved, DecisionRejected, DecisionNeedsInfo:
	default:
		return NewError(CodeInvalidArgument, "unsupported review decision %q", decision)
	}
	partial := ResultBag{Manual: &ManualResult{
		Status:     ProviderStatusCompleted,
		Decision:   decision,
		ReviewerID: reviewer.UserID.String(),
		Notes:      notes,
	}}
	return o.ApplyResult(ctx, ResultRef{ID: &id}, partial, "")
}

// Expire forces a stalled request to failed when no retries remain. Requests
// still holding an eligible retry are left to the dispatch path.
func (o *Orchestrator) Expire(ctx context.Context, id uuid.UUID, now time.Time) error {
	unlock := o.locks.lock(id)
	defer unlock()

	req, err := o.repo.GetByID(ctx, id)
	if err != nil || req == nil {
		return err
	}
	if req.Status.IsTerminal() {
		return nil
	}
	if req.ExpiresAt == nil || req.ExpiresAt.After(now) {
		return nil
	}
	if req.Status == StatusPending && req.RetryCount < o.cfg.MaxRetries && req.NextRetryAt != nil {
		// The dispatch retry path still owns this request.
		return nil
	}

	req.ErrorMessages = append(req.ErrorMessages, "expired")
	o.finalize(req, StatusFailed)
	if err := o.repo.Update(ctx, req); err != nil {
		return WrapError(CodeInternal, err, "failed to persist expiry")
	}

	o.logger.Info("verification expired",
		zap.String("verification_id", req.ID.String()))
	o.publish(req, events.KindFailed, map[string]interface{}{
		"status": req.Status,
		"error":  "expired",
	})
	o.notifyCaller(req)
	return nil
}

// Redispatch resumes the dispatch loop for a request whose persisted retry
// state became eligible (e.g. after a restart).
func (o *Orchestrator) Redispatch(id uuid.UUID) {
	go o.dispatch(id)
}

// ProviderHealth runs each adapter's health check.
func (o *Orchestrator) ProviderHealth(ctx context.Context) map[string]bool {
	health := make(map[string]bool, len(o.adapters))
	for _, adapter := range o.adapters {
		health[adapter.Name()] = adapter.HealthCheck(ctx)
	}
	return health
}

// Close stops background dispatch loops.
func (o *Orchestrator) Close() {
	close(o.stop)
}

func (o *Orchestrator) publish(req *Request, kind events.Kind, data map[string]interface{}) {
	if o.broadcaster == nil {
		return
	}
	orgID := ""
	if req.OrganizationID != nil {
		orgID = req.OrganizationID.String()
	}
	o.broadcaster.Publish(events.Event{
		Kind:           kind,
		VerificationID: req.ID.String(),
		DocumentID:     req.DocumentID.String(),
		UserID:         req.RequesterID.String(),
		OrganizationID: orgID,
		Data:           data,
		Timestamp:      time.Now(),
	})
}

func (o *Orchestrator) publishTerminal(req *Request) {
	kind := events.KindCompleted
	data := map[string]interface{}{"status": req.Status}
	if req.Status == StatusFailed {
		kind = events.KindFailed
		data["error"] = strings.Join(req.ErrorMessages, "; ")
	} else if req.Overall != nil {
		data["score"] = req.Overall.Score
		data["verdict"] = req.Overall.Verdict
	}
	o.publish(req, kind, data)
}

// notifyCaller POSTs the terminal envelope to the caller's own webhook,
// best-effort. callback_data is echoed back but never logged.
func (o *Orchestrator) notifyCaller(req *Request) {
	if req.WebhookURL == nil || *req.WebhookURL == "" {
		return
	}
	payload := map[string]interface{}{
		"verification_id": req.ID,
		"document_id":     req.DocumentID,
		"status":          req.Status,
		"overall":         req.Overall,
	}
	if len(req.CallbackData) > 0 {
		payload["callback_data"] = json.RawMessage(req.CallbackData)
	}
	url := *req.WebhookURL
	go func() {
		body, err := json.Marshal(payload)
		if err != nil {
			return
		}
		resp, err := o.notify.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			o.logger.Warn("caller webhook delivery failed",
				zap.String("verification_id", req.ID.String()),
				zap.Error(err))
			return
		}
		resp.Body.Close()
	}()
}

// keyedLocks serializes mutations per request id.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[uuid.UUID]*lockEntry)}
}

// lock acquires the mutex for id and returns its release func. Entries are
// reference counted so the map does not grow with finished requests.
func (k *keyedLocks) lock(id uuid.UUID) func() {
	k.mu.Lock()
	entry, ok := k.locks[id]
	if !ok {
		entry = &lockEntry{}
		k.locks[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
