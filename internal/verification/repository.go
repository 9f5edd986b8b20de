package verification

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository interface {
	Create(ctx context.Context, req *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	GetByExternalJobID(ctx context.Context, externalJobID string) (*Request, error)
	Update(ctx context.Context, req *Request) error

	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]Request, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Request, error)
	ListRetryEligible(ctx context.Context, now time.Time, limit int) ([]Request, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, req *Request) error {
	query := `
		INSERT INTO verification_requests (
			id, document_id, requester_id, organization_id, type, priority, status,
			results, overall, external_job_id, expected_providers, requested_by,
			retry_count, next_retry_at, error_messages, webhook_url, callback_data,
			requested_at, started_at, completed_at, expires_at
		) VALUES (
			:id, :document_id, :requester_id, :organization_id, :type, :priority, :status,
			:results, :overall, :external_job_id, :expected_providers, :requested_by,
			:retry_count, :next_retry_at, :error_messages, :webhook_url, :callback_data,
			:requested_at, :started_at, :completed_at, :expires_at
		)`
	_, err := r.db.NamedExecContext(ctx, query, req)
	return err
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	var req Request
	err := r.db.GetContext(ctx, &req, "SELECT * FROM verification_requests WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &req, err
}

func (r *postgresRepository) GetByExternalJobID(ctx context.Context, externalJobID string) (*Request, error) {
	// external_job_id is unique across non-terminal requests. Hybrid requests
	// hold additional provider job ids inside the results bag, so the lookup
	// also matches those. The newest match covers late webhooks for requests
	// that went terminal meanwhile.
	var req Request
	err := r.db.GetContext(ctx, &req, `
		SELECT * FROM verification_requests
		WHERE external_job_id = $1
		   OR results->'ai_forensics'->>'provider_job_id' = $1
		   OR results->'blockchain'->>'provider_job_id' = $1
		ORDER BY requested_at DESC LIMIT 1`,
		externalJobID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &req, err
}

func (r *postgresRepository) Update(ctx context.Context, req *Request) error {
	// document_id, requester_id and organization_id are immutable after creation.
	query := `
		UPDATE verification_requests SET
			status = :status,
			results = :results,
			overall = :overall,
			external_job_id = :external_job_id,
			retry_count = :retry_count,
			next_retry_at = :next_retry_at,
			error_messages = :error_messages,
			started_at = :started_at,
			completed_at = :completed_at,
			expires_at = :expires_at
		WHERE id = :id`
	_, err := r.db.NamedExecContext(ctx, query, req)
	return err
}

func (r *postgresRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]Request, error) {
	var reqs []Request
	err := r.db.SelectContext(ctx, &reqs,
		"SELECT * FROM verification_requests WHERE document_id = $1 ORDER BY requested_at DESC",
		documentID)
	return reqs, err
}

func (r *postgresRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]Request, error) {
	var reqs []Request
	err := r.db.SelectContext(ctx, &reqs, `
		SELECT * FROM verification_requests
		WHERE status IN ('pending', 'in_progress') AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at ASC LIMIT $2`,
		now, limit)
	return reqs, err
}

func (r *postgresRepository) ListRetryEligible(ctx context.Context, now time.Time, limit int) ([]Request, error) {
	var reqs []Request
	err := r.db.SelectContext(ctx, &reqs, `
		SELECT * FROM verification_requests
		WHERE status = 'pending' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at ASC LIMIT $2`,
		now, limit)
	return reqs, err
}
