package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// StatusCount is one status bucket.
type StatusCount struct {
	Status string `db:"status" json:"status"`
	Count  int64  `db:"count" json:"count"`
}

// TypeCount is one verification-type bucket.
type TypeCount struct {
	Type  string `db:"type" json:"type"`
	Count int64  `db:"count" json:"count"`
}

// PriorityCount is one priority bucket.
type PriorityCount struct {
	Priority string `db:"priority" json:"priority"`
	Count    int64  `db:"count" json:"count"`
}

// DurationStats summarizes completion latency over a window.
type DurationStats struct {
	MeanSeconds float64 `db:"mean_seconds" json:"mean_seconds"`
	P50Seconds  float64 `db:"p50_seconds" json:"p50_seconds"`
	P95Seconds  float64 `db:"p95_seconds" json:"p95_seconds"`
	MaxSeconds  float64 `db:"max_seconds" json:"max_seconds"`
}

// TrendPoint is one time bucket of a trend series.
type TrendPoint struct {
	Bucket    time.Time `db:"bucket" json:"bucket"`
	Total     int64     `db:"total" json:"total"`
	Completed int64     `db:"completed" json:"completed"`
	Failed    int64     `db:"failed" json:"failed"`
}

// Repository computes verification aggregates straight from the store. A nil
// orgID means no organization scoping.
type Repository interface {
	CountByStatus(ctx context.Context, from, to time.Time, orgID *uuid.UUID) ([]StatusCount, error)
	CountByType(ctx context.Context, from, to time.Time, orgID *uuid.UUID) ([]TypeCount, error)
	CountByPriority(ctx context.Context, from, to time.Time, orgID *uuid.UUID) ([]PriorityCount, error)
	Durations(ctx context.Context, from, to time.Time, orgID *uuid.UUID) (*DurationStats, error)
	Trend(ctx context.Context, from, to time.Time, orgID *uuid.UUID, interval string) ([]TrendPoint, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) CountByStatus(ctx context.Context, from, to time.Time, orgID *uuid.UUID) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.SelectContext(ctx, &counts, `
		SELECT status, COUNT(*) AS count
		FROM verification_requests
		WHERE requested_at >= $1 AND requested_at < $2
		  AND ($3::uuid IS NULL OR organization_id = $3)
		GROUP BY status ORDER BY status`,
		from, to, orgID)
	return counts, err
}

func (r *postgresRepository) CountByType(ctx context.Context, from, to time.Time, orgID *uuid.UUID) ([]TypeCount, error) {
	var counts []TypeCount
	err := r.db.SelectContext(ctx, &counts, `
		SELECT type, COUNT(*) AS count
		FROM verification_requests
		WHERE requested_at >= $1 AND requested_at < $2
		  AND ($3::uuid IS NULL OR organization_id = $3)
		GROUP BY type ORDER BY type`,
		from, to, orgID)
	return counts, err
}

func (r *postgresRepository) CountByPriority(ctx context.Context, from, to time.Time, orgID *uuid.UUID) ([]PriorityCount, error) {
	var counts []PriorityCount
	err := r.db.SelectContext(ctx, &counts, `
		SELECT priority, COUNT(*) AS count
		FROM verification_requests
		WHERE requested_at >= $1 AND requested_at < $2
		  AND ($3::uuid IS NULL OR organization_id = $3)
		GROUP BY priority ORDER BY priority`,
		from, to, orgID)
	return counts, err
}

func (r *postgresRepository) Durations(ctx context.Context, from, to time.Time, orgID *uuid.UUID) (*DurationStats, error) {
	var stats DurationStats
	err := r.db.GetContext(ctx, &stats, `
		SELECT
			COALESCE(AVG(EXTRACT(EPOCH FROM completed_at - requested_at)), 0)  AS mean_seconds,
			COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY EXTRACT(EPOCH FROM completed_at - requested_at)), 0) AS p50_seconds,
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY EXTRACT(EPOCH FROM completed_at - requested_at)), 0) AS p95_seconds,
			COALESCE(MAX(EXTRACT(EPOCH FROM completed_at - requested_at)), 0)  AS max_seconds
		FROM verification_requests
		WHERE status = 'completed'
		  AND completed_at IS NOT NULL
		  AND requested_at >= $1 AND requested_at < $2
		  AND ($3::uuid IS NULL OR organization_id = $3)`,
		from, to, orgID)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *postgresRepository) Trend(ctx context.Context, from, to time.Time, orgID *uuid.UUID, interval string) ([]TrendPoint, error) {
	// interval is validated upstream to day/week/month; never user input here.
	var points []TrendPoint
	err := r.db.SelectContext(ctx, &points, `
		SELECT
			date_trunc($4, requested_at) AS bucket,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM verification_requests
		WHERE requested_at >= $1 AND requested_at < $2
		  AND ($3::uuid IS NULL OR organization_id = $3)
		GROUP BY bucket ORDER BY bucket`,
		from, to, orgID, interval)
	return points, err
}
