package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Trend intervals.
const (
	IntervalDaily   = "daily"
	IntervalWeekly  = "weekly"
	IntervalMonthly = "monthly"
)

// Summary is the aggregated verification report for a window.
type Summary struct {
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	OrganizationID *uuid.UUID      `json:"organization_id,omitempty"`
	Total          int64           `json:"total"`
	ByStatus       []StatusCount   `json:"by_status"`
	ByType         []TypeCount     `json:"by_type"`
	ByPriority     []PriorityCount `json:"by_priority"`
	SuccessRate    float64         `json:"success_rate"`
	Durations      DurationStats   `json:"durations"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// TrendReport is a bucketed time series of verification volume.
type TrendReport struct {
	From           time.Time    `json:"from"`
	To             time.Time    `json:"to"`
	OrganizationID *uuid.UUID   `json:"organization_id,omitempty"`
	Interval       string       `json:"interval"`
	Points         []TrendPoint `json:"points"`
	GeneratedAt    time.Time    `json:"generated_at"`
}

// Query is one analytics request: a half-open window plus optional org scope.
type Query struct {
	From           time.Time
	To             time.Time
	OrganizationID *uuid.UUID
}

func (q Query) cacheSuffix() string {
	org := "all"
	if q.OrganizationID != nil {
		org = q.OrganizationID.String()
	}
	return fmt.Sprintf("%s:%d:%d", org, q.From.Unix(), q.To.Unix())
}

// Aggregator computes cached analytics over the verification store. A cache
// outage never fails a request; the aggregate is recomputed directly.
type Aggregator struct {
	repo   Repository
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewAggregator(repo Repository, cache Cache, ttl time.Duration, logger *zap.Logger) *Aggregator {
	if ttl <= 0 {
		ttl = 20 * time.Minute
	}
	return &Aggregator{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// GetSummary returns the windowed summary, serving the cached copy when fresh.
func (a *Aggregator) GetSummary(ctx context.Context, q Query) (*Summary, error) {
	key := "analytics:summary:" + q.cacheSuffix()
	var cached Summary
	if a.cache != nil && a.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	summary, err := a.computeSummary(ctx, q)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.cache.Set(ctx, key, summary, a.ttl)
	}
	return summary, nil
}

func (a *Aggregator) computeSummary(ctx context.Context, q Query) (*Summary, error) {
	byStatus, err := a.repo.CountByStatus(ctx, q.From, q.To, q.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	byType, err := a.repo.CountByType(ctx, q.From, q.To, q.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count by type: %w", err)
	}
	byPriority, err := a.repo.CountByPriority(ctx, q.From, q.To, q.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count by priority: %w", err)
	}
	durations, err := a.repo.Durations(ctx, q.From, q.To, q.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute durations: %w", err)
	}

	var total, completed, terminal int64
	for _, sc := range byStatus {
		total += sc.Count
		switch sc.Status {
		case "completed":
			completed += sc.Count
			terminal += sc.Count
		case "failed", "cancelled":
			terminal += sc.Count
		}
	}
	successRate := 0.0
	if terminal > 0 {
		successRate = float64(completed) / float64(terminal)
	}

	if byStatus == nil {
		byStatus = []StatusCount{}
	}
	if byType == nil {
		byType = []TypeCount{}
	}
	if byPriority == nil {
		byPriority = []PriorityCount{}
	}

	return &Summary{
		From:           q.From,
		To:             q.To,
		OrganizationID: q.OrganizationID,
		Total:          total,
		ByStatus:       byStatus,
		ByType:         byType,
		ByPriority:     byPriority,
		SuccessRate:    successRate,
		Durations:      *durations,
		GeneratedAt:    time.Now(),
	}, nil
}

// GetTrend returns the bucketed series for a window and interval.
func (a *Aggregator) GetTrend(ctx context.Context, q Query, interval string) (*TrendReport, error) {
	truncUnit, err := truncUnitFor(interval)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("analytics:trend:%s:%s", interval, q.cacheSuffix())
	var cached TrendReport
	if a.cache != nil && a.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	points, err := a.repo.Trend(ctx, q.From, q.To, q.OrganizationID, truncUnit)
	if err != nil {
		return nil, fmt.Errorf("failed to compute trend: %w", err)
	}
	if points == nil {
		points = []TrendPoint{}
	}
	report := &TrendReport{
		From:           q.From,
		To:             q.To,
		OrganizationID: q.OrganizationID,
		Interval:       interval,
		Points:         points,
		GeneratedAt:    time.Now(),
	}
	if a.cache != nil {
		a.cache.Set(ctx, key, report, a.ttl)
	}
	return report, nil
}

func truncUnitFor(interval string) (string, error) {
	switch interval {
	case IntervalDaily:
		return "day", nil
	case IntervalWeekly:
		return "week", nil
	case IntervalMonthly:
		return "month", nil
	default:
		return "", fmt.Errorf("unsupported trend interval %q", interval)
	}
}
