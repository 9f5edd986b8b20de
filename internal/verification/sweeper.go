package verification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepBatchSize = 100

// Sweeper periodically expires stalled requests and re-arms persisted retry
// state. It is safe against concurrent ApplyResult calls for the same ids:
// the orchestrator's per-id locks serialize every mutation.
type Sweeper struct {
	orchestrator *Orchestrator
	repo         Repository
	cron         *cron.Cron
	interval     time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	running bool
}

func NewSweeper(orchestrator *Orchestrator, repo Repository, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		orchestrator: orchestrator,
		repo:         repo,
		cron:         cron.New(),
		interval:     interval,
		logger:       logger,
	}
}

// Start schedules the sweep on the configured interval.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper already running")
	}
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.Sweep); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the schedule; a sweep already in flight finishes.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("expiry sweeper stopped")
}

// Sweep runs one pass: force-fail expired requests whose retries are spent,
// then resume dispatch for requests whose persisted retry became eligible
// (covers process restarts; in-flight dispatch loops are not duplicated).
func (s *Sweeper) Sweep() {
	ctx := context.Background()
	now := time.Now()

	expired, err := s.repo.ListExpired(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.Error("sweep: failed to list expired requests", zap.Error(err))
	} else {
		for i := range expired {
			if err := s.orchestrator.Expire(ctx, expired[i].ID, now); err != nil {
				s.logger.Error("sweep: expire failed",
					zap.String("verification_id", expired[i].ID.String()),
					zap.Error(err))
			}
		}
		if len(expired) > 0 {
			s.logger.Info("sweep: processed expired requests", zap.Int("count", len(expired)))
		}
	}

	eligible, err := s.repo.ListRetryEligible(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.Error("sweep: failed to list retry-eligible requests", zap.Error(err))
		return
	}
	for i := range eligible {
		s.orchestrator.Redispatch(eligible[i].ID)
	}
}
