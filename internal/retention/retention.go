package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-data-service/internal/audit"
	"github.com/kjstillabower/weather-data-service/internal/observability"
	"github.com/kjstillabower/weather-data-service/internal/storage"
)

const purgeTimeout = 30 * time.Second

// Scheduler runs the background purge jobs: expired cache entries on a
// short cycle, aged-out audit events once a day. Both jobs are safe to
// run concurrently with live traffic.
type Scheduler struct {
	scheduler *gocron.Scheduler
	store     storage.Store
	audit     audit.Log
	cacheTTL  time.Duration
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler. cacheTTL bounds what counts as expired in the
// store, retention bounds audit event age, interval is the cache purge cycle.
func New(store storage.Store, auditLog audit.Log, cacheTTL, retention, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		store:     store,
		audit:     auditLog,
		cacheTTL:  cacheTTL,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

// Start registers both jobs and starts the scheduler in the background.
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(s.interval).Do(s.purgeStore); err != nil {
		return fmt.Errorf("schedule cache purge: %w", err)
	}
	if _, err := s.scheduler.Every(1).Day().Do(s.purgeAudit); err != nil {
		return fmt.Errorf("schedule audit purge: %w", err)
	}
	s.scheduler.StartAsync()
	s.logger.Info("retention scheduler started",
		zap.Duration("cache_purge_interval", s.interval),
		zap.Duration("audit_retention", s.retention))
	return nil
}

// Stop stops the scheduler. Running jobs finish; future runs are cancelled.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) purgeStore() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	removed, err := s.store.PurgeExpired(ctx, s.cacheTTL)
	if err != nil {
		s.logger.Warn("cache purge failed", zap.Error(err))
		return
	}
	if removed > 0 {
		observability.StorePurgedEntriesTotal.Add(float64(removed))
		s.logger.Info("purged expired cache entries", zap.Int("removed", removed))
	}
}

func (s *Scheduler) purgeAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	removed, err := s.audit.PurgeOlderThan(ctx, s.retention)
	if err != nil {
		s.logger.Warn("audit purge failed", zap.Error(err))
		return
	}
	if removed > 0 {
		observability.AuditPurgedEventsTotal.Add(float64(removed))
		s.logger.Info("purged aged audit events", zap.Int("removed", removed))
	}
}
