// Package scheduler runs the admission controller's periodic maintenance
// jobs, bucket eviction and audit export, on cron expressions instead of
// bare tickers.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/brinkwatch/admission-guard/internal/audit"
	"github.com/brinkwatch/admission-guard/internal/ratelimit"
)

// Config controls the cron schedules for the maintenance jobs. An empty
// expression disables that job.
type Config struct {
	// EvictionSchedule sweeps the BucketRegistry for stale buckets.
	EvictionSchedule string
	// ExportSchedule drains the Postgres audit trail into Parquet.
	ExportSchedule string
}

// DefaultConfig runs eviction every 10 minutes and export hourly.
func DefaultConfig() Config {
	return Config{
		EvictionSchedule: "*/10 * * * *",
		ExportSchedule:   "0 * * * *",
	}
}

// Scheduler owns a *cron.Cron running the registry eviction sweep and, when
// an Exporter is attached, the Parquet export job.
type Scheduler struct {
	cron         *cron.Cron
	logger       *zap.Logger
	lastExportID int64
}

// New constructs a Scheduler. registry must not be nil; exporter may be nil
// to run only the eviction job (e.g. when audit persistence is disabled).
func New(cfg Config, registry *ratelimit.BucketRegistry, exporter *audit.Exporter, logger *zap.Logger) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{cron: c, logger: logger}

	if cfg.EvictionSchedule != "" {
		if _, err := c.AddFunc(cfg.EvictionSchedule, func() {
			n := registry.Evict(time.Now())
			if n > 0 {
				logger.Info("evicted stale buckets", zap.Int("count", n))
			}
		}); err != nil {
			return nil, err
		}
	}

	if exporter != nil && cfg.ExportSchedule != "" {
		if _, err := c.AddFunc(cfg.ExportSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			lastID, rows, err := exporter.Run(ctx, s.lastExportID)
			if err != nil {
				logger.Warn("audit export job failed", zap.Error(err))
				return
			}
			s.lastExportID = lastID
			if rows > 0 {
				logger.Info("audit export job completed", zap.Int("rows", rows))
			}
		}); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Start runs the scheduler's jobs in the background. It does not block.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
