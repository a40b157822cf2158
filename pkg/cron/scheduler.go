// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/FACorreiaa/household-finance/pkg/storage"
)

// DefaultRetentionSchedule runs the archive sweep daily at 03:00.
const DefaultRetentionSchedule = "0 3 * * *"

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron      *cron.Cron
	archive   storage.Archive
	retention time.Duration
	schedule  string
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler creates a scheduler that prunes archived statements older
// than retention.
func NewScheduler(archive storage.Archive, retention time.Duration, schedule string, logger *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}

	return &Scheduler{
		cron:      c,
		archive:   archive,
		retention: retention,
		schedule:  schedule,
		logger:    logger,
		now:       time.Now,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.pruneArchive); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.String("schedule", s.schedule),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers the archive sweep synchronously.
func (s *Scheduler) RunNow() int {
	return s.prune()
}

func (s *Scheduler) pruneArchive() {
	s.prune()
}

func (s *Scheduler) prune() int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cutoff := s.now().Add(-s.retention)
	removed, err := s.archive.PruneOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to prune archived statements",
			slog.Time("cutoff", cutoff),
			slog.Int("removed", removed),
			slog.Any("error", err),
		)
		return removed
	}

	s.logger.Info("archived statements pruned",
		slog.Time("cutoff", cutoff),
		slog.Int("removed", removed),
	)
	return removed
}
