package export

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pegacorn/hestia/pkg/types"
)

// Scheduler runs bulk exports on a cron schedule.
type Scheduler struct {
	exporter *Exporter
	schedule string
	kinds    []types.Kind
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewScheduler creates a scheduler that exports the given kinds.
func NewScheduler(exporter *Exporter, schedule string, kinds []types.Kind) *Scheduler {
	return &Scheduler{
		exporter: exporter,
		schedule: schedule,
		kinds:    append([]types.Kind(nil), kinds...),
		cron:     cron.New(),
		logger:   slog.Default().With("component", "export.scheduler"),
	}
}

// Start schedules exports using a standard five-field cron expression,
// for example "0 3 * * *" for daily at 3 AM.
// If the schedule is empty, the scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("export schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.runExport(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule export: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("export scheduler started",
		"schedule", s.schedule,
		"kinds", s.kinds,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) runExport(ctx context.Context) {
	s.logger.Info("starting scheduled export")

	results, err := s.exporter.ExportAll(ctx, s.kinds)
	if err != nil {
		s.logger.Error("scheduled export failed", "error", err)
		return
	}

	total := 0
	for _, r := range results {
		total += r.Exported
	}
	s.logger.Info("scheduled export completed", "exported", total)
}

// Stop stops the scheduler and waits for a running export to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("export scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled export time, or nil if none.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
