// Package scheduler provides cron-based scheduling for maintenance jobs
// such as automatic backups and session cleanup.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/RisarcimentoMiteni/intakebot/internal/export"
)

// Default maintenance cadences (standard 5-field cron expressions).
const (
	DefaultBackupSpec  = "0 3 * * *" // daily at 03:00
	DefaultCleanupSpec = "0 4 * * 0" // weekly, Sunday at 04:00
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// ScheduleMaintenance registers the automatic backup and retention cleanup
// jobs against the given exporter. Empty specs fall back to the defaults.
func (s *Scheduler) ScheduleMaintenance(exporter *export.Exporter, backupSpec, cleanupSpec string) error {
	if backupSpec == "" {
		backupSpec = DefaultBackupSpec
	}
	if cleanupSpec == "" {
		cleanupSpec = DefaultCleanupSpec
	}

	if err := s.AddJob(backupSpec, func() {
		slog.Info("Automatic backup starting")
		path, err := exporter.Backup()
		if err != nil {
			slog.Error("Automatic backup failed", "error", err)
			return
		}
		slog.Info("Automatic backup completed", "path", path)
	}); err != nil {
		return err
	}

	return s.AddJob(cleanupSpec, func() {
		slog.Info("Automatic session cleanup starting")
		n, err := exporter.Cleanup(export.DefaultRetention)
		if err != nil {
			slog.Error("Automatic cleanup failed", "error", err)
			return
		}
		slog.Info("Automatic cleanup completed", "deleted", n)
	})
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
