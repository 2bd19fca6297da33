package scheduler

import (
	"testing"
	"time"

	"github.com/RisarcimentoMiteni/intakebot/internal/export"
	"github.com/RisarcimentoMiteni/intakebot/internal/store"
)

func TestAddJobValidatesExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("valid 5-field expression rejected: %v", err)
	}
	if err := s.AddJob("not a cron spec", func() {}); err == nil {
		t.Errorf("invalid expression accepted")
	}
	// 6-field expressions belong to the seconds-based parser, not this one.
	if err := s.AddJob("0 0 3 * * *", func() {}); err == nil {
		t.Errorf("6-field expression accepted by the 5-field parser")
	}
}

func TestAddJobRunsTask(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a real cron tick")
	}
	s := NewScheduler()
	defer s.Stop()

	ran := make(chan struct{}, 1)
	if err := s.AddJob("* * * * *", func() { ran <- struct{}{} }); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	// The closest firing can be up to a minute away.
	select {
	case <-ran:
	case <-time.After(65 * time.Second):
		t.Fatalf("scheduled job never ran")
	}
}

func TestScheduleMaintenance(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	exporter := export.NewExporter(store.NewInMemoryStore(), t.TempDir())

	if err := s.ScheduleMaintenance(exporter, "", ""); err != nil {
		t.Errorf("default maintenance specs rejected: %v", err)
	}
	if err := s.ScheduleMaintenance(exporter, "30 2 * * *", "0 5 * * 1"); err != nil {
		t.Errorf("custom maintenance specs rejected: %v", err)
	}
	if err := s.ScheduleMaintenance(exporter, "bogus", ""); err == nil {
		t.Errorf("invalid backup spec accepted")
	}
}
