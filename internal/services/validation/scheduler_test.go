package validation

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shihanpietersz/migration-manager/internal/config"
	"github.com/shihanpietersz/migration-manager/internal/models"
)

func TestSchedulerTickRunsDueAssignments(t *testing.T) {
	f := newEngineFixture(t)
	test := f.mustCreateTest(t, bashTestRequest("nginx-active"))

	due := f.mustAssign(t, &models.CreateAssignmentRequest{
		TestID:       test.ID,
		VMID:         "vm-1",
		VMName:       "web01",
		OSType:       models.OSLinux,
		ScheduleType: models.ScheduleInterval,
		IntervalMins: 5,
	})
	notDue := f.mustAssign(t, &models.CreateAssignmentRequest{
		TestID:       test.ID,
		VMID:         "vm-2",
		VMName:       "db01",
		OSType:       models.OSLinux,
		ScheduleType: models.ScheduleInterval,
		IntervalMins: 5,
	})
	manual := f.mustAssign(t, &models.CreateAssignmentRequest{
		TestID: test.ID,
		VMID:   "vm-3",
		VMName: "app01",
		OSType: models.OSLinux,
	})

	// Force the first assignment overdue; the second stays in the future.
	f.assignmentRepo.mu.Lock()
	f.assignmentRepo.assignments[due.ID].NextRunAt = sql.NullTime{Time: time.Now().Add(-time.Minute), Valid: true}
	f.assignmentRepo.mu.Unlock()

	f.remote.results["vm-1"] = &models.RunResult{Success: true, Output: "active", ExitCode: 0}

	log := logrus.New()
	log.SetOutput(io.Discard)
	scheduler := NewScheduler(log, &config.ValidationConfig{SchedulerInterval: time.Minute}, f.assignmentRepo, f.engine)
	scheduler.tick(context.Background())

	if len(f.remote.scripts) != 1 {
		t.Fatalf("expected 1 run, got %d", len(f.remote.scripts))
	}
	if f.remote.scripts[0].vmID != "vm-1" {
		t.Errorf("ran against %s, want vm-1", f.remote.scripts[0].vmID)
	}

	ranDue, _ := f.assignmentRepo.GetByID(context.Background(), due.ID)
	if ranDue.LastStatus != models.TestPassed {
		t.Errorf("due assignment last_status = %s, want passed", ranDue.LastStatus)
	}
	if !ranDue.NextRunAt.Valid || !ranDue.NextRunAt.Time.After(time.Now()) {
		t.Errorf("next_run_at not pushed forward: %+v", ranDue.NextRunAt)
	}

	untouched, _ := f.assignmentRepo.GetByID(context.Background(), notDue.ID)
	if untouched.LastStatus != "" {
		t.Errorf("future assignment ran: last_status = %s", untouched.LastStatus)
	}
	untouchedManual, _ := f.assignmentRepo.GetByID(context.Background(), manual.ID)
	if untouchedManual.LastStatus != "" {
		t.Errorf("manual assignment ran: last_status = %s", untouchedManual.LastStatus)
	}
}

func TestSchedulerStartStopsOnContextCancel(t *testing.T) {
	f := newEngineFixture(t)
	log := logrus.New()
	log.SetOutput(io.Discard)
	scheduler := NewScheduler(log, &config.ValidationConfig{SchedulerInterval: time.Hour}, f.assignmentRepo, f.engine)

	ctx, cancel := context.WithCancel(context.Background())
	scheduler.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}
