package executions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shihanpietersz/migration-manager/internal/config"
	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

// fakeExecutionRepo is an in-memory stand-in for the gorm-backed repository.
// onGetTargets, when set, fires once after the next batch fetch so tests can
// interleave a concurrent state change at that exact point.
type fakeExecutionRepo struct {
	mu           sync.Mutex
	executions   map[string]*models.ExecutionEntity
	targets      map[uint]*models.ExecutionTargetEntity
	targetSeq    uint
	onGetTargets func()
}

func newFakeExecutionRepo() *fakeExecutionRepo {
	return &fakeExecutionRepo{
		executions: map[string]*models.ExecutionEntity{},
		targets:    map[uint]*models.ExecutionTargetEntity{},
	}
}

func (f *fakeExecutionRepo) Create(ctx context.Context, execution *models.ExecutionEntity, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *execution
	stored.Targets = nil
	f.executions[execution.ID] = &stored
	for i := range execution.Targets {
		f.targetSeq++
		execution.Targets[i].ID = f.targetSeq
		execution.Targets[i].ExecutionID = execution.ID
		copied := execution.Targets[i]
		f.targets[copied.ID] = &copied
	}
	return nil
}

func (f *fakeExecutionRepo) GetByID(ctx context.Context, id string, withTargets bool, opts ...utils.DBOption) (*models.ExecutionEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	execution, ok := f.executions[id]
	if !ok {
		return nil, nil
	}
	copied := *execution
	if withTargets {
		copied.Targets = f.targetsLocked(id, nil)
	}
	return &copied, nil
}

func (f *fakeExecutionRepo) GetList(ctx context.Context, param models.ExecutionQueryParam, opts ...utils.DBOption) ([]models.ExecutionEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ExecutionEntity
	for _, execution := range f.executions {
		out = append(out, *execution)
	}
	return out, nil
}

func (f *fakeExecutionRepo) UpdateFields(ctx context.Context, id string, fields map[string]interface{}, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	execution, ok := f.executions[id]
	if !ok {
		return nil
	}
	for key, value := range fields {
		switch key {
		case "status":
			execution.Status = value.(models.ExecutionStatus)
		case "fail_count":
			execution.FailCount = value.(int)
		case "started_at":
			execution.StartedAt = sql.NullTime{Time: value.(time.Time), Valid: true}
		case "completed_at":
			if value == nil {
				execution.CompletedAt = sql.NullTime{}
			} else {
				execution.CompletedAt = sql.NullTime{Time: value.(time.Time), Valid: true}
			}
		}
	}
	return nil
}

func (f *fakeExecutionRepo) IncrementSuccessCount(ctx context.Context, id string, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if execution, ok := f.executions[id]; ok {
		execution.SuccessCount++
	}
	return nil
}

func (f *fakeExecutionRepo) IncrementFailCount(ctx context.Context, id string, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if execution, ok := f.executions[id]; ok {
		execution.FailCount++
	}
	return nil
}

func (f *fakeExecutionRepo) GetTarget(ctx context.Context, targetID uint, opts ...utils.DBOption) (*models.ExecutionTargetEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.targets[targetID]
	if !ok {
		return nil, nil
	}
	copied := *target
	return &copied, nil
}

func (f *fakeExecutionRepo) GetTargets(ctx context.Context, executionID string, statuses []models.ExecutionStatus, opts ...utils.DBOption) ([]models.ExecutionTargetEntity, error) {
	f.mu.Lock()
	out := f.targetsLocked(executionID, statuses)
	hook := f.onGetTargets
	f.onGetTargets = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeExecutionRepo) targetsLocked(executionID string, statuses []models.ExecutionStatus) []models.ExecutionTargetEntity {
	var out []models.ExecutionTargetEntity
	for _, target := range f.targets {
		if target.ExecutionID != executionID {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, status := range statuses {
				if target.Status == status {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, *target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeExecutionRepo) UpdateTargetFields(ctx context.Context, targetID uint, fields map[string]interface{}, opts ...utils.DBOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.targets[targetID]
	if !ok {
		return nil
	}
	for key, value := range fields {
		switch key {
		case "status":
			target.Status = value.(models.ExecutionStatus)
		case "job_name":
			target.JobName = sql.NullString{String: value.(string), Valid: true}
		case "exit_code":
			target.ExitCode = sql.NullInt32{Int32: int32(value.(int)), Valid: true}
		case "output":
			target.Output = sql.NullString{String: value.(string), Valid: true}
		case "error_output":
			target.ErrorOutput = sql.NullString{String: value.(string), Valid: true}
		case "error_message":
			target.ErrorMessage = sql.NullString{String: value.(string), Valid: true}
		case "started_at":
			target.StartedAt = sql.NullTime{Time: value.(time.Time), Valid: true}
		case "completed_at":
			target.CompletedAt = sql.NullTime{Time: value.(time.Time), Valid: true}
		}
	}
	return nil
}

func (f *fakeExecutionRepo) MarkTargetRunning(ctx context.Context, targetID uint, opts ...utils.DBOption) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.targets[targetID]
	if !ok || target.Status != models.ExecutionPending {
		return false, nil
	}
	target.Status = models.ExecutionRunning
	target.StartedAt = sql.NullTime{Time: time.Now(), Valid: true}
	return true, nil
}

func (f *fakeExecutionRepo) CancelPendingTargets(ctx context.Context, executionID string, opts ...utils.DBOption) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, target := range f.targets {
		if target.ExecutionID == executionID && target.Status == models.ExecutionPending {
			target.Status = models.ExecutionCancelled
			target.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
			count++
		}
	}
	return count, nil
}

func (f *fakeExecutionRepo) ResetFailedTargets(ctx context.Context, executionID string, opts ...utils.DBOption) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, target := range f.targets {
		if target.ExecutionID == executionID && target.Status == models.ExecutionFailed {
			target.Status = models.ExecutionPending
			target.JobName = sql.NullString{}
			target.ExitCode = sql.NullInt32{}
			target.Output = sql.NullString{}
			target.ErrorOutput = sql.NullString{}
			target.ErrorMessage = sql.NullString{}
			target.StartedAt = sql.NullTime{}
			target.CompletedAt = sql.NullTime{}
			count++
		}
	}
	return count, nil
}

// fakeScriptStore implements only what the orchestrator touches.
type fakeScriptStore struct {
	scripts map[uint]*models.ScriptEntity
}

func (f *fakeScriptStore) Create(ctx context.Context, script *models.ScriptEntity, opts ...utils.DBOption) error {
	return nil
}
func (f *fakeScriptStore) Update(ctx context.Context, script *models.ScriptEntity, opts ...utils.DBOption) error {
	return nil
}
func (f *fakeScriptStore) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}, opts ...utils.DBOption) error {
	return nil
}
func (f *fakeScriptStore) Delete(ctx context.Context, id uint, opts ...utils.DBOption) error {
	return nil
}
func (f *fakeScriptStore) GetByID(ctx context.Context, id uint, opts ...utils.DBOption) (*models.ScriptEntity, error) {
	return f.scripts[id], nil
}
func (f *fakeScriptStore) GetByName(ctx context.Context, name string, opts ...utils.DBOption) (*models.ScriptEntity, error) {
	return nil, nil
}
func (f *fakeScriptStore) GetList(ctx context.Context, param models.ScriptQueryParam, opts ...utils.DBOption) ([]models.ScriptEntity, error) {
	return nil, nil
}

// fakeRemote simulates the run command client with configurable outcomes.
type fakeRemote struct {
	mu          sync.Mutex
	failVMs     map[string]bool
	hang        bool
	inflight    atomic.Int32
	maxInflight atomic.Int32
	submits     atomic.Int32
	deletes     atomic.Int32
	scripts     map[string]string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{failVMs: map[string]bool{}, scripts: map[string]string{}}
}

func (f *fakeRemote) SubmitJob(ctx context.Context, vmID, script string, dialect models.ScriptDialect, timeoutSeconds int) (string, error) {
	cur := f.inflight.Add(1)
	for {
		max := f.maxInflight.Load()
		if cur <= max || f.maxInflight.CompareAndSwap(max, cur) {
			break
		}
	}
	f.submits.Add(1)
	f.mu.Lock()
	f.scripts[vmID] = script
	f.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	return "job-" + vmID, nil
}

func (f *fakeRemote) PollJob(ctx context.Context, vmID, jobName string) (*models.JobStatus, error) {
	f.mu.Lock()
	hang := f.hang
	fail := f.failVMs[vmID]
	f.mu.Unlock()

	if hang {
		return &models.JobStatus{State: models.JobRunning}, nil
	}
	f.inflight.Add(-1)
	if fail {
		return &models.JobStatus{State: models.JobFailed, Error: "boom", ExitCode: 1}, nil
	}
	return &models.JobStatus{State: models.JobCompleted, Output: "ok from " + vmID, ExitCode: 0}, nil
}

func (f *fakeRemote) DeleteJob(ctx context.Context, vmID, jobName string) {
	f.deletes.Add(1)
}

func (f *fakeRemote) setHang(hang bool) {
	f.mu.Lock()
	f.hang = hang
	f.mu.Unlock()
}

func newTestOrchestrator(remote RemoteRunner, scripts map[uint]*models.ScriptEntity, targetTimeout time.Duration) (Orchestrator, *fakeExecutionRepo) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	repo := newFakeExecutionRepo()
	cfg := &config.OrchestratorConfig{
		DefaultMaxParallel: 5,
		PollInterval:       2 * time.Millisecond,
		TargetTimeout:      targetTimeout,
	}
	return NewOrchestrator(log, cfg, repo, &fakeScriptStore{scripts: scripts}, nil, remote), repo
}

func makeTargets(n int) []models.ExecutionTargetRef {
	targets := make([]models.ExecutionTargetRef, 0, n)
	for i := 0; i < n; i++ {
		targets = append(targets, models.ExecutionTargetRef{
			VMID:   fmt.Sprintf("/vm/%d", i),
			VMName: fmt.Sprintf("vm%d", i),
			OSType: models.OSLinux,
		})
	}
	return targets
}

func waitForStatus(t *testing.T, repo *fakeExecutionRepo, id string, want models.ExecutionStatus) *models.ExecutionEntity {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		execution, err := repo.GetByID(context.Background(), id, true)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if execution != nil && execution.Status == want {
			return execution
		}
		time.Sleep(5 * time.Millisecond)
	}
	execution, _ := repo.GetByID(context.Background(), id, true)
	t.Fatalf("execution never reached %s, last = %+v", want, execution)
	return nil
}

func TestExecuteRunsBatchesWithinParallelLimit(t *testing.T) {
	remote := newFakeRemote()
	orch, repo := newTestOrchestrator(remote, nil, 10*time.Second)

	execution, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		Content:     "uptime",
		Dialect:     models.DialectBash,
		Targets:     makeTargets(12),
		MaxParallel: 5,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	final := waitForStatus(t, repo, execution.ID, models.ExecutionCompleted)

	if got := remote.submits.Load(); got != 12 {
		t.Errorf("submissions = %d, want 12", got)
	}
	if got := remote.maxInflight.Load(); got > 5 {
		t.Errorf("max concurrent submissions = %d, want <= 5", got)
	}
	if got := remote.maxInflight.Load(); got < 2 {
		t.Errorf("max concurrent submissions = %d, expected batch to run concurrently", got)
	}
	if final.SuccessCount != 12 || final.FailCount != 0 {
		t.Errorf("counts = %d/%d, want 12/0", final.SuccessCount, final.FailCount)
	}
	for _, target := range final.Targets {
		if target.Status != models.ExecutionCompleted {
			t.Errorf("target %d status = %s, want completed", target.ID, target.Status)
		}
		if !strings.HasPrefix(target.Output.String, "ok from ") {
			t.Errorf("target %d output = %q", target.ID, target.Output.String)
		}
	}
	if got := remote.deletes.Load(); got != 12 {
		t.Errorf("job deletions = %d, want 12", got)
	}
}

func TestExecuteFailedOnlyWhenNoSuccess(t *testing.T) {
	remote := newFakeRemote()
	remote.failVMs["/vm/0"] = true
	remote.failVMs["/vm/1"] = true
	remote.failVMs["/vm/2"] = true
	orch, repo := newTestOrchestrator(remote, nil, 10*time.Second)

	execution, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		Content: "uptime",
		Dialect: models.DialectBash,
		Targets: makeTargets(3),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	final := waitForStatus(t, repo, execution.ID, models.ExecutionFailed)
	if final.FailCount != 3 || final.SuccessCount != 0 {
		t.Errorf("counts = %d/%d, want 0/3", final.SuccessCount, final.FailCount)
	}
}

func TestExecuteMixedOutcomeIsCompleted(t *testing.T) {
	remote := newFakeRemote()
	remote.failVMs["/vm/0"] = true
	remote.failVMs["/vm/1"] = true
	orch, repo := newTestOrchestrator(remote, nil, 10*time.Second)

	execution, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		Content: "uptime",
		Dialect: models.DialectBash,
		Targets: makeTargets(3),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	final := waitForStatus(t, repo, execution.ID, models.ExecutionCompleted)
	if final.SuccessCount != 1 || final.FailCount != 2 {
		t.Errorf("counts = %d/%d, want 1/2", final.SuccessCount, final.FailCount)
	}
}

func TestExecuteApprovalGate(t *testing.T) {
	scriptID := uint(7)
	approvedBy := "ops"
	now := time.Now()
	unapproved := &models.ScriptEntity{
		ID:        scriptID,
		Name:      "restart",
		Content:   "shutdown -r now",
		Dialect:   models.DialectBash,
		RiskLevel: models.RiskHigh,
	}

	remote := newFakeRemote()
	orch, repo := newTestOrchestrator(remote, map[uint]*models.ScriptEntity{scriptID: unapproved}, 10*time.Second)

	_, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		ScriptID: &scriptID,
		Targets:  makeTargets(1),
	})
	if !errors.Is(err, ErrScriptNotApproved) {
		t.Fatalf("err = %v, want ErrScriptNotApproved", err)
	}

	unapproved.ApprovedBy = &approvedBy
	unapproved.ApprovedAt = &now

	execution, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		ScriptID: &scriptID,
		Targets:  makeTargets(1),
	})
	if err != nil {
		t.Fatalf("Execute() after approval error = %v", err)
	}
	waitForStatus(t, repo, execution.ID, models.ExecutionCompleted)

	remote.mu.Lock()
	defer remote.mu.Unlock()
	if remote.scripts["/vm/0"] != "shutdown -r now" {
		t.Errorf("submitted script = %q, want saved script content", remote.scripts["/vm/0"])
	}
}

func TestExecuteValidatesRequest(t *testing.T) {
	orch, _ := newTestOrchestrator(newFakeRemote(), nil, time.Second)

	if _, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		Content: "uptime",
		Dialect: models.DialectBash,
	}); !errors.Is(err, ErrNoTargets) {
		t.Errorf("err = %v, want ErrNoTargets", err)
	}

	if _, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		Targets: makeTargets(1),
	}); !errors.Is(err, ErrNoContent) {
		t.Errorf("err = %v, want ErrNoContent", err)
	}
}

func TestExecuteSubstitutesParameters(t *testing.T) {
	remote := newFakeRemote()
	orch, repo := newTestOrchestrator(remote, nil, 10*time.Second)

	execution, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		Content:    "echo $1",
		Dialect:    models.DialectBash,
		Parameters: map[string]string{"name": "web01"},
		Targets:    makeTargets(1),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	waitForStatus(t, repo, execution.ID, models.ExecutionCompleted)

	remote.mu.Lock()
	script := remote.scripts["/vm/0"]
	remote.mu.Unlock()
	if !strings.Contains(script, `name="web01"`) {
		t.Errorf("script missing assignment: %q", script)
	}
	if !strings.Contains(script, `set -- "web01"`) {
		t.Errorf("script missing positional line: %q", script)
	}
}

func TestCancelFlipsOnlyPendingTargets(t *testing.T) {
	remote := newFakeRemote()
	remote.setHang(true)
	orch, _ := newTestOrchestrator(remote, nil, 2*time.Second)

	execution, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		Content:     "uptime",
		Dialect:     models.DialectBash,
		Targets:     makeTargets(3),
		MaxParallel: 1,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// Wait until the first target is actually in flight.
	deadline := time.Now().Add(2 * time.Second)
	for remote.submits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if remote.submits.Load() == 0 {
		t.Fatal("first target never started")
	}

	cancelled, err := orch.Cancel(context.Background(), execution.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled.Status != models.ExecutionCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	var pendingFlipped, stillRunning int
	for _, target := range cancelled.Targets {
		switch target.Status {
		case models.ExecutionCancelled:
			pendingFlipped++
		case models.ExecutionRunning:
			stillRunning++
		}
	}
	if pendingFlipped != 2 {
		t.Errorf("cancelled targets = %d, want 2", pendingFlipped)
	}
	if stillRunning != 1 {
		t.Errorf("running targets = %d, want the in-flight one untouched", stillRunning)
	}

	if _, err := orch.Cancel(context.Background(), execution.ID); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Cancel err = %v, want ErrNotRunning", err)
	}
}

func TestCancelBetweenBatchFetchAndRunSkipsTargets(t *testing.T) {
	remote := newFakeRemote()
	orch, repo := newTestOrchestrator(remote, nil, 10*time.Second)

	// Cancel lands right after the drive loop has fetched its pending batch
	// but before any target is claimed; nothing may reach the remote.
	repo.onGetTargets = func() {
		repo.mu.Lock()
		var id string
		for executionID := range repo.executions {
			id = executionID
		}
		repo.mu.Unlock()
		if _, err := orch.Cancel(context.Background(), id); err != nil {
			t.Errorf("Cancel() error = %v", err)
		}
	}

	execution, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		Content: "uptime",
		Dialect: models.DialectBash,
		Targets: makeTargets(2),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	final := waitForStatus(t, repo, execution.ID, models.ExecutionCancelled)
	time.Sleep(30 * time.Millisecond)

	if got := remote.submits.Load(); got != 0 {
		t.Errorf("submissions = %d, want cancelled targets never submitted", got)
	}
	final, _ = repo.GetByID(context.Background(), execution.ID, true)
	for _, target := range final.Targets {
		if target.Status != models.ExecutionCancelled {
			t.Errorf("target %d status = %s, want cancelled", target.ID, target.Status)
		}
	}
}

func TestExecuteStartsPendingThenRuns(t *testing.T) {
	remote := newFakeRemote()
	orch, repo := newTestOrchestrator(remote, nil, 10*time.Second)

	execution, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		Content: "uptime",
		Dialect: models.DialectBash,
		Targets: makeTargets(1),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if execution.Status != models.ExecutionPending {
		t.Errorf("initial status = %s, want pending", execution.Status)
	}
	if execution.StartedAt.Valid {
		t.Error("started_at must stay null until the drive loop picks the execution up")
	}

	final := waitForStatus(t, repo, execution.ID, models.ExecutionCompleted)
	if !final.StartedAt.Valid {
		t.Error("started_at not stamped when the drive loop started")
	}
}

func TestRetryFailedResetsAndRedrives(t *testing.T) {
	remote := newFakeRemote()
	remote.failVMs["/vm/0"] = true
	remote.failVMs["/vm/1"] = true
	orch, repo := newTestOrchestrator(remote, nil, 10*time.Second)

	execution, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		Content: "uptime",
		Dialect: models.DialectBash,
		Targets: makeTargets(2),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	waitForStatus(t, repo, execution.ID, models.ExecutionFailed)

	remote.mu.Lock()
	remote.failVMs = map[string]bool{}
	remote.mu.Unlock()

	if _, err := orch.RetryFailed(context.Background(), execution.ID); err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}

	final := waitForStatus(t, repo, execution.ID, models.ExecutionCompleted)
	if final.SuccessCount != 2 || final.FailCount != 0 {
		t.Errorf("counts = %d/%d, want 2/0", final.SuccessCount, final.FailCount)
	}
}

func TestRetryFailedIsNoOpWithoutFailures(t *testing.T) {
	remote := newFakeRemote()
	orch, repo := newTestOrchestrator(remote, nil, 10*time.Second)

	execution, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		Content: "uptime",
		Dialect: models.DialectBash,
		Targets: makeTargets(1),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	waitForStatus(t, repo, execution.ID, models.ExecutionCompleted)

	submitsBefore := remote.submits.Load()
	result, err := orch.RetryFailed(context.Background(), execution.ID)
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	if result.Status != models.ExecutionCompleted {
		t.Errorf("status = %s, want completed unchanged", result.Status)
	}
	time.Sleep(20 * time.Millisecond)
	if remote.submits.Load() != submitsBefore {
		t.Error("retry without failures must not resubmit anything")
	}
}

func TestRetryFailedRejectsRunningExecution(t *testing.T) {
	remote := newFakeRemote()
	remote.setHang(true)
	orch, _ := newTestOrchestrator(remote, nil, 2*time.Second)

	execution, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		Content: "uptime",
		Dialect: models.DialectBash,
		Targets: makeTargets(1),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if _, err := orch.RetryFailed(context.Background(), execution.ID); err == nil {
		t.Error("expected error retrying a running execution")
	}
}

func TestTargetTimeoutMarksFailed(t *testing.T) {
	remote := newFakeRemote()
	remote.setHang(true)
	orch, repo := newTestOrchestrator(remote, nil, 0)

	execution, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		Content: "uptime",
		Dialect: models.DialectBash,
		Targets: makeTargets(1),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	final := waitForStatus(t, repo, execution.ID, models.ExecutionFailed)
	target := final.Targets[0]
	if target.Status != models.ExecutionFailed {
		t.Errorf("target status = %s, want failed", target.Status)
	}
	if !strings.Contains(target.ErrorMessage.String, "timed out") {
		t.Errorf("error message = %q, want timeout reason", target.ErrorMessage.String)
	}
	if remote.deletes.Load() == 0 {
		t.Error("timed out job must still be cleaned up")
	}
}

func TestGetTargetOutput(t *testing.T) {
	remote := newFakeRemote()
	orch, repo := newTestOrchestrator(remote, nil, 10*time.Second)

	execution, err := orch.Execute(context.Background(), &models.ExecuteRequest{
		Content: "uptime",
		Dialect: models.DialectBash,
		Targets: makeTargets(1),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	final := waitForStatus(t, repo, execution.ID, models.ExecutionCompleted)

	target, err := orch.GetTargetOutput(context.Background(), execution.ID, final.Targets[0].ID)
	if err != nil {
		t.Fatalf("GetTargetOutput() error = %v", err)
	}
	if target.Output.String != "ok from /vm/0" {
		t.Errorf("output = %q", target.Output.String)
	}

	if _, err := orch.GetTargetOutput(context.Background(), "other-exec", final.Targets[0].ID); !errors.Is(err, ErrTargetNotFound) {
		t.Errorf("err = %v, want ErrTargetNotFound", err)
	}
}
