package validation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/shihanpietersz/migration-manager/internal/config"
	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/repository"
	"github.com/shihanpietersz/migration-manager/internal/services/scripting"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

var (
	ErrTestNotFound       = errors.New("validation test not found")
	ErrSuiteNotFound      = errors.New("test suite not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrBuiltInImmutable   = errors.New("built-in tests cannot be modified or deleted")
	ErrTestInUse          = errors.New("test still has assignments")
)

// RemoteRunner is the slice of the remote command client the engine needs.
// Satisfied by *azure.Client.
type RemoteRunner interface {
	RunSync(ctx context.Context, vmID, script string, dialect models.ScriptDialect, timeoutSeconds int) (*models.RunResult, error)
	ResolveOSType(ctx context.Context, vmID string) (models.TargetOS, error)
}

// FailureNotifier is told about every failed or errored run. Implemented by
// the notifier in this package; nil disables notifications.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, assignment *models.VmTestAssignmentEntity, test *models.ValidationTestEntity, result *models.VmTestResultEntity)
}

type Engine interface {
	CreateTest(ctx context.Context, req *models.CreateTestRequest) (*models.ValidationTestEntity, error)
	UpdateTest(ctx context.Context, id uint, req *models.CreateTestRequest) (*models.ValidationTestEntity, error)
	DeleteTest(ctx context.Context, id uint) error
	GetTest(ctx context.Context, id uint) (*models.ValidationTestEntity, error)
	ListTests(ctx context.Context, category string, limit int) ([]models.ValidationTestEntity, error)

	CreateSuite(ctx context.Context, suite *models.TestSuiteEntity) (*models.TestSuiteEntity, error)
	UpdateSuite(ctx context.Context, id uint, suite *models.TestSuiteEntity) (*models.TestSuiteEntity, error)
	DeleteSuite(ctx context.Context, id uint) error
	GetSuite(ctx context.Context, id uint) (*models.TestSuiteEntity, error)
	ListSuites(ctx context.Context, limit int) ([]models.TestSuiteEntity, error)

	CreateAssignment(ctx context.Context, req *models.CreateAssignmentRequest) (*models.VmTestAssignmentEntity, error)
	UpdateAssignment(ctx context.Context, id uint, req *models.UpdateAssignmentRequest) (*models.VmTestAssignmentEntity, error)
	DeleteAssignment(ctx context.Context, id uint) error
	GetAssignment(ctx context.Context, id uint) (*models.VmTestAssignmentEntity, error)
	ListAssignments(ctx context.Context, param models.AssignmentQueryParam) ([]models.VmTestAssignmentEntity, error)
	GetResults(ctx context.Context, assignmentID uint, limit int) ([]models.VmTestResultEntity, error)

	RunAssignment(ctx context.Context, assignmentID uint) (*models.VmTestResultEntity, error)
	RunAllVMTests(ctx context.Context, vmID string) (*models.RunSummary, error)
	RunSuite(ctx context.Context, suiteID uint, vmID, vmName string, osType models.TargetOS) (*models.RunSummary, error)
}

type engine struct {
	log            *logrus.Logger
	cfg            *config.ValidationConfig
	testRepo       repository.ValidationTestRepository
	suiteRepo      repository.TestSuiteRepository
	assignmentRepo repository.AssignmentRepository
	resultRepo     repository.TestResultRepository
	activityRepo   repository.ActivityRepository
	remote         RemoteRunner
	notifier       FailureNotifier
}

func NewEngine(
	log *logrus.Logger,
	cfg *config.ValidationConfig,
	testRepo repository.ValidationTestRepository,
	suiteRepo repository.TestSuiteRepository,
	assignmentRepo repository.AssignmentRepository,
	resultRepo repository.TestResultRepository,
	activityRepo repository.ActivityRepository,
	remote RemoteRunner,
	notifier FailureNotifier,
) Engine {
	return &engine{
		log:            log,
		cfg:            cfg,
		testRepo:       testRepo,
		suiteRepo:      suiteRepo,
		assignmentRepo: assignmentRepo,
		resultRepo:     resultRepo,
		activityRepo:   activityRepo,
		remote:         remote,
		notifier:       notifier,
	}
}

// --- test CRUD ---

func (e *engine) CreateTest(ctx context.Context, req *models.CreateTestRequest) (*models.ValidationTestEntity, error) {
	test := &models.ValidationTestEntity{
		Name:              req.Name,
		Description:       req.Description,
		Category:          req.Category,
		Dialect:           req.Dialect,
		TargetOS:          req.TargetOS,
		Script:            req.Script,
		AltScript:         req.AltScript,
		ExpectedExitCode:  req.ExpectedExitCode,
		OutputContains:    req.OutputContains,
		OutputNotContains: req.OutputNotContains,
		TimeoutSeconds:    req.TimeoutSeconds,
	}
	if test.TargetOS == "" {
		if req.Dialect == models.DialectBash {
			test.TargetOS = models.OSLinux
		} else {
			test.TargetOS = models.OSWindows
		}
	}
	if test.TimeoutSeconds <= 0 {
		test.TimeoutSeconds = 120
	}
	if err := setTestParameters(test, req.Parameters); err != nil {
		return nil, err
	}
	if err := e.testRepo.Create(ctx, test); err != nil {
		return nil, fmt.Errorf("failed to create test: %w", err)
	}
	return test, nil
}

func (e *engine) UpdateTest(ctx context.Context, id uint, req *models.CreateTestRequest) (*models.ValidationTestEntity, error) {
	test, err := e.testRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load test: %w", err)
	}
	if test == nil {
		return nil, ErrTestNotFound
	}
	if test.IsBuiltIn {
		return nil, ErrBuiltInImmutable
	}

	test.Name = req.Name
	test.Description = req.Description
	test.Category = req.Category
	test.Dialect = req.Dialect
	test.TargetOS = req.TargetOS
	test.Script = req.Script
	test.AltScript = req.AltScript
	test.ExpectedExitCode = req.ExpectedExitCode
	test.OutputContains = req.OutputContains
	test.OutputNotContains = req.OutputNotContains
	if req.TimeoutSeconds > 0 {
		test.TimeoutSeconds = req.TimeoutSeconds
	}
	if err := setTestParameters(test, req.Parameters); err != nil {
		return nil, err
	}
	if err := e.testRepo.Update(ctx, test); err != nil {
		return nil, fmt.Errorf("failed to update test: %w", err)
	}
	return test, nil
}

func (e *engine) DeleteTest(ctx context.Context, id uint) error {
	test, err := e.testRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load test: %w", err)
	}
	if test == nil {
		return ErrTestNotFound
	}
	if test.IsBuiltIn {
		return ErrBuiltInImmutable
	}
	assignments, err := e.assignmentRepo.GetList(ctx, models.AssignmentQueryParam{TestID: &id, Limit: 1})
	if err != nil {
		return fmt.Errorf("failed to check assignments: %w", err)
	}
	if len(assignments) > 0 {
		return ErrTestInUse
	}
	return e.testRepo.Delete(ctx, id)
}

func (e *engine) GetTest(ctx context.Context, id uint) (*models.ValidationTestEntity, error) {
	test, err := e.testRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load test: %w", err)
	}
	if test == nil {
		return nil, ErrTestNotFound
	}
	return test, nil
}

func (e *engine) ListTests(ctx context.Context, category string, limit int) ([]models.ValidationTestEntity, error) {
	return e.testRepo.GetList(ctx, category, limit)
}

// --- suite CRUD ---

func (e *engine) CreateSuite(ctx context.Context, suite *models.TestSuiteEntity) (*models.TestSuiteEntity, error) {
	if err := e.verifySuiteTests(ctx, suite); err != nil {
		return nil, err
	}
	if err := e.suiteRepo.Create(ctx, suite); err != nil {
		return nil, fmt.Errorf("failed to create suite: %w", err)
	}
	return suite, nil
}

func (e *engine) UpdateSuite(ctx context.Context, id uint, suite *models.TestSuiteEntity) (*models.TestSuiteEntity, error) {
	existing, err := e.suiteRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load suite: %w", err)
	}
	if existing == nil {
		return nil, ErrSuiteNotFound
	}
	if err := e.verifySuiteTests(ctx, suite); err != nil {
		return nil, err
	}
	suite.ID = id
	suite.CreatedAt = existing.CreatedAt
	if err := e.suiteRepo.Update(ctx, suite); err != nil {
		return nil, fmt.Errorf("failed to update suite: %w", err)
	}
	return suite, nil
}

func (e *engine) DeleteSuite(ctx context.Context, id uint) error {
	suite, err := e.suiteRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load suite: %w", err)
	}
	if suite == nil {
		return ErrSuiteNotFound
	}
	return e.suiteRepo.Delete(ctx, id)
}

func (e *engine) GetSuite(ctx context.Context, id uint) (*models.TestSuiteEntity, error) {
	suite, err := e.suiteRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load suite: %w", err)
	}
	if suite == nil {
		return nil, ErrSuiteNotFound
	}
	return suite, nil
}

func (e *engine) ListSuites(ctx context.Context, limit int) ([]models.TestSuiteEntity, error) {
	return e.suiteRepo.GetList(ctx, limit)
}

func (e *engine) verifySuiteTests(ctx context.Context, suite *models.TestSuiteEntity) error {
	ids := make([]uint, 0, len(suite.TestIDs))
	for _, id := range suite.TestIDs {
		ids = append(ids, uint(id))
	}
	if len(ids) == 0 {
		return errors.New("suite needs at least one test")
	}
	tests, err := e.testRepo.GetByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to verify suite tests: %w", err)
	}
	if len(tests) != len(ids) {
		return fmt.Errorf("suite references %d tests but only %d exist", len(ids), len(tests))
	}
	return nil
}

// --- assignment CRUD ---

func (e *engine) CreateAssignment(ctx context.Context, req *models.CreateAssignmentRequest) (*models.VmTestAssignmentEntity, error) {
	test, err := e.testRepo.GetByID(ctx, req.TestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load test: %w", err)
	}
	if test == nil {
		return nil, ErrTestNotFound
	}

	osType := req.OSType
	if osType == "" {
		osType, err = e.remote.ResolveOSType(ctx, req.VMID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve VM OS type: %w", err)
		}
	}

	parameters := datatypes.JSONMap{}
	for name, value := range req.Parameters {
		parameters[name] = value
	}

	assignment := &models.VmTestAssignmentEntity{
		TestID:         req.TestID,
		VMID:           req.VMID,
		VMName:         req.VMName,
		OSType:         osType,
		Parameters:     parameters,
		Enabled:        req.Enabled,
		ScheduleType:   req.ScheduleType,
		IntervalMins:   req.IntervalMins,
		CronExpression: req.CronExpression,
	}
	if assignment.Enabled == nil {
		assignment.Enabled = utils.ToPointer(true)
	}
	if assignment.ScheduleType == "" {
		assignment.ScheduleType = models.ScheduleManual
	}
	assignment.NextRunAt = e.computeNextRun(assignment, time.Now())

	if err := e.assignmentRepo.Create(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}
	assignment.Test = test
	return assignment, nil
}

func (e *engine) UpdateAssignment(ctx context.Context, id uint, req *models.UpdateAssignmentRequest) (*models.VmTestAssignmentEntity, error) {
	assignment, err := e.assignmentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}

	if req.Parameters != nil {
		parameters := datatypes.JSONMap{}
		for name, value := range *req.Parameters {
			parameters[name] = value
		}
		assignment.Parameters = parameters
	}
	if req.Enabled != nil {
		assignment.Enabled = req.Enabled
	}
	if req.ScheduleType != nil {
		assignment.ScheduleType = *req.ScheduleType
	}
	if req.IntervalMins != nil {
		assignment.IntervalMins = *req.IntervalMins
	}
	if req.CronExpression != nil {
		assignment.CronExpression = *req.CronExpression
	}
	assignment.NextRunAt = e.computeNextRun(assignment, time.Now())

	if err := e.assignmentRepo.Update(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to update assignment: %w", err)
	}
	return assignment, nil
}

func (e *engine) DeleteAssignment(ctx context.Context, id uint) error {
	assignment, err := e.assignmentRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment == nil {
		return ErrAssignmentNotFound
	}
	return e.assignmentRepo.Delete(ctx, id)
}

func (e *engine) GetAssignment(ctx context.Context, id uint) (*models.VmTestAssignmentEntity, error) {
	assignment, err := e.assignmentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}
	return assignment, nil
}

func (e *engine) ListAssignments(ctx context.Context, param models.AssignmentQueryParam) ([]models.VmTestAssignmentEntity, error) {
	return e.assignmentRepo.GetList(ctx, param)
}

func (e *engine) GetResults(ctx context.Context, assignmentID uint, limit int) ([]models.VmTestResultEntity, error) {
	return e.resultRepo.GetByAssignment(ctx, assignmentID, limit)
}

// --- runs ---

// RunAssignment executes one assignment end to end: variant selection,
// substitution, remote run, criteria evaluation, result persistence,
// denormalized last-result update, next-run computation and failure
// notifications.
func (e *engine) RunAssignment(ctx context.Context, assignmentID uint) (*models.VmTestResultEntity, error) {
	assignment, err := e.assignmentRepo.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}
	test := assignment.Test
	if test == nil {
		test, err = e.testRepo.GetByID(ctx, assignment.TestID)
		if err != nil || test == nil {
			return nil, ErrTestNotFound
		}
	}

	if err := e.assignmentRepo.UpdateFields(ctx, assignmentID, map[string]interface{}{
		"last_status": models.TestRunning,
	}); err != nil {
		e.log.WithError(err).WithField("assignment_id", assignmentID).Warn("Failed to mark assignment running")
	}

	started := time.Now()
	result := e.execute(ctx, assignment, test)
	result.AssignmentID = assignmentID
	result.DurationMs = int(time.Since(started).Milliseconds())

	if err := e.resultRepo.Create(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to persist result: %w", err)
	}

	nextRun := e.computeNextRun(assignment, time.Now())
	fields := map[string]interface{}{
		"last_status":      result.Status,
		"last_duration_ms": result.DurationMs,
		"last_output":      result.Output.String,
		"last_run_at":      time.Now(),
	}
	if nextRun.Valid {
		fields["next_run_at"] = nextRun.Time
	} else {
		fields["next_run_at"] = nil
	}
	if err := e.assignmentRepo.UpdateFields(ctx, assignmentID, fields); err != nil {
		e.log.WithError(err).WithField("assignment_id", assignmentID).Error("Failed to update assignment summary")
	}

	e.logOutcome(ctx, assignment, test, result)

	if result.Status != models.TestPassed && e.notifier != nil {
		e.notifier.NotifyFailure(ctx, assignment, test, result)
	}

	return result, nil
}

// execute runs the remote script and evaluates the pass criteria. It never
// returns an error: infrastructure trouble becomes a result with status
// error, criteria misses become status failed.
func (e *engine) execute(ctx context.Context, assignment *models.VmTestAssignmentEntity, test *models.ValidationTestEntity) *models.VmTestResultEntity {
	script, dialect, err := selectVariant(test, assignment.OSType)
	if err != nil {
		return &models.VmTestResultEntity{
			Status:        models.TestError,
			FailureReason: err.Error(),
		}
	}

	script, err = e.substitute(script, dialect, assignment, test)
	if err != nil {
		return &models.VmTestResultEntity{
			Status:        models.TestError,
			FailureReason: err.Error(),
		}
	}

	run, err := e.remote.RunSync(ctx, assignment.VMID, script, dialect, test.TimeoutSeconds)
	if err != nil {
		return &models.VmTestResultEntity{
			Status:        models.TestError,
			FailureReason: "run failed: " + err.Error(),
		}
	}

	result := &models.VmTestResultEntity{
		ExitCode:    sql.NullInt32{Int32: int32(run.ExitCode), Valid: run.ExitCode >= 0},
		Output:      sql.NullString{String: e.truncate(run.Output), Valid: true},
		ErrorOutput: sql.NullString{String: e.truncate(run.Error), Valid: run.Error != ""},
	}

	// A nonzero exit is a real script outcome the criteria must judge. Only a
	// run without a usable exit code means the script never ran at all.
	if !run.Success && run.ExitCode < 0 {
		result.Status = models.TestError
		result.FailureReason = "remote execution failed: " + run.Error
		return result
	}

	status, reason := evaluate(test.Criteria(), run)
	result.Status = status
	result.FailureReason = reason
	return result
}

// evaluate applies the pass criteria in fixed order; the first miss wins and
// produces the single failure reason.
func evaluate(criteria models.PassCriteria, run *models.RunResult) (models.TestResultStatus, string) {
	if run.ExitCode != criteria.ExpectedExitCode {
		return models.TestFailed, fmt.Sprintf("Exit code %d (expected %d)", run.ExitCode, criteria.ExpectedExitCode)
	}
	if criteria.OutputContains != "" && !strings.Contains(run.Output, criteria.OutputContains) {
		return models.TestFailed, fmt.Sprintf("Output does not contain %q", criteria.OutputContains)
	}
	if criteria.OutputNotContains != "" && strings.Contains(run.Output, criteria.OutputNotContains) {
		return models.TestFailed, fmt.Sprintf("Output contains forbidden %q", criteria.OutputNotContains)
	}
	return models.TestPassed, ""
}

// selectVariant picks the script text and dialect matching the target host's
// OS. The alternate script covers the other OS family; without one, a
// mismatched host is rejected.
func selectVariant(test *models.ValidationTestEntity, osType models.TargetOS) (string, models.ScriptDialect, error) {
	desired := models.DialectPowerShell
	if osType == models.OSLinux {
		desired = models.DialectBash
	}
	if test.Dialect == desired {
		return test.Script, desired, nil
	}
	if test.AltScript != "" {
		return test.AltScript, desired, nil
	}
	return "", "", fmt.Errorf("test %q has no script variant for %s hosts", test.Name, osType)
}

// substitute injects assignment parameter values, preserving the declared
// parameter order for bash positional access.
func (e *engine) substitute(script string, dialect models.ScriptDialect, assignment *models.VmTestAssignmentEntity, test *models.ValidationTestEntity) (string, error) {
	if len(assignment.Parameters) == 0 {
		return script, nil
	}

	values := map[string]string{}
	for name, raw := range assignment.Parameters {
		values[name] = fmt.Sprintf("%v", raw)
	}

	var params []scripting.Param
	if len(test.Parameters) > 0 {
		var declared []models.ScriptParameter
		if err := json.Unmarshal(test.Parameters, &declared); err != nil {
			return "", fmt.Errorf("failed to decode declared parameters: %w", err)
		}
		for _, d := range declared {
			value, ok := values[d.Name]
			if !ok {
				if d.Required {
					return "", fmt.Errorf("missing required parameter %q", d.Name)
				}
				continue
			}
			params = append(params, scripting.Param{Name: d.Name, Value: value})
			delete(values, d.Name)
		}
	}

	extras := make([]string, 0, len(values))
	for name := range values {
		extras = append(extras, name)
	}
	sort.Strings(extras)
	for _, name := range extras {
		params = append(params, scripting.Param{Name: name, Value: values[name]})
	}

	return scripting.Substitute(script, dialect, params)
}

// RunAllVMTests runs every enabled assignment of one host, strictly
// sequentially, and aggregates the outcome.
func (e *engine) RunAllVMTests(ctx context.Context, vmID string) (*models.RunSummary, error) {
	assignments, err := e.assignmentRepo.GetList(ctx, models.AssignmentQueryParam{
		VMID:    vmID,
		Enabled: utils.ToPointer(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	summary := &models.RunSummary{}
	for _, assignment := range assignments {
		summary.Total++
		result, err := e.RunAssignment(ctx, assignment.ID)
		if err != nil {
			e.log.WithError(err).WithField("assignment_id", assignment.ID).Error("Assignment run failed")
			summary.Errors++
			continue
		}
		switch result.Status {
		case models.TestPassed:
			summary.Passed++
		case models.TestFailed:
			summary.Failed++
		default:
			summary.Errors++
		}
	}
	return summary, nil
}

// RunSuite runs a suite's tests against one host in declared order,
// sequentially regardless of the parallel flag since runs serialize per
// host anyway. Missing assignments are materialized as manual ones so
// results have a home.
func (e *engine) RunSuite(ctx context.Context, suiteID uint, vmID, vmName string, osType models.TargetOS) (*models.RunSummary, error) {
	suite, err := e.suiteRepo.GetByID(ctx, suiteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load suite: %w", err)
	}
	if suite == nil {
		return nil, ErrSuiteNotFound
	}

	summary := &models.RunSummary{}
	for _, rawID := range suite.TestIDs {
		testID := uint(rawID)
		assignment, err := e.findOrCreateAssignment(ctx, testID, vmID, vmName, osType)
		if err != nil {
			e.log.WithError(err).WithField("test_id", testID).Error("Failed to resolve suite assignment")
			summary.Total++
			summary.Errors++
			if suite.StopOnFailure {
				break
			}
			continue
		}

		summary.Total++
		result, err := e.RunAssignment(ctx, assignment.ID)
		if err != nil {
			summary.Errors++
			if suite.StopOnFailure {
				break
			}
			continue
		}
		switch result.Status {
		case models.TestPassed:
			summary.Passed++
		case models.TestFailed:
			summary.Failed++
		default:
			summary.Errors++
		}
		if suite.StopOnFailure && result.Status != models.TestPassed {
			break
		}
	}
	return summary, nil
}

func (e *engine) findOrCreateAssignment(ctx context.Context, testID uint, vmID, vmName string, osType models.TargetOS) (*models.VmTestAssignmentEntity, error) {
	existing, err := e.assignmentRepo.GetList(ctx, models.AssignmentQueryParam{
		VMID:   vmID,
		TestID: &testID,
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return &existing[0], nil
	}
	return e.CreateAssignment(ctx, &models.CreateAssignmentRequest{
		TestID:       testID,
		VMID:         vmID,
		VMName:       vmName,
		OSType:       osType,
		ScheduleType: models.ScheduleManual,
	})
}

// computeNextRun derives the next due time from the schedule. Manual
// schedules never become due; invalid cron expressions disable the schedule
// rather than run it at a surprising time.
func (e *engine) computeNextRun(assignment *models.VmTestAssignmentEntity, now time.Time) sql.NullTime {
	switch assignment.ScheduleType {
	case models.ScheduleInterval:
		if assignment.IntervalMins <= 0 {
			return sql.NullTime{}
		}
		return sql.NullTime{Time: now.Add(time.Duration(assignment.IntervalMins) * time.Minute), Valid: true}
	case models.ScheduleCron:
		schedule, err := cron.ParseStandard(assignment.CronExpression)
		if err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"assignment_id": assignment.ID,
				"expression":    assignment.CronExpression,
			}).Warn("Invalid cron expression, schedule disabled")
			return sql.NullTime{}
		}
		return sql.NullTime{Time: schedule.Next(now), Valid: true}
	default:
		return sql.NullTime{}
	}
}

func (e *engine) logOutcome(ctx context.Context, assignment *models.VmTestAssignmentEntity, test *models.ValidationTestEntity, result *models.VmTestResultEntity) {
	if e.activityRepo == nil {
		return
	}
	eventType := models.ActivityTestPassed
	message := fmt.Sprintf("Test %q passed on %s", test.Name, assignment.VMName)
	if result.Status != models.TestPassed {
		eventType = models.ActivityTestFailed
		message = fmt.Sprintf("Test %q %s on %s: %s", test.Name, result.Status, assignment.VMName, result.FailureReason)
	}
	if err := e.activityRepo.Create(ctx, &models.ActivityLogEntity{
		EventType: eventType,
		Subject:   assignment.VMID,
		Message:   message,
	}); err != nil {
		e.log.WithError(err).Warn("Failed to write activity log entry")
	}
}

func (e *engine) truncate(output string) string {
	if e.cfg.OutputTruncateLen <= 0 {
		return output
	}
	return utils.TruncateOutput(output, e.cfg.OutputTruncateLen)
}

func setTestParameters(test *models.ValidationTestEntity, params []models.ScriptParameter) error {
	if params == nil {
		params = []models.ScriptParameter{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	test.Parameters = datatypes.JSON(data)
	return nil
}
