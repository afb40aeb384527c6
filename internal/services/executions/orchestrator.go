package executions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/shihanpietersz/migration-manager/internal/config"
	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/repository"
	"github.com/shihanpietersz/migration-manager/internal/services/scripting"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrTargetNotFound    = errors.New("execution target not found")
	ErrScriptNotFound    = errors.New("script not found")
	ErrScriptNotApproved = errors.New("script requires approval before execution")
	ErrNoTargets         = errors.New("execution needs at least one target")
	ErrNoContent         = errors.New("ad-hoc execution needs content and dialect")
	ErrNotRunning        = errors.New("execution is not running")
)

// RemoteRunner is the slice of the remote command client the orchestrator
// drives. Satisfied by *azure.Client.
type RemoteRunner interface {
	SubmitJob(ctx context.Context, vmID, script string, dialect models.ScriptDialect, timeoutSeconds int) (string, error)
	PollJob(ctx context.Context, vmID, jobName string) (*models.JobStatus, error)
	DeleteJob(ctx context.Context, vmID, jobName string)
}

type Orchestrator interface {
	Execute(ctx context.Context, req *models.ExecuteRequest) (*models.ExecutionEntity, error)
	Get(ctx context.Context, id string, withTargets bool) (*models.ExecutionEntity, error)
	List(ctx context.Context, param models.ExecutionQueryParam) ([]models.ExecutionEntity, error)
	Cancel(ctx context.Context, id string) (*models.ExecutionEntity, error)
	RetryFailed(ctx context.Context, id string) (*models.ExecutionEntity, error)
	GetTargetOutput(ctx context.Context, executionID string, targetID uint) (*models.ExecutionTargetEntity, error)
}

type orchestrator struct {
	log           *logrus.Logger
	cfg           *config.OrchestratorConfig
	executionRepo repository.ExecutionRepository
	scriptRepo    repository.ScriptRepository
	activityRepo  repository.ActivityRepository
	remote        RemoteRunner
}

func NewOrchestrator(
	log *logrus.Logger,
	cfg *config.OrchestratorConfig,
	executionRepo repository.ExecutionRepository,
	scriptRepo repository.ScriptRepository,
	activityRepo repository.ActivityRepository,
	remote RemoteRunner,
) Orchestrator {
	return &orchestrator{
		log:           log,
		cfg:           cfg,
		executionRepo: executionRepo,
		scriptRepo:    scriptRepo,
		activityRepo:  activityRepo,
		remote:        remote,
	}
}

// Execute validates the request, persists the execution with all targets
// pending, and starts the drive loop in the background. Saved scripts that
// require approval are rejected until approved; ad-hoc content is the
// caller's responsibility and bypasses the gate.
func (o *orchestrator) Execute(ctx context.Context, req *models.ExecuteRequest) (*models.ExecutionEntity, error) {
	if len(req.Targets) == 0 {
		return nil, ErrNoTargets
	}

	var (
		script         *models.ScriptEntity
		content        = req.Content
		dialect        = req.Dialect
		scriptName     string
		timeoutSeconds = int(o.cfg.TargetTimeout / time.Second)
	)
	if req.ScriptID != nil {
		var err error
		script, err = o.scriptRepo.GetByID(ctx, *req.ScriptID)
		if err != nil {
			return nil, fmt.Errorf("failed to load script: %w", err)
		}
		if script == nil {
			return nil, ErrScriptNotFound
		}
		if script.RiskLevel == models.RiskHigh && !script.Approved() {
			return nil, ErrScriptNotApproved
		}
		content = script.Content
		dialect = script.Dialect
		scriptName = script.Name
		if script.TimeoutSeconds > 0 {
			timeoutSeconds = script.TimeoutSeconds
		}
	}
	if content == "" || dialect == "" {
		return nil, ErrNoContent
	}

	maxParallel := req.MaxParallel
	if maxParallel <= 0 {
		maxParallel = o.cfg.DefaultMaxParallel
	}

	parameters := datatypes.JSONMap{}
	for name, value := range req.Parameters {
		parameters[name] = value
	}

	execution := &models.ExecutionEntity{
		ID:          uuid.New().String(),
		ScriptID:    req.ScriptID,
		ScriptName:  scriptName,
		Content:     content,
		Dialect:     dialect,
		Parameters:  parameters,
		Status:      models.ExecutionPending,
		MaxParallel: maxParallel,
		TotalCount:  len(req.Targets),
	}
	for _, ref := range req.Targets {
		execution.Targets = append(execution.Targets, models.ExecutionTargetEntity{
			VMID:   ref.VMID,
			VMName: ref.VMName,
			OSType: ref.OSType,
			Status: models.ExecutionPending,
		})
	}

	if err := o.executionRepo.Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	o.logActivity(ctx, models.ActivityExecutionStarted, execution.ID,
		fmt.Sprintf("Execution %s started on %d targets", execution.ID, execution.TotalCount))

	utils.SafeGo(func() {
		bg := context.WithoutCancel(ctx)
		if err := o.executionRepo.UpdateFields(bg, execution.ID, map[string]interface{}{
			"status":     models.ExecutionRunning,
			"started_at": time.Now(),
		}); err != nil {
			o.log.WithError(err).WithField("execution_id", execution.ID).Error("Failed to mark execution running")
			return
		}
		o.drive(bg, execution.ID, timeoutSeconds, script)
	})

	return execution, nil
}

func (o *orchestrator) Get(ctx context.Context, id string, withTargets bool) (*models.ExecutionEntity, error) {
	execution, err := o.executionRepo.GetByID(ctx, id, withTargets)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	if execution == nil {
		return nil, ErrExecutionNotFound
	}
	return execution, nil
}

func (o *orchestrator) List(ctx context.Context, param models.ExecutionQueryParam) ([]models.ExecutionEntity, error) {
	return o.executionRepo.GetList(ctx, param)
}

// Cancel stops a running execution. Only pending targets are flipped; a job
// already submitted to a VM cannot be interrupted and is left to finish.
func (o *orchestrator) Cancel(ctx context.Context, id string) (*models.ExecutionEntity, error) {
	execution, err := o.executionRepo.GetByID(ctx, id, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	if execution == nil {
		return nil, ErrExecutionNotFound
	}
	if execution.Status != models.ExecutionRunning {
		return nil, ErrNotRunning
	}

	cancelled, err := o.executionRepo.CancelPendingTargets(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel pending targets: %w", err)
	}
	if err := o.executionRepo.UpdateFields(ctx, id, map[string]interface{}{
		"status":       models.ExecutionCancelled,
		"completed_at": time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("failed to mark execution cancelled: %w", err)
	}

	o.log.WithFields(logrus.Fields{
		"execution_id":      id,
		"cancelled_targets": cancelled,
	}).Info("Cancelled execution")
	o.logActivity(ctx, models.ActivityExecutionCompleted, id,
		fmt.Sprintf("Execution %s cancelled, %d pending targets skipped", id, cancelled))

	return o.executionRepo.GetByID(ctx, id, true)
}

// RetryFailed resets failed targets to pending and re-enters the drive loop.
// When nothing failed it is a no-op and returns the execution unchanged.
func (o *orchestrator) RetryFailed(ctx context.Context, id string) (*models.ExecutionEntity, error) {
	execution, err := o.executionRepo.GetByID(ctx, id, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	if execution == nil {
		return nil, ErrExecutionNotFound
	}
	if !execution.Status.Terminal() {
		return nil, fmt.Errorf("execution %s is still %s", id, execution.Status)
	}

	reset, err := o.executionRepo.ResetFailedTargets(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reset failed targets: %w", err)
	}
	if reset == 0 {
		return execution, nil
	}

	if err := o.executionRepo.UpdateFields(ctx, id, map[string]interface{}{
		"status":       models.ExecutionRunning,
		"fail_count":   0,
		"completed_at": nil,
	}); err != nil {
		return nil, fmt.Errorf("failed to mark execution running: %w", err)
	}

	o.log.WithFields(logrus.Fields{
		"execution_id":  id,
		"reset_targets": reset,
	}).Info("Retrying failed targets")

	var script *models.ScriptEntity
	if execution.ScriptID != nil {
		script, _ = o.scriptRepo.GetByID(ctx, *execution.ScriptID)
	}
	timeoutSeconds := int(o.cfg.TargetTimeout / time.Second)
	if script != nil && script.TimeoutSeconds > 0 {
		timeoutSeconds = script.TimeoutSeconds
	}
	utils.SafeGo(func() {
		o.drive(context.WithoutCancel(ctx), id, timeoutSeconds, script)
	})

	return o.executionRepo.GetByID(ctx, id, false)
}

func (o *orchestrator) GetTargetOutput(ctx context.Context, executionID string, targetID uint) (*models.ExecutionTargetEntity, error) {
	target, err := o.executionRepo.GetTarget(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load target: %w", err)
	}
	if target == nil || target.ExecutionID != executionID {
		return nil, ErrTargetNotFound
	}
	return target, nil
}

// drive runs pending targets in consecutive batches of maxParallel until no
// pending targets remain, then finalizes the aggregate status. Each batch
// fully persists before the next starts.
func (o *orchestrator) drive(ctx context.Context, executionID string, timeoutSeconds int, script *models.ScriptEntity) {
	for {
		execution, err := o.executionRepo.GetByID(ctx, executionID, false)
		if err != nil || execution == nil {
			o.log.WithError(err).WithField("execution_id", executionID).Error("Failed to reload execution, stopping drive loop")
			return
		}
		if execution.Status != models.ExecutionRunning {
			return
		}

		prepared, err := o.prepareScript(execution, script)
		if err != nil {
			o.failAllPending(ctx, execution, err)
			o.finalize(ctx, executionID)
			return
		}

		pending, err := o.executionRepo.GetTargets(ctx, executionID, []models.ExecutionStatus{models.ExecutionPending})
		if err != nil {
			o.log.WithError(err).WithField("execution_id", executionID).Error("Failed to list pending targets")
			return
		}
		if len(pending) == 0 {
			o.finalize(ctx, executionID)
			return
		}

		batch := pending
		if len(batch) > execution.MaxParallel {
			batch = batch[:execution.MaxParallel]
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := range batch {
			target := batch[i]
			g.Go(func() error {
				o.runTarget(gctx, execution, &target, prepared, timeoutSeconds)
				return nil
			})
		}
		g.Wait()
	}
}

// runTarget submits the script to one VM and polls until the job reaches a
// terminal state or the per-target ceiling elapses. All outcomes are
// persisted here, including the aggregate counter bump.
func (o *orchestrator) runTarget(ctx context.Context, execution *models.ExecutionEntity, target *models.ExecutionTargetEntity, script string, timeoutSeconds int) {
	logger := o.log.WithFields(logrus.Fields{
		"execution_id": execution.ID,
		"target_id":    target.ID,
		"vm_name":      target.VMName,
	})

	claimed, err := o.executionRepo.MarkTargetRunning(ctx, target.ID)
	if err != nil {
		logger.WithError(err).Error("Failed to mark target running")
		return
	}
	if !claimed {
		// Cancelled between the batch fetch and now.
		logger.Info("Target no longer pending, skipping")
		return
	}

	jobName, err := o.remote.SubmitJob(ctx, target.VMID, script, execution.Dialect, timeoutSeconds)
	if err != nil {
		logger.WithError(err).Warn("Job submission failed")
		o.completeTarget(ctx, execution.ID, target.ID, false, nil, "", "", "submission failed: "+err.Error())
		return
	}
	defer o.remote.DeleteJob(ctx, target.VMID, jobName)

	if err := o.executionRepo.UpdateTargetFields(ctx, target.ID, map[string]interface{}{
		"job_name": jobName,
	}); err != nil {
		logger.WithError(err).Error("Failed to store job name")
	}

	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	for {
		status, err := o.remote.PollJob(ctx, target.VMID, jobName)
		if err != nil {
			logger.WithError(err).Warn("Job poll failed, will retry")
		} else if status.State == models.JobCompleted || status.State == models.JobFailed {
			exitCode := status.ExitCode
			o.completeTarget(ctx, execution.ID, target.ID, status.State == models.JobCompleted,
				&exitCode, status.Output, status.Error, "")
			return
		}

		if time.Now().After(deadline) {
			logger.Warn("Target timed out")
			o.completeTarget(ctx, execution.ID, target.ID, false, nil, "", "",
				fmt.Sprintf("timed out after %ds", timeoutSeconds))
			return
		}
		select {
		case <-ctx.Done():
			o.completeTarget(ctx, execution.ID, target.ID, false, nil, "", "", "orchestrator shutting down")
			return
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

func (o *orchestrator) completeTarget(ctx context.Context, executionID string, targetID uint, success bool, exitCode *int, output, errorOutput, errorMessage string) {
	fields := map[string]interface{}{
		"status":       models.ExecutionFailed,
		"completed_at": time.Now(),
	}
	if success {
		fields["status"] = models.ExecutionCompleted
	}
	if exitCode != nil {
		fields["exit_code"] = *exitCode
	}
	if output != "" {
		fields["output"] = output
	}
	if errorOutput != "" {
		fields["error_output"] = errorOutput
	}
	if errorMessage != "" {
		fields["error_message"] = errorMessage
	}
	if err := o.executionRepo.UpdateTargetFields(ctx, targetID, fields); err != nil {
		o.log.WithError(err).WithField("target_id", targetID).Error("Failed to persist target outcome")
	}

	var err error
	if success {
		err = o.executionRepo.IncrementSuccessCount(ctx, executionID)
	} else {
		err = o.executionRepo.IncrementFailCount(ctx, executionID)
	}
	if err != nil {
		o.log.WithError(err).WithField("execution_id", executionID).Error("Failed to bump execution counter")
	}
}

// finalize computes the aggregate status once no pending targets remain:
// failed only when not a single target succeeded, completed otherwise.
func (o *orchestrator) finalize(ctx context.Context, executionID string) {
	execution, err := o.executionRepo.GetByID(ctx, executionID, false)
	if err != nil || execution == nil {
		o.log.WithError(err).WithField("execution_id", executionID).Error("Failed to reload execution for finalize")
		return
	}
	if execution.Status != models.ExecutionRunning {
		return
	}

	status := models.ExecutionCompleted
	if execution.SuccessCount == 0 {
		status = models.ExecutionFailed
	}
	if err := o.executionRepo.UpdateFields(ctx, executionID, map[string]interface{}{
		"status":       status,
		"completed_at": time.Now(),
	}); err != nil {
		o.log.WithError(err).WithField("execution_id", executionID).Error("Failed to finalize execution")
		return
	}

	o.log.WithFields(logrus.Fields{
		"execution_id": executionID,
		"status":       status,
		"success":      execution.SuccessCount,
		"failed":       execution.FailCount,
	}).Info("Execution finished")
	o.logActivity(ctx, models.ActivityExecutionCompleted, executionID,
		fmt.Sprintf("Execution %s finished as %s (%d succeeded, %d failed)",
			executionID, status, execution.SuccessCount, execution.FailCount))
}

func (o *orchestrator) failAllPending(ctx context.Context, execution *models.ExecutionEntity, cause error) {
	o.log.WithError(cause).WithField("execution_id", execution.ID).Error("Script preparation failed")
	pending, err := o.executionRepo.GetTargets(ctx, execution.ID, []models.ExecutionStatus{models.ExecutionPending})
	if err != nil {
		return
	}
	for _, target := range pending {
		o.completeTarget(ctx, execution.ID, target.ID, false, nil, "", "", cause.Error())
	}
}

// prepareScript substitutes parameter values into the execution content.
// Declared script parameters keep their declared order, which matters for
// bash positional access; undeclared extras follow in name order.
func (o *orchestrator) prepareScript(execution *models.ExecutionEntity, script *models.ScriptEntity) (string, error) {
	if len(execution.Parameters) == 0 {
		return execution.Content, nil
	}

	values := map[string]string{}
	for name, raw := range execution.Parameters {
		values[name] = fmt.Sprintf("%v", raw)
	}

	var params []scripting.Param
	if script != nil && len(script.Parameters) > 0 {
		var declared []models.ScriptParameter
		if err := json.Unmarshal(script.Parameters, &declared); err != nil {
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

	return scripting.Substitute(execution.Content, execution.Dialect, params)
}

func (o *orchestrator) logActivity(ctx context.Context, eventType models.ActivityEventType, subject, message string) {
	if o.activityRepo == nil {
		return
	}
	if err := o.activityRepo.Create(ctx, &models.ActivityLogEntity{
		EventType: eventType,
		Subject:   subject,
		Message:   message,
	}); err != nil {
		o.log.WithError(err).Warn("Failed to write activity log entry")
	}
}
