package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shihanpietersz/migration-manager/internal/config"
	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/pkg/ratelimit"
	"github.com/shihanpietersz/migration-manager/pkg/redis"
)

const (
	// Action-style submissions hold the HTTP request open, so the transport
	// timeout has to cover a full remote execution.
	actionRequestTimeout = 5 * time.Minute

	asyncPollInterval = 10 * time.Second
	asyncPollCeiling  = 5 * time.Minute

	// A job can report completed with exit code 0 before its output blob has
	// been flushed into the instance view. One delayed re-read covers it.
	emptyOutputRetryDelay = 3 * time.Second

	jobNamePrefix = "mig"

	vmMetadataKeyPrefix = "vm:meta:"
)

// vmMetadata is the cached slice of a VM resource the client needs for every
// submission: which shell to drive and where to place job resources.
type vmMetadata struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	OSType   string `json:"os_type"`
}

// Client drives the Run Command surface of the Azure management API. It owns
// request signing, rate limiting, response decoding and the normalization of
// both submission styles into RunResult / JobStatus.
type Client struct {
	cfg     *config.AzureConfig
	log     *logrus.Logger
	tokens  TokenProvider
	limiter *ratelimit.ARMRateLimiter
	cache   *redis.Client
	client  *http.Client
}

func NewClient(cfg *config.AzureConfig, log *logrus.Logger, tokens TokenProvider, limiter *ratelimit.ARMRateLimiter, cache *redis.Client) *Client {
	return &Client{
		cfg:     cfg,
		log:     log,
		tokens:  tokens,
		limiter: limiter,
		cache:   cache,
		client:  &http.Client{Timeout: actionRequestTimeout},
	}
}

func commandIDForDialect(dialect models.ScriptDialect) string {
	if dialect == models.DialectBash {
		return "RunShellScript"
	}
	return "RunPowerShellScript"
}

// RunSync submits a script through the action-style endpoint and blocks until
// output is available. When the action path cannot deliver a usable result it
// falls back to a short-lived job resource so the caller still gets output.
func (c *Client) RunSync(ctx context.Context, vmID, script string, dialect models.ScriptDialect, timeoutSeconds int) (*models.RunResult, error) {
	body := map[string]interface{}{
		"commandId": commandIDForDialect(dialect),
		"script":    strings.Split(script, "\n"),
	}

	url := fmt.Sprintf("%s%s/runCommand?api-version=%s", c.cfg.ManagementBaseURL, vmID, c.cfg.APIVersion)
	resp, err := c.doJSON(ctx, http.MethodPost, url, vmID, body)
	if err != nil {
		c.log.WithError(err).WithField("vm_id", vmID).Warn("Action-style run command failed at transport, falling back to job resource")
		return c.runViaJob(ctx, vmID, script, dialect, timeoutSeconds)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read run command response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var action models.RunCommandActionResponse
		if err := json.Unmarshal(raw, &action); err != nil || len(action.Value) == 0 {
			c.log.WithField("vm_id", vmID).Warn("Action-style run command returned no usable body, falling back to job resource")
			return c.runViaJob(ctx, vmID, script, dialect, timeoutSeconds)
		}
		return actionResult(&action), nil

	case resp.StatusCode == http.StatusAccepted:
		pollURL := resp.Header.Get("Azure-AsyncOperation")
		if pollURL == "" {
			pollURL = resp.Header.Get("Location")
		}
		if pollURL == "" {
			return nil, fmt.Errorf("run command accepted without an async operation URL")
		}
		result, err := c.pollAsyncOperation(ctx, pollURL)
		if err != nil {
			c.log.WithError(err).WithField("vm_id", vmID).Warn("Async operation polling failed, falling back to job resource")
			return c.runViaJob(ctx, vmID, script, dialect, timeoutSeconds)
		}
		return result, nil

	default:
		// The management plane answered and rejected the run, so the script
		// never started. Reported through the result, not as a Go error.
		return &models.RunResult{
			Success:  false,
			ExitCode: -1,
			Error:    decodeARMError(resp.StatusCode, raw).Error(),
		}, nil
	}
}

// actionResult flattens the value/statuses list into output and error streams.
func actionResult(action *models.RunCommandActionResponse) *models.RunResult {
	result := &models.RunResult{Success: true}
	for _, status := range action.Value {
		switch {
		case strings.Contains(status.Code, "StdOut"):
			result.Output = status.Message
		case strings.Contains(status.Code, "StdErr"):
			result.Error = status.Message
		}
	}
	return result
}

// pollAsyncOperation follows an Azure-AsyncOperation URL until the operation
// reaches a terminal status or the polling ceiling elapses.
func (c *Client) pollAsyncOperation(ctx context.Context, pollURL string) (*models.RunResult, error) {
	deadline := time.Now().Add(asyncPollCeiling)

	for {
		resp, err := c.doJSON(ctx, http.MethodGet, pollURL, "", nil)
		if err != nil {
			return nil, err
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read async operation response: %w", err)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			return nil, decodeARMError(resp.StatusCode, raw)
		}

		var op models.AsyncOperationResponse
		if err := json.Unmarshal(raw, &op); err != nil {
			return nil, fmt.Errorf("failed to unmarshal async operation response: %w", err)
		}

		switch op.Status {
		case "Succeeded":
			if op.Properties != nil && op.Properties.Output != nil {
				return actionResult(op.Properties.Output), nil
			}
			return &models.RunResult{Success: true}, nil
		case "Failed", "Canceled":
			result := &models.RunResult{Success: false, ExitCode: -1}
			if op.Error != nil {
				result.Error = fmt.Sprintf("%s: %s", op.Error.Code, op.Error.Message)
			} else {
				result.Error = "remote operation " + strings.ToLower(op.Status)
			}
			return result, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("async operation did not complete within %s", asyncPollCeiling)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(asyncPollInterval):
		}
	}
}

// runViaJob is the fallback path for RunSync: a one-off job resource that is
// polled to completion and deleted afterwards.
func (c *Client) runViaJob(ctx context.Context, vmID, script string, dialect models.ScriptDialect, timeoutSeconds int) (*models.RunResult, error) {
	jobName, err := c.SubmitJob(ctx, vmID, script, dialect, timeoutSeconds)
	if err != nil {
		return nil, err
	}
	defer c.DeleteJob(context.WithoutCancel(ctx), vmID, jobName)

	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	for {
		status, err := c.PollJob(ctx, vmID, jobName)
		if err != nil {
			return nil, err
		}
		if status.State == models.JobCompleted || status.State == models.JobFailed {
			return &models.RunResult{
				Success:  status.State == models.JobCompleted,
				Output:   status.Output,
				Error:    status.Error,
				ExitCode: status.ExitCode,
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("job %s did not complete within %ds", jobName, timeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(asyncPollInterval):
		}
	}
}

// SubmitJob creates a named run command resource on the VM and returns its
// generated name. It does not wait for execution; pair it with PollJob.
func (c *Client) SubmitJob(ctx context.Context, vmID, script string, dialect models.ScriptDialect, timeoutSeconds int) (string, error) {
	meta, err := c.vmMetadata(ctx, vmID)
	if err != nil {
		return "", err
	}

	jobName := fmt.Sprintf("%s-%s", jobNamePrefix, uuid.New().String())
	body := map[string]interface{}{
		"location": meta.Location,
		"properties": map[string]interface{}{
			"source": map[string]interface{}{
				"script": script,
			},
			"timeoutInSeconds": timeoutSeconds,
			"asyncExecution":   false,
		},
	}

	url := fmt.Sprintf("%s%s/runCommands/%s?api-version=%s", c.cfg.ManagementBaseURL, vmID, jobName, c.cfg.APIVersion)
	resp, err := c.doJSON(ctx, http.MethodPut, url, vmID, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read job submission response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", decodeARMError(resp.StatusCode, raw)
	}

	c.log.WithFields(logrus.Fields{
		"vm_id":    vmID,
		"job_name": jobName,
	}).Info("Submitted run command job")

	return jobName, nil
}

// PollJob reads a job resource with its instance view expanded and normalizes
// the two state machines into one JobStatus. The execution state wins over
// the provisioning state whenever both are present.
func (c *Client) PollJob(ctx context.Context, vmID, jobName string) (*models.JobStatus, error) {
	status, err := c.readJob(ctx, vmID, jobName)
	if err != nil {
		return nil, err
	}

	// Completed with exit code 0 but no output usually means the instance
	// view lagged the execution; re-read once before reporting empty output.
	if status.State == models.JobCompleted && status.ExitCode == 0 && status.Output == "" {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(emptyOutputRetryDelay):
		}
		return c.readJob(ctx, vmID, jobName)
	}

	return status, nil
}

func (c *Client) readJob(ctx context.Context, vmID, jobName string) (*models.JobStatus, error) {
	url := fmt.Sprintf("%s%s/runCommands/%s?$expand=instanceView&api-version=%s", c.cfg.ManagementBaseURL, vmID, jobName, c.cfg.APIVersion)
	resp, err := c.doJSON(ctx, http.MethodGet, url, vmID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read job response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeARMError(resp.StatusCode, raw)
	}

	var job models.RunCommandJobResponse
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job response: %w", err)
	}

	return normalizeJob(&job), nil
}

func normalizeJob(job *models.RunCommandJobResponse) *models.JobStatus {
	iv := job.Properties.InstanceView
	if iv != nil && iv.ExecutionState != "" {
		status := &models.JobStatus{
			Output:   iv.Output,
			Error:    iv.Error,
			ExitCode: iv.ExitCode,
		}
		switch iv.ExecutionState {
		case "Succeeded":
			status.State = models.JobCompleted
		case "Failed", "TimedOut", "Canceled":
			status.State = models.JobFailed
			if status.Error == "" {
				status.Error = iv.ExecutionMessage
			}
			// Only a Failed state with a nonzero code is a real script exit.
			// TimedOut and Canceled never finished, and Failed with code 0 is
			// an extension error, so there is no exit code to report.
			if iv.ExecutionState != "Failed" || iv.ExitCode == 0 {
				status.ExitCode = -1
			}
		case "Running":
			status.State = models.JobRunning
		default:
			status.State = models.JobPending
		}
		return status
	}

	switch job.Properties.ProvisioningState {
	case "Failed", "Canceled":
		return &models.JobStatus{State: models.JobFailed, ExitCode: -1, Error: "job provisioning " + strings.ToLower(job.Properties.ProvisioningState)}
	default:
		// Creating, Updating, or Succeeded without an instance view yet.
		return &models.JobStatus{State: models.JobPending}
	}
}

// DeleteJob removes a job resource. Failures are logged and swallowed: a
// leaked resource is preferable to failing an execution whose result is
// already known.
func (c *Client) DeleteJob(ctx context.Context, vmID, jobName string) {
	url := fmt.Sprintf("%s%s/runCommands/%s?api-version=%s", c.cfg.ManagementBaseURL, vmID, jobName, c.cfg.APIVersion)
	resp, err := c.doJSON(ctx, http.MethodDelete, url, vmID, nil)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"vm_id":    vmID,
			"job_name": jobName,
		}).Warn("Failed to delete run command job")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		c.log.WithFields(logrus.Fields{
			"vm_id":    vmID,
			"job_name": jobName,
			"status":   resp.StatusCode,
		}).Warn("Delete of run command job returned error status")
	}
}

// ResolveOSType looks up which shell family the VM runs, serving from the
// metadata cache when possible.
func (c *Client) ResolveOSType(ctx context.Context, vmID string) (models.TargetOS, error) {
	meta, err := c.vmMetadata(ctx, vmID)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(meta.OSType, "Windows") {
		return models.OSWindows, nil
	}
	return models.OSLinux, nil
}

func (c *Client) vmMetadata(ctx context.Context, vmID string) (*vmMetadata, error) {
	cacheKey := vmMetadataKeyPrefix + vmID

	if c.cache != nil {
		var cached vmMetadata
		found, err := c.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			c.log.WithError(err).Debug("VM metadata cache read failed")
		} else if found {
			return &cached, nil
		}
	}

	url := fmt.Sprintf("%s%s?api-version=%s", c.cfg.ManagementBaseURL, vmID, c.cfg.APIVersion)
	resp, err := c.doJSON(ctx, http.MethodGet, url, vmID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read VM response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeARMError(resp.StatusCode, raw)
	}

	var vm models.VirtualMachineResponse
	if err := json.Unmarshal(raw, &vm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal VM response: %w", err)
	}

	meta := &vmMetadata{
		Name:     vm.Name,
		Location: vm.Location,
		OSType:   vm.Properties.StorageProfile.OSDisk.OSType,
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, cacheKey, meta, c.cfg.VMMetadataCacheTTL); err != nil {
			c.log.WithError(err).Debug("VM metadata cache write failed")
		}
	}

	return meta, nil
}

// doJSON performs one authenticated management API call, honoring the rate
// limiter before the request leaves the process.
func (c *Client) doJSON(ctx context.Context, method, url, vmID string, body interface{}) (*http.Response, error) {
	if err := c.limiter.Wait(ctx, vmID); err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.client.Do(req)
}

func decodeARMError(statusCode int, raw []byte) error {
	var armErr models.AzureErrorResponse
	if err := json.Unmarshal(raw, &armErr); err == nil && armErr.Error.Code != "" {
		return fmt.Errorf("management API returned status %d: %s: %s", statusCode, armErr.Error.Code, armErr.Error.Message)
	}
	return fmt.Errorf("management API returned status %d: %s", statusCode, string(raw))
}
