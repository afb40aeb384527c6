package models

// Wire types for the Azure management API. Responses are decoded into these
// shapes at the client boundary and never passed around untyped.

// AzureTokenResponse is the OAuth client-credentials token exchange response.
type AzureTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// InstanceViewStatus is one entry of a run command's value/statuses list.
// Codes look like "ComponentStatus/StdOut/succeeded".
type InstanceViewStatus struct {
	Code          string `json:"code"`
	Level         string `json:"level"`
	DisplayStatus string `json:"displayStatus"`
	Message       string `json:"message"`
}

// RunCommandActionResponse is the immediate-output body of the action-style
// POST .../runCommand call.
type RunCommandActionResponse struct {
	Value []InstanceViewStatus `json:"value"`
}

// RunCommandJobInstanceView is the execution side of a run command job
// resource, returned under $expand=instanceView.
type RunCommandJobInstanceView struct {
	ExecutionState   string               `json:"executionState"`
	ExitCode         int                  `json:"exitCode"`
	Output           string               `json:"output"`
	Error            string               `json:"error"`
	ExecutionMessage string               `json:"executionMessage"`
	Statuses         []InstanceViewStatus `json:"statuses"`
}

// RunCommandJobResponse is the resource-style GET body for a named run
// command job. ProvisioningState tracks the resource, InstanceView the
// execution; the execution state wins when both are present.
type RunCommandJobResponse struct {
	Name       string `json:"name"`
	Properties struct {
		ProvisioningState string                     `json:"provisioningState"`
		InstanceView      *RunCommandJobInstanceView `json:"instanceView"`
	} `json:"properties"`
}

// AsyncOperationResponse is the body polled via the Azure-AsyncOperation URL
// after an HTTP 202.
type AsyncOperationResponse struct {
	Status     string            `json:"status"`
	Error      *AzureErrorDetail `json:"error"`
	Properties *struct {
		Output *RunCommandActionResponse `json:"output"`
	} `json:"properties"`
}

// AzureErrorResponse is the standard ARM error envelope.
type AzureErrorResponse struct {
	Error AzureErrorDetail `json:"error"`
}

type AzureErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VirtualMachineResponse carries the subset of a VM resource needed to
// resolve its OS type and place run command resources.
type VirtualMachineResponse struct {
	Name       string `json:"name"`
	Location   string `json:"location"`
	Properties struct {
		StorageProfile struct {
			OSDisk struct {
				OSType string `json:"osType"`
			} `json:"osDisk"`
		} `json:"storageProfile"`
	} `json:"properties"`
}

// JobStatusState is the normalized state of a polled run command job.
type JobStatusState string

const (
	JobPending   JobStatusState = "pending"
	JobRunning   JobStatusState = "running"
	JobCompleted JobStatusState = "completed"
	JobFailed    JobStatusState = "failed"
)

// JobStatus is the normalized view of a polled run command job.
type JobStatus struct {
	State    JobStatusState `json:"state"`
	Output   string         `json:"output"`
	Error    string         `json:"error"`
	ExitCode int            `json:"exit_code"`
}

// RunResult is the outcome of a synchronous run command submission. A remote
// failure is reported through Success/Error, not as a Go error. ExitCode is
// -1 when the script never ran to completion and no real exit code exists.
type RunResult struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error"`
	ExitCode int    `json:"exit_code"`
}
