package models

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type TestResultStatus string

const (
	// TestPassed means the script ran and met all pass criteria.
	TestPassed TestResultStatus = "passed"
	// TestFailed means the script ran but did not meet the pass criteria.
	TestFailed TestResultStatus = "failed"
	// TestError means the run itself broke before criteria could be evaluated.
	TestError TestResultStatus = "error"
	// TestRunning is only ever seen on the assignment's denormalized
	// last-status column while a run is in flight, never on a result row.
	TestRunning TestResultStatus = "running"
)

type ScheduleType string

const (
	ScheduleManual   ScheduleType = "manual"
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
)

// PassCriteria is the declarative pass/fail contract of a validation test.
// Evaluation order is fixed: exit code first, then contains, then not-contains.
type PassCriteria struct {
	ExpectedExitCode  int    `json:"expected_exit_code"`
	OutputContains    string `json:"output_contains,omitempty"`
	OutputNotContains string `json:"output_not_contains,omitempty"`
}

type ValidationTestEntity struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Name              string         `gorm:"not null" json:"name"`
	Description       string         `gorm:"type:text" json:"description"`
	Category          string         `gorm:"type:varchar(50)" json:"category"`
	Dialect           ScriptDialect  `gorm:"type:varchar(20);not null" json:"dialect"`
	TargetOS          TargetOS       `gorm:"type:varchar(20);not null" json:"target_os"`
	Script            string         `gorm:"type:text;not null" json:"script"`
	AltScript         string         `gorm:"type:text" json:"alt_script"`
	Parameters        datatypes.JSON `json:"parameters"`
	ExpectedExitCode  int            `gorm:"not null;default:0" json:"expected_exit_code"`
	OutputContains    string         `gorm:"type:text" json:"output_contains"`
	OutputNotContains string         `gorm:"type:text" json:"output_not_contains"`
	TimeoutSeconds    int            `gorm:"not null;default:120" json:"timeout_seconds"`
	IsBuiltIn         bool           `gorm:"not null;default:false" json:"is_built_in"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ValidationTestEntity) TableName() string {
	return "validation_tests"
}

// Criteria assembles the stored criteria columns into one value.
func (t *ValidationTestEntity) Criteria() PassCriteria {
	return PassCriteria{
		ExpectedExitCode:  t.ExpectedExitCode,
		OutputContains:    t.OutputContains,
		OutputNotContains: t.OutputNotContains,
	}
}

type TestSuiteEntity struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	Name          string        `gorm:"not null" json:"name"`
	Description   string        `gorm:"type:text" json:"description"`
	TestIDs       pq.Int64Array `gorm:"type:bigint[]" json:"test_ids"`
	RunInParallel bool          `gorm:"not null;default:false" json:"run_in_parallel"`
	StopOnFailure bool          `gorm:"not null;default:false" json:"stop_on_failure"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TestSuiteEntity) TableName() string {
	return "test_suites"
}

type VmTestAssignmentEntity struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	TestID         uint              `gorm:"not null;index" json:"test_id"`
	VMID           string            `gorm:"type:text;not null;index" json:"vm_id"`
	VMName         string            `gorm:"not null" json:"vm_name"`
	OSType         TargetOS          `gorm:"type:varchar(20);not null" json:"os_type"`
	Parameters     datatypes.JSONMap `json:"parameters"`
	Enabled        *bool             `gorm:"not null;default:true" json:"enabled"`
	ScheduleType   ScheduleType      `gorm:"type:varchar(20);not null;default:'manual'" json:"schedule_type"`
	IntervalMins   int               `json:"interval_minutes"`
	CronExpression string            `gorm:"type:varchar(100)" json:"cron_expression"`
	NextRunAt      sql.NullTime      `gorm:"index" json:"next_run_at"`

	// Denormalized last-result summary for fast listing. Mutated by the
	// validation engine after every run.
	LastStatus     TestResultStatus `gorm:"type:varchar(20)" json:"last_status"`
	LastDurationMs int              `json:"last_duration_ms"`
	LastOutput     string           `gorm:"type:text" json:"last_output"`
	LastRunAt      sql.NullTime     `json:"last_run_at"`

	Test      *ValidationTestEntity `gorm:"foreignKey:TestID" json:"test,omitempty"`
	CreatedAt time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

func (VmTestAssignmentEntity) TableName() string {
	return "vm_test_assignments"
}

type VmTestResultEntity struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	AssignmentID  uint             `gorm:"not null;index" json:"assignment_id"`
	Status        TestResultStatus `gorm:"type:varchar(20);not null" json:"status"`
	ExitCode      sql.NullInt32    `json:"exit_code"`
	Output        sql.NullString   `gorm:"type:text" json:"output"`
	ErrorOutput   sql.NullString   `gorm:"type:text" json:"error_output"`
	DurationMs    int              `json:"duration_ms"`
	FailureReason string           `gorm:"type:text" json:"failure_reason"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (VmTestResultEntity) TableName() string {
	return "vm_test_results"
}

type NotificationScope string

const (
	ScopeAll  NotificationScope = "all"
	ScopeVM   NotificationScope = "vm"
	ScopeTest NotificationScope = "test"
)

type NotificationTrigger string

const (
	TriggerOnFailure           NotificationTrigger = "on_failure"
	TriggerConsecutiveFailures NotificationTrigger = "consecutive_failures"
)

type NotificationChannel string

const (
	ChannelWebhook     NotificationChannel = "webhook"
	ChannelActivityLog NotificationChannel = "activity_log"
	ChannelTelegram    NotificationChannel = "telegram"
)

type TestNotificationEntity struct {
	ID             uint                `gorm:"primaryKey" json:"id"`
	Name           string              `gorm:"not null" json:"name"`
	Scope          NotificationScope   `gorm:"type:varchar(20);not null" json:"scope"`
	VMID           string              `gorm:"type:text" json:"vm_id"`
	TestID         *uint               `json:"test_id"`
	Trigger        NotificationTrigger `gorm:"type:varchar(30);not null" json:"trigger"`
	FailureCount   int                 `gorm:"not null;default:1" json:"failure_count"`
	CooldownMins   int                 `gorm:"not null;default:0" json:"cooldown_minutes"`
	Channel        NotificationChannel `gorm:"type:varchar(20);not null" json:"channel"`
	WebhookURL     string              `gorm:"type:text" json:"webhook_url"`
	Enabled        *bool               `gorm:"not null;default:true" json:"enabled"`
	LastNotifiedAt sql.NullTime        `json:"last_notified_at"`
	CreatedAt      time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TestNotificationEntity) TableName() string {
	return "test_notifications"
}

type CreateTestRequest struct {
	Name              string            `json:"name" binding:"required"`
	Description       string            `json:"description"`
	Category          string            `json:"category"`
	Dialect           ScriptDialect     `json:"dialect" binding:"required"`
	TargetOS          TargetOS          `json:"target_os"`
	Script            string            `json:"script" binding:"required"`
	AltScript         string            `json:"alt_script"`
	Parameters        []ScriptParameter `json:"parameters"`
	ExpectedExitCode  int               `json:"expected_exit_code"`
	OutputContains    string            `json:"output_contains"`
	OutputNotContains string            `json:"output_not_contains"`
	TimeoutSeconds    int               `json:"timeout_seconds"`
}

type CreateAssignmentRequest struct {
	TestID         uint              `json:"test_id" binding:"required"`
	VMID           string            `json:"vm_id" binding:"required"`
	VMName         string            `json:"vm_name" binding:"required"`
	OSType         TargetOS          `json:"os_type"`
	Parameters     map[string]string `json:"parameters"`
	Enabled        *bool             `json:"enabled"`
	ScheduleType   ScheduleType      `json:"schedule_type"`
	IntervalMins   int               `json:"interval_minutes"`
	CronExpression string            `json:"cron_expression"`
}

type UpdateAssignmentRequest struct {
	Parameters     *map[string]string `json:"parameters"`
	Enabled        *bool              `json:"enabled"`
	ScheduleType   *ScheduleType      `json:"schedule_type"`
	IntervalMins   *int               `json:"interval_minutes"`
	CronExpression *string            `json:"cron_expression"`
}

type AssignmentQueryParam struct {
	VMID    string `json:"vm_id"`
	TestID  *uint  `json:"test_id"`
	Enabled *bool  `json:"enabled"`
	DueOnly bool   `json:"due_only"`
	Limit   int    `json:"limit"`
}

// RunSummary aggregates the outcome of a bulk run (run-all or suite run).
type RunSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Errors int `json:"errors"`
}
