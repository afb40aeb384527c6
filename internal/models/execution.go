package models

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

type ExecutionEntity struct {
	ID           string                  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ScriptID     *uint                   `json:"script_id"`
	ScriptName   string                  `json:"script_name"`
	Content      string                  `gorm:"type:text;not null" json:"content"`
	Dialect      ScriptDialect           `gorm:"type:varchar(20);not null" json:"dialect"`
	Parameters   datatypes.JSONMap       `json:"parameters"`
	Status       ExecutionStatus         `gorm:"type:varchar(20);not null" json:"status"`
	MaxParallel  int                     `gorm:"not null" json:"max_parallel"`
	TotalCount   int                     `gorm:"not null" json:"total_count"`
	SuccessCount int                     `gorm:"not null;default:0" json:"success_count"`
	FailCount    int                     `gorm:"not null;default:0" json:"fail_count"`
	StartedAt    sql.NullTime            `json:"started_at"`
	CompletedAt  sql.NullTime            `json:"completed_at"`
	Targets      []ExecutionTargetEntity `gorm:"foreignKey:ExecutionID" json:"targets,omitempty"`
	CreatedAt    time.Time               `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time               `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ExecutionEntity) TableName() string {
	return "executions"
}

type ExecutionTargetEntity struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	ExecutionID  string          `gorm:"type:varchar(36);not null;index" json:"execution_id"`
	VMID         string          `gorm:"type:text;not null" json:"vm_id"`
	VMName       string          `gorm:"not null" json:"vm_name"`
	OSType       TargetOS        `gorm:"type:varchar(20);not null" json:"os_type"`
	Status       ExecutionStatus `gorm:"type:varchar(20);not null" json:"status"`
	JobName      sql.NullString  `gorm:"type:varchar(64)" json:"job_name"`
	ExitCode     sql.NullInt32   `json:"exit_code"`
	Output       sql.NullString  `gorm:"type:text" json:"output"`
	ErrorOutput  sql.NullString  `gorm:"type:text" json:"error_output"`
	ErrorMessage sql.NullString  `gorm:"type:text" json:"error_message"`
	StartedAt    sql.NullTime    `json:"started_at"`
	CompletedAt  sql.NullTime    `json:"completed_at"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ExecutionTargetEntity) TableName() string {
	return "execution_targets"
}

// ExecutionTargetRef identifies one VM an execution should run against.
type ExecutionTargetRef struct {
	VMID   string   `json:"vm_id" binding:"required"`
	VMName string   `json:"vm_name" binding:"required"`
	OSType TargetOS `json:"os_type" binding:"required"`
}

// ExecuteRequest starts an execution of either a saved script (ScriptID) or an
// inline ad-hoc script (Content + Dialect).
type ExecuteRequest struct {
	ScriptID    *uint                `json:"script_id"`
	Content     string               `json:"content"`
	Dialect     ScriptDialect        `json:"dialect"`
	Parameters  map[string]string    `json:"parameters"`
	Targets     []ExecutionTargetRef `json:"targets" binding:"required"`
	MaxParallel int                  `json:"max_parallel"`
}

type ExecutionQueryParam struct {
	Statuses    []ExecutionStatus `json:"statuses"`
	ScriptID    *uint             `json:"script_id"`
	WithTargets bool              `json:"with_targets"`
	Limit       int               `json:"limit"`
}
