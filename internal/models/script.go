package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type ScriptDialect string

const (
	DialectPowerShell ScriptDialect = "powershell"
	DialectBash       ScriptDialect = "bash"
)

type TargetOS string

const (
	OSWindows TargetOS = "windows"
	OSLinux   TargetOS = "linux"
	OSBoth    TargetOS = "both"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type IssueSeverity string

const (
	SeverityInfo     IssueSeverity = "info"
	SeverityWarning  IssueSeverity = "warning"
	SeverityDanger   IssueSeverity = "danger"
	SeverityCritical IssueSeverity = "critical"
)

// ScriptParameter describes one declared parameter of a script. Values are
// injected by text substitution, see internal/services/scripting.
type ScriptParameter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// SecurityIssue is a single rule match produced by the security scanner.
// Line and Column are 1-based.
type SecurityIssue struct {
	Severity    IssueSeverity `json:"severity"`
	Line        int           `json:"line"`
	Column      int           `json:"column"`
	RuleID      string        `json:"rule_id"`
	Description string        `json:"description"`
	MatchedText string        `json:"matched_text"`
}

// ScanResult is the transient output of the security scanner. A snapshot of
// Issues and Recommendations is persisted on the script.
type ScanResult struct {
	RiskLevel        RiskLevel       `json:"risk_level"`
	Score            int             `json:"score"`
	Issues           []SecurityIssue `json:"issues"`
	Recommendations  []string        `json:"recommendations"`
	CanSave          bool            `json:"can_save"`
	RequiresApproval bool            `json:"requires_approval"`
}

type ScriptEntity struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Name            string         `gorm:"not null" json:"name"`
	Description     string         `gorm:"type:text" json:"description"`
	Content         string         `gorm:"type:text;not null" json:"content"`
	Dialect         ScriptDialect  `gorm:"type:varchar(20);not null" json:"dialect"`
	TargetOS        TargetOS       `gorm:"type:varchar(20);not null" json:"target_os"`
	Parameters      datatypes.JSON `json:"parameters"`
	TimeoutSeconds  int            `gorm:"not null;default:600" json:"timeout_seconds"`
	RiskLevel       RiskLevel      `gorm:"type:varchar(20);not null" json:"risk_level"`
	SecurityScore   int            `json:"security_score"`
	SecurityIssues  datatypes.JSON `json:"security_issues"`
	Recommendations pq.StringArray `gorm:"type:text[]" json:"recommendations"`
	IsBuiltIn       bool           `gorm:"not null;default:false" json:"is_built_in"`
	ApprovedBy      *string        `json:"approved_by"`
	ApprovedAt      *time.Time     `json:"approved_at"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ScriptEntity) TableName() string {
	return "scripts"
}

// Approved reports whether the script carries an approval stamp.
func (s *ScriptEntity) Approved() bool {
	return s.ApprovedBy != nil && s.ApprovedAt != nil
}

type CreateScriptRequest struct {
	Name           string            `json:"name" binding:"required"`
	Description    string            `json:"description"`
	Content        string            `json:"content" binding:"required"`
	Dialect        ScriptDialect     `json:"dialect" binding:"required"`
	TargetOS       TargetOS          `json:"target_os"`
	Parameters     []ScriptParameter `json:"parameters"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

type UpdateScriptRequest struct {
	Name           *string            `json:"name"`
	Description    *string            `json:"description"`
	Content        *string            `json:"content"`
	TargetOS       *TargetOS          `json:"target_os"`
	Parameters     *[]ScriptParameter `json:"parameters"`
	TimeoutSeconds *int               `json:"timeout_seconds"`
}

type ValidateScriptRequest struct {
	Content string        `json:"content" binding:"required"`
	Dialect ScriptDialect `json:"dialect" binding:"required"`
}

type ApproveScriptRequest struct {
	ApprovedBy string `json:"approved_by" binding:"required"`
}

type ScriptQueryParam struct {
	Dialect   ScriptDialect `json:"dialect"`
	TargetOS  TargetOS      `json:"target_os"`
	RiskLevel RiskLevel     `json:"risk_level"`
	BuiltIn   *bool         `json:"built_in"`
	Limit     int           `json:"limit"`
}
