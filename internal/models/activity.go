package models

import "time"

type ActivityEventType string

const (
	ActivityExecutionStarted   ActivityEventType = "execution_started"
	ActivityExecutionCompleted ActivityEventType = "execution_completed"
	ActivityTestPassed         ActivityEventType = "test_passed"
	ActivityTestFailed         ActivityEventType = "test_failed"
	ActivityNotificationFired  ActivityEventType = "notification_fired"
)

// ActivityLogEntity is an append-only audit record surfaced on the dashboard.
type ActivityLogEntity struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	EventType ActivityEventType `gorm:"type:varchar(40);not null;index" json:"event_type"`
	Subject   string            `gorm:"type:text" json:"subject"`
	Message   string            `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func (ActivityLogEntity) TableName() string {
	return "activity_log"
}

type ActivityQueryParam struct {
	EventType ActivityEventType `json:"event_type"`
	Limit     int               `json:"limit"`
}
