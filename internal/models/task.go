package models

import "time"

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

// Scheduled task states. Everything except pending is terminal.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	return s != TaskStatusPending
}

// ScheduledTask is a persisted intent to restart a set of servers later.
type ScheduledTask struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	ServerIDs          []string   `json:"serverIds"`
	ScheduledTime      time.Time  `json:"scheduledTime"`
	IsRecurring        bool       `json:"isRecurring"`
	CronExpression     string     `json:"cronExpression,omitempty"`
	Status             TaskStatus `json:"status"`
	CreatedBy          string     `json:"createdBy"`
	EmailNotification  bool       `json:"emailNotification"`
	NotificationEmails []string   `json:"notificationEmails"`
	SMSNotification    bool       `json:"smsNotification"`
	NotificationPhones []string   `json:"notificationPhones"`
	LastRunID          string     `json:"lastRunId,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// WantsEmail reports whether an email should be sent when the task fires.
func (t ScheduledTask) WantsEmail() bool {
	return t.EmailNotification && len(t.NotificationEmails) > 0
}

// WantsSMS reports whether an SMS should be sent when the task fires.
func (t ScheduledTask) WantsSMS() bool {
	return t.SMSNotification && len(t.NotificationPhones) > 0
}
