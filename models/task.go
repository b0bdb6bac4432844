package models

import (
	"time"

	"gorm.io/gorm"
)

// Task statuses
const (
	TaskStatusOpen       = "open"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
)

// Task is a shared to-do item on the station dashboard
type Task struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"type:text;not null" json:"title"`
	Status    string    `gorm:"default:'open'" json:"status"`
	Assignee  string    `json:"assignee"`
	Priority  int       `gorm:"default:2" json:"priority"` // 1=High, 2=Medium, 3=Low
	CreatedBy uint      `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidTaskStatus reports whether status is one of the accepted values
func ValidTaskStatus(status string) bool {
	switch status {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusDone:
		return true
	}
	return false
}

// ToPayload converts the task to the task_updated wire shape
func (t *Task) ToPayload() map[string]interface{} {
	return map[string]interface{}{
		"id":         t.ID,
		"title":      t.Title,
		"status":     t.Status,
		"assignee":   t.Assignee,
		"updated_at": t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// MigrateTaskModels runs database migrations for task-related models
func MigrateTaskModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Task{},
	)
}
