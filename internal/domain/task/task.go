// Package task defines the canonical, tool-agnostic task entity.
package task

import (
	"time"

	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
)

// Task is the internally-owned task row.
type Task struct {
	ID             string             `json:"id"`
	ProjectID      string             `json:"project_id"`
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	Status         unified.TaskStatus `json:"status"`
	Priority       unified.Priority   `json:"priority"`
	Assignee       string             `json:"assignee,omitempty"`
	DueDate        *time.Time         `json:"due_date,omitempty"`
	EstimatedHours float64            `json:"estimated_hours,omitempty"`
	ParentID       string             `json:"parent_id,omitempty"`
	Version        int                `json:"version"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a canonical task.
type CreateRequest struct {
	ProjectID      string             `json:"project_id"`
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	Status         unified.TaskStatus `json:"status"`
	Priority       unified.Priority   `json:"priority"`
	Assignee       string             `json:"assignee,omitempty"`
	DueDate        *time.Time         `json:"due_date,omitempty"`
	EstimatedHours float64            `json:"estimated_hours,omitempty"`
	ParentID       string             `json:"parent_id,omitempty"`
}

// Fingerprint returns the content fingerprint over the task's mutable fields.
func (t *Task) Fingerprint() string {
	return unified.TaskFingerprint(t.Title, t.Description, t.Status, t.Priority)
}

// ApplyUnified overwrites the task's mutable fields from a unified snapshot.
func (t *Task) ApplyUnified(u *unified.Task) {
	t.Title = u.Title
	t.Description = u.Description
	if u.Status != "" {
		t.Status = u.Status
	}
	if u.Priority != "" {
		t.Priority = u.Priority
	}
	if u.Assignee != "" {
		t.Assignee = u.Assignee
	}
	if u.DueDate != nil {
		t.DueDate = u.DueDate
	}
	if u.EstimatedHours > 0 {
		t.EstimatedHours = u.EstimatedHours
	}
}

// ToUnified renders the canonical task as a unified DTO for pushing.
func (t *Task) ToUnified() *unified.Task {
	return &unified.Task{
		Title:          t.Title,
		Description:    t.Description,
		Status:         t.Status,
		Priority:       t.Priority,
		Assignee:       t.Assignee,
		DueDate:        t.DueDate,
		EstimatedHours: t.EstimatedHours,
	}
}

// FromUnified builds a CreateRequest for the given canonical project from a
// pulled unified task.
func FromUnified(projectID string, u *unified.Task) CreateRequest {
	status := u.Status
	if status == "" {
		status = unified.TaskTodo
	}
	priority := u.Priority
	if priority == "" {
		priority = unified.PriorityMedium
	}
	return CreateRequest{
		ProjectID:      projectID,
		Title:          u.Title,
		Description:    u.Description,
		Status:         status,
		Priority:       priority,
		Assignee:       u.Assignee,
		DueDate:        u.DueDate,
		EstimatedHours: u.EstimatedHours,
	}
}
