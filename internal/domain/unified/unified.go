// Package unified defines the canonical cross-tool DTOs that every PM tool
// adapter translates into and out of. The types here are transient: they are
// never persisted directly, only mapped onto canonical rows or external
// payloads.
package unified

import "time"

// ProjectStatus is the tool-agnostic project lifecycle state.
type ProjectStatus string

const (
	ProjectPlanning  ProjectStatus = "planning"
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

// TaskStatus is the tool-agnostic task state.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskReview     TaskStatus = "review"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

// Priority is the tool-agnostic task priority.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Project is the unified representation of an external project.
type Project struct {
	ExternalID  string         `json:"external_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      ProjectStatus  `json:"status"`
	StartDate   *time.Time     `json:"start_date,omitempty"`
	EndDate     *time.Time     `json:"end_date,omitempty"`
	Owner       string         `json:"owner,omitempty"`
	URL         string         `json:"url,omitempty"`
	// RemoteUpdatedAt carries the tool's last-modified timestamp where the
	// tool exposes a trustworthy one. Nil otherwise.
	RemoteUpdatedAt *time.Time     `json:"remote_updated_at,omitempty"`
	RawData         map[string]any `json:"raw_data,omitempty"`
}

// Task is the unified representation of an external work item.
type Task struct {
	ExternalID        string     `json:"external_id"`
	ProjectExternalID string     `json:"project_external_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Status            TaskStatus `json:"status"`
	Priority          Priority   `json:"priority"`
	Assignee          string     `json:"assignee,omitempty"`
	DueDate           *time.Time `json:"due_date,omitempty"`
	EstimatedHours    float64    `json:"estimated_hours,omitempty"`
	ParentID          string     `json:"parent_id,omitempty"`
	URL               string     `json:"url,omitempty"`
	RemoteUpdatedAt   *time.Time `json:"remote_updated_at,omitempty"`
	RawData           map[string]any `json:"raw_data,omitempty"`
}

// TaskStatusOrDefault looks up an external status in an adapter's mapping
// table. Unmapped values fall back to "todo": cross-tool consistency is
// prioritized over fidelity, and RawData preserves the original value.
func TaskStatusOrDefault(table map[string]TaskStatus, external string) TaskStatus {
	if s, ok := table[external]; ok {
		return s
	}
	return TaskTodo
}

// PriorityOrDefault looks up an external priority in an adapter's mapping
// table, falling back to "medium" for unmapped values.
func PriorityOrDefault(table map[string]Priority, external string) Priority {
	if p, ok := table[external]; ok {
		return p
	}
	return PriorityMedium
}

// ProjectStatusOrDefault looks up an external project status, falling back to
// "active" for unmapped values.
func ProjectStatusOrDefault(table map[string]ProjectStatus, external string) ProjectStatus {
	if s, ok := table[external]; ok {
		return s
	}
	return ProjectActive
}
