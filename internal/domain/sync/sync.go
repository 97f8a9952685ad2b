// Package sync defines the records and result shapes of sync runs: the
// append-only log, persisted conflicts, and the summaries returned to callers.
package sync

import "time"

// Direction selects which way entities flow in a sync pass.
type Direction string

const (
	DirectionPull Direction = "pull"          // external tool -> canonical store
	DirectionPush Direction = "push"          // canonical store -> external tool
	DirectionBidi Direction = "bidirectional" // pull, then push
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case DirectionPull, DirectionPush, DirectionBidi:
		return true
	}
	return false
}

// Scope distinguishes full from incremental runs in the log.
type Scope string

const (
	ScopeFull        Scope = "full"
	ScopeIncremental Scope = "incremental"
)

// LogStatus is the lifecycle state of one sync invocation.
type LogStatus string

const (
	StatusRunning   LogStatus = "running"
	StatusCompleted LogStatus = "completed"
	// StatusPartial means at least one entity-level error occurred but the
	// batch finished.
	StatusPartial LogStatus = "partial"
	// StatusFailed means adapter construction or connection resolution failed
	// before any entity was processed.
	StatusFailed LogStatus = "failed"
)

// Log is one append-only record of a sync run's outcome, written exactly once
// per invocation.
type Log struct {
	ID                string     `json:"id"`
	ConnectionID      string     `json:"connection_id"`
	Scope             Scope      `json:"scope"`
	Direction         Direction  `json:"direction"`
	Status            LogStatus  `json:"status"`
	ItemsSynced       int        `json:"items_synced"`
	ItemsCreated      int        `json:"items_created"`
	ItemsUpdated      int        `json:"items_updated"`
	ItemsFailed       int        `json:"items_failed"`
	ConflictsDetected int        `json:"conflicts_detected"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// EntityType names which kind of canonical entity a conflict concerns.
type EntityType string

const (
	EntityProject EntityType = "project"
	EntityTask    EntityType = "task"
)

// ConflictStatus is the lifecycle state of a persisted conflict.
type ConflictStatus string

const (
	ConflictPending          ConflictStatus = "pending"
	ConflictResolvedMagnus   ConflictStatus = "resolved_magnus"
	ConflictResolvedExternal ConflictStatus = "resolved_external"
	ConflictMerged           ConflictStatus = "merged"
)

// Resolution names a conflict resolution strategy.
type Resolution string

const (
	// ResolutionExternalWins overwrites canonical fields from the external snapshot.
	ResolutionExternalWins Resolution = "external_wins"
	// ResolutionLocalWins pushes the canonical snapshot, discarding the external edit.
	ResolutionLocalWins Resolution = "local_wins"
	// ResolutionNewestWins compares last-modified timestamps where both sides
	// carry a trustworthy one, and falls back to manual when either lacks one.
	ResolutionNewestWins Resolution = "newest_wins"
	// ResolutionManual persists the conflict and leaves both sides untouched
	// until an operator resolves it.
	ResolutionManual Resolution = "manual"
)

// Valid reports whether r is a known resolution strategy.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionExternalWins, ResolutionLocalWins, ResolutionNewestWins, ResolutionManual:
		return true
	}
	return false
}

// Conflict records simultaneous divergent edits on both sides of a mapping.
// MagnusData and ExternalData are JSON snapshots of the canonical and external
// mutable fields at detection time; both sides stay untouched while pending.
type Conflict struct {
	ID           string         `json:"id"`
	EntityType   EntityType     `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	ConnectionID string         `json:"connection_id"`
	MagnusData   map[string]any `json:"magnus_data"`
	ExternalData map[string]any `json:"external_data"`
	Status       ConflictStatus `json:"status"`
	Resolution   Resolution     `json:"resolution,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
}

// Result summarizes a bulk sync pass.
type Result struct {
	Direction Direction `json:"direction"`
	Pulled    int       `json:"pulled"`
	Pushed    int       `json:"pushed"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Conflicts int       `json:"conflicts"`
	Errors    []string  `json:"errors,omitempty"`
}

// Merge folds another result into r, as when bidirectional combines the pull
// and push passes.
func (r *Result) Merge(other *Result) {
	r.Pulled += other.Pulled
	r.Pushed += other.Pushed
	r.Created += other.Created
	r.Updated += other.Updated
	r.Conflicts += other.Conflicts
	r.Errors = append(r.Errors, other.Errors...)
}

// SingleResult summarizes a targeted single-task sync across all of the
// task's mapped connections.
type SingleResult struct {
	SyncedTo  []string `json:"synced_to"`
	Conflicts int      `json:"conflicts"`
	Errors    []string `json:"errors,omitempty"`
}

// ConnectionStatus is one connection's view in the status aggregate.
type ConnectionStatus struct {
	ConnectionID   string     `json:"connection_id"`
	ToolName       string     `json:"tool_name"`
	SyncEnabled    bool       `json:"sync_enabled"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus string     `json:"last_sync_status,omitempty"`
	LastSyncError  string     `json:"last_sync_error,omitempty"`
}

// Status is the aggregate returned by the status endpoint.
type Status struct {
	Connections []ConnectionStatus `json:"connections"`
	RecentSyncs []Log              `json:"recent_syncs"`
	InProgress  int                `json:"in_progress_count"`
}
