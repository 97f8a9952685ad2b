// Package mapping defines the persistent links between canonical entities and
// their external representations under one connection.
package mapping

import "time"

// ProjectMapping links a canonical project to one external project under one
// connection. At most one mapping exists per (connection, external project);
// a canonical project may carry one mapping per connected tool.
type ProjectMapping struct {
	ID                string     `json:"id"`
	ConnectionID      string     `json:"connection_id"`
	ProjectID         string     `json:"project_id"`
	ExternalProjectID string     `json:"external_project_id"`
	ExternalName      string     `json:"external_name,omitempty"`
	ExternalURL       string     `json:"external_url,omitempty"`
	LastSyncHash      string     `json:"last_sync_hash,omitempty"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus    string     `json:"last_sync_status,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// TaskMapping links a canonical task to one external task, scoped under a
// ProjectMapping. LastSyncHash is the content fingerprint both sides agreed on
// at the last successful sync; it is the sole basis for change detection and
// is recomputed on every successful pull or push.
type TaskMapping struct {
	ID               string     `json:"id"`
	ProjectMappingID string     `json:"project_mapping_id"`
	TaskID           string     `json:"task_id"`
	ExternalTaskID   string     `json:"external_task_id"`
	ExternalURL      string     `json:"external_url,omitempty"`
	LastSyncHash     string     `json:"last_sync_hash,omitempty"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus   string     `json:"last_sync_status,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
