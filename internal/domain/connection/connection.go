// Package connection defines a configured link to one instance of an external
// PM tool.
package connection

import "time"

// Connection configures one external tool instance. Credentials is an opaque
// string-keyed document whose required keys are dictated by the adapter
// (api_key, access_token, email+api_token, ...); the engine never interprets
// or encrypts it.
type Connection struct {
	ID          string            `json:"id"`
	ToolName    string            `json:"tool_name"`
	InstanceURL string            `json:"instance_url"`
	Credentials map[string]string `json:"credentials"`
	TeamID      string            `json:"team_id,omitempty"`
	WorkspaceID string            `json:"workspace_id,omitempty"`
	SyncEnabled bool              `json:"sync_enabled"`

	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus string     `json:"last_sync_status,omitempty"`
	LastSyncError  string     `json:"last_sync_error,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to register a connection.
type CreateRequest struct {
	ToolName    string            `json:"tool_name"`
	InstanceURL string            `json:"instance_url"`
	Credentials map[string]string `json:"credentials"`
	TeamID      string            `json:"team_id,omitempty"`
	WorkspaceID string            `json:"workspace_id,omitempty"`
	SyncEnabled bool              `json:"sync_enabled"`
}

// Credential returns the named credential, or "" when absent.
func (c *Connection) Credential(key string) string {
	return c.Credentials[key]
}
