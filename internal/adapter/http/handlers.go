// Package http exposes the sync engine over a REST API plus the live
// websocket event stream.
package http

import (
	"log/slog"
	"net/http"

	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/port/database"
	"github.com/magnus-suite/magnus-sync/internal/port/pmtool"
	"github.com/magnus-suite/magnus-sync/internal/service"
)

// Handlers holds the API's collaborators.
type Handlers struct {
	engine *service.Engine
	store  database.Store
	logger *slog.Logger
}

// NewHandlers wires the HTTP handlers.
func NewHandlers(engine *service.Engine, store database.Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{engine: engine, store: store, logger: logger}
}

// redacted strips credentials from a connection before it leaves the API.
func redacted(c *connection.Connection) *connection.Connection {
	out := *c
	out.Credentials = nil
	return &out
}

// ListConnections handles GET /api/v1/connections.
func (h *Handlers) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.store.ListConnections(r.Context())
	if err != nil {
		writeDomainError(w, err, "connections not found")
		return
	}
	out := make([]*connection.Connection, 0, len(conns))
	for i := range conns {
		out = append(out, redacted(&conns[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateConnection handles POST /api/v1/connections.
func (h *Handlers) CreateConnection(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[connection.CreateRequest](w, r)
	if !ok {
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "tool_name is required")
		return
	}
	if !knownTool(req.ToolName) {
		writeError(w, http.StatusBadRequest, "unknown tool "+req.ToolName)
		return
	}
	conn, err := h.store.CreateConnection(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "connection not created")
		return
	}
	writeJSON(w, http.StatusCreated, redacted(conn))
}

// GetConnection handles GET /api/v1/connections/{id}.
func (h *Handlers) GetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.store.GetConnection(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, redacted(conn))
}

type updateConnectionRequest struct {
	InstanceURL *string            `json:"instance_url"`
	Credentials *map[string]string `json:"credentials"`
	TeamID      *string            `json:"team_id"`
	WorkspaceID *string            `json:"workspace_id"`
	SyncEnabled *bool              `json:"sync_enabled"`
}

// UpdateConnection handles PUT /api/v1/connections/{id}. Only fields present
// in the body change; the cached adapter is dropped so the next sync sees the
// new configuration.
func (h *Handlers) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[updateConnectionRequest](w, r)
	if !ok {
		return
	}
	conn, err := h.store.GetConnection(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	if req.InstanceURL != nil {
		conn.InstanceURL = *req.InstanceURL
	}
	if req.Credentials != nil {
		conn.Credentials = *req.Credentials
	}
	if req.TeamID != nil {
		conn.TeamID = *req.TeamID
	}
	if req.WorkspaceID != nil {
		conn.WorkspaceID = *req.WorkspaceID
	}
	if req.SyncEnabled != nil {
		conn.SyncEnabled = *req.SyncEnabled
	}
	if err := h.store.UpdateConnection(r.Context(), conn); err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	h.engine.InvalidateAdapter(id)
	writeJSON(w, http.StatusOK, redacted(conn))
}

// DeleteConnection handles DELETE /api/v1/connections/{id}.
func (h *Handlers) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.store.DeleteConnection(r.Context(), id); err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	h.engine.InvalidateAdapter(id)
	w.WriteHeader(http.StatusNoContent)
}

// TestConnection handles POST /api/v1/connections/{id}/test.
func (h *Handlers) TestConnection(w http.ResponseWriter, r *http.Request) {
	ok, err := h.engine.TestConnection(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

// ListTools handles GET /api/v1/tools.
func (h *Handlers) ListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"tools": pmtool.Available()})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func knownTool(name string) bool {
	for _, t := range pmtool.Available() {
		if t == name {
			return true
		}
	}
	return false
}
