package http

import (
	"net/http"

	syncdom "github.com/magnus-suite/magnus-sync/internal/domain/sync"
)

type syncRequest struct {
	Direction        syncdom.Direction `json:"direction"`
	ProjectMappingID string            `json:"project_mapping_id,omitempty"`
}

// direction defaults to bidirectional when the body omits it.
func (req *syncRequest) direction() syncdom.Direction {
	if req.Direction == "" {
		return syncdom.DirectionBidi
	}
	return req.Direction
}

// SyncProjects handles POST /api/v1/connections/{id}/sync/projects.
func (h *Handlers) SyncProjects(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[syncRequest](w, r)
	if !ok {
		return
	}
	dir := req.direction()
	if !dir.Valid() {
		writeError(w, http.StatusBadRequest, "direction must be pull, push, or bidirectional")
		return
	}
	res, err := h.engine.SyncProjects(r.Context(), urlParam(r, "id"), dir)
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SyncTasks handles POST /api/v1/connections/{id}/sync/tasks. An optional
// project_mapping_id limits the pass to one mapped project.
func (h *Handlers) SyncTasks(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[syncRequest](w, r)
	if !ok {
		return
	}
	dir := req.direction()
	if !dir.Valid() {
		writeError(w, http.StatusBadRequest, "direction must be pull, push, or bidirectional")
		return
	}
	res, err := h.engine.SyncTasks(r.Context(), urlParam(r, "id"), req.ProjectMappingID, dir)
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SyncSingleTask handles POST /api/v1/tasks/{id}/sync.
func (h *Handlers) SyncSingleTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[syncRequest](w, r)
	if !ok {
		return
	}
	dir := req.direction()
	if !dir.Valid() {
		writeError(w, http.StatusBadRequest, "direction must be pull, push, or bidirectional")
		return
	}
	res, err := h.engine.SyncSingleTask(r.Context(), urlParam(r, "id"), dir)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListConflicts handles GET /api/v1/conflicts. Both connection_id and status
// query filters are optional.
func (h *Handlers) ListConflicts(w http.ResponseWriter, r *http.Request) {
	status := syncdom.ConflictStatus(r.URL.Query().Get("status"))
	conflicts, err := h.engine.ListConflicts(r.Context(), r.URL.Query().Get("connection_id"), status)
	if err != nil {
		writeDomainError(w, err, "conflicts not found")
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}

type resolveConflictRequest struct {
	Resolution syncdom.Resolution `json:"resolution"`
	MergedData map[string]any     `json:"merged_data,omitempty"`
}

// ResolveConflict handles POST /api/v1/conflicts/{id}/resolve.
func (h *Handlers) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[resolveConflictRequest](w, r)
	if !ok {
		return
	}
	if !req.Resolution.Valid() {
		writeError(w, http.StatusBadRequest, "resolution must be external_wins, local_wins, newest_wins, or manual")
		return
	}
	c, err := h.engine.ResolveConflict(r.Context(), urlParam(r, "id"), req.Resolution, req.MergedData)
	if err != nil {
		writeDomainError(w, err, "conflict not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// SyncStatus handles GET /api/v1/sync/status with an optional connection_id
// filter.
func (h *Handlers) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.GetSyncStatus(r.Context(), r.URL.Query().Get("connection_id"))
	if err != nil {
		writeDomainError(w, err, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
