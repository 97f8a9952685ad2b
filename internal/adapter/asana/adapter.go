// Package asana implements a pmtool.Adapter for Asana using its REST API.
package asana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/magnus-suite/magnus-sync/internal/domain"
	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
	"github.com/magnus-suite/magnus-sync/internal/port/pmtool"
)

const (
	toolName       = "asana"
	defaultBaseURL = "https://app.asana.com/api/1.0"
)

// Adapter implements pmtool.Adapter for Asana.
type Adapter struct {
	baseURL     string
	accessToken string
	workspaceID string
	httpClient  *http.Client
}

// New creates an Asana adapter. Requires the "access_token" credential;
// workspace_id is optional and auto-resolved to the token's first workspace.
func New(conn *connection.Connection) (*Adapter, error) {
	token := conn.Credential("access_token")
	if token == "" {
		return nil, fmt.Errorf("asana: access_token: %w", domain.ErrMissingCredentials)
	}

	baseURL := defaultBaseURL
	if conn.InstanceURL != "" {
		baseURL = strings.TrimSuffix(conn.InstanceURL, "/")
	}

	return &Adapter{
		baseURL:     baseURL,
		accessToken: token,
		workspaceID: conn.WorkspaceID,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (a *Adapter) Name() string { return toolName }

func (a *Adapter) Capabilities() pmtool.Capabilities {
	return pmtool.Capabilities{
		Projects:      true,
		Tasks:         true,
		CreateProject: true,
		UpdateProject: true,
		CreateTask:    true,
		UpdateTask:    true,
		CompleteTask:  true,
	}
}

// --- wire types ---

// Asana wraps every payload in a "data" envelope.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

type asanaProject struct {
	GID          string `json:"gid"`
	Name         string `json:"name"`
	Notes        string `json:"notes"`
	Archived     bool   `json:"archived"`
	PermalinkURL string `json:"permalink_url"`
	StartOn      string `json:"start_on"`
	DueOn        string `json:"due_on"`
	Owner        *struct {
		Name string `json:"name"`
	} `json:"owner"`
	ModifiedAt string `json:"modified_at"`
}

type asanaTask struct {
	GID          string `json:"gid"`
	Name         string `json:"name"`
	Notes        string `json:"notes"`
	Completed    bool   `json:"completed"`
	DueOn        string `json:"due_on"`
	PermalinkURL string `json:"permalink_url"`
	ModifiedAt   string `json:"modified_at"`
	Assignee     *struct {
		Name string `json:"name"`
	} `json:"assignee"`
	Parent *struct {
		GID string `json:"gid"`
	} `json:"parent"`
}

func (a *Adapter) doRequest(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(map[string]any{"data": body})
		if err != nil {
			return 0, nil, fmt.Errorf("asana marshal body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("asana create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("asana request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("asana read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (a *Adapter) getData(ctx context.Context, path string, out any) (int, error) {
	status, data, err := a.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return status, err
	}
	if status == http.StatusNotFound {
		return status, nil
	}
	if status >= 400 {
		return status, fmt.Errorf("asana: unexpected status %d", status)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return status, fmt.Errorf("asana decode envelope: %w", err)
	}
	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return status, fmt.Errorf("asana decode data: %w", err)
		}
	}
	return status, nil
}

func (a *Adapter) TestConnection(ctx context.Context) bool {
	status, _, err := a.doRequest(ctx, http.MethodGet, "/users/me", nil)
	return err == nil && status == http.StatusOK
}

const projectFields = "name,notes,archived,permalink_url,owner.name,start_on,due_on,modified_at"

func (a *Adapter) ListProjects(ctx context.Context) ([]unified.Project, error) {
	ws, err := a.resolveWorkspaceID(ctx)
	if err != nil {
		return nil, err
	}

	var raw []asanaProject
	path := "/projects?workspace=" + url.QueryEscape(ws) + "&opt_fields=" + projectFields
	if _, err := a.getData(ctx, path, &raw); err != nil {
		return nil, err
	}

	projects := make([]unified.Project, 0, len(raw))
	for i := range raw {
		projects = append(projects, projectToUnified(&raw[i]))
	}
	return projects, nil
}

func (a *Adapter) GetProject(ctx context.Context, externalID string) (*unified.Project, error) {
	var p asanaProject
	status, err := a.getData(ctx, "/projects/"+url.PathEscape(externalID)+"?opt_fields="+projectFields, &p)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	u := projectToUnified(&p)
	return &u, nil
}

func (a *Adapter) CreateProject(ctx context.Context, p *unified.Project) (*unified.Project, error) {
	ws, err := a.resolveWorkspaceID(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"name": p.Name, "notes": p.Description, "workspace": ws}
	status, data, err := a.doRequest(ctx, http.MethodPost, "/projects", body)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("asana: create project: status %d", status)
	}
	return decodeProject(data)
}

func (a *Adapter) UpdateProject(ctx context.Context, p *unified.Project) (*unified.Project, error) {
	body := map[string]any{"name": p.Name, "notes": p.Description}
	status, data, err := a.doRequest(ctx, http.MethodPut, "/projects/"+url.PathEscape(p.ExternalID), body)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("asana: update project %s: status %d", p.ExternalID, status)
	}
	return decodeProject(data)
}

const taskFields = "name,notes,completed,assignee.name,due_on,parent.gid,permalink_url,modified_at"

func (a *Adapter) ListTasks(ctx context.Context, externalProjectID string) ([]unified.Task, error) {
	var raw []asanaTask
	path := "/projects/" + url.PathEscape(externalProjectID) + "/tasks?opt_fields=" + taskFields
	if _, err := a.getData(ctx, path, &raw); err != nil {
		return nil, err
	}

	tasks := make([]unified.Task, 0, len(raw))
	for i := range raw {
		tasks = append(tasks, taskToUnified(&raw[i], externalProjectID))
	}
	return tasks, nil
}

func (a *Adapter) GetTask(ctx context.Context, externalProjectID, externalID string) (*unified.Task, error) {
	var raw asanaTask
	status, err := a.getData(ctx, "/tasks/"+url.PathEscape(externalID)+"?opt_fields="+taskFields, &raw)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	t := taskToUnified(&raw, externalProjectID)
	return &t, nil
}

func (a *Adapter) CreateTask(ctx context.Context, t *unified.Task) (*unified.Task, error) {
	ws, err := a.resolveWorkspaceID(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"name":      t.Title,
		"notes":     t.Description,
		"workspace": ws,
	}
	if t.ProjectExternalID != "" {
		body["projects"] = []string{t.ProjectExternalID}
	}
	if t.DueDate != nil {
		body["due_on"] = t.DueDate.Format("2006-01-02")
	}
	status, data, err := a.doRequest(ctx, http.MethodPost, "/tasks", body)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("asana: create task: status %d", status)
	}
	return decodeTask(data, t.ProjectExternalID)
}

func (a *Adapter) UpdateTask(ctx context.Context, t *unified.Task) (*unified.Task, error) {
	body := map[string]any{
		"name":      t.Title,
		"notes":     t.Description,
		"completed": t.Status == unified.TaskDone,
	}
	status, data, err := a.doRequest(ctx, http.MethodPut, "/tasks/"+url.PathEscape(t.ExternalID), body)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("asana: update task %s: status %d", t.ExternalID, status)
	}
	return decodeTask(data, t.ProjectExternalID)
}

// CompleteTask marks the task completed. Asana has a boolean terminal state,
// so no workflow lookup is needed.
func (a *Adapter) CompleteTask(ctx context.Context, _, externalID string) (bool, error) {
	body := map[string]any{"completed": true}
	status, _, err := a.doRequest(ctx, http.MethodPut, "/tasks/"+url.PathEscape(externalID), body)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	return status < 400, nil
}

// resolveWorkspaceID returns the configured workspace or falls back to the
// token's first workspace. Asana cannot create entities without one, so an
// account with no workspaces fails loudly.
func (a *Adapter) resolveWorkspaceID(ctx context.Context) (string, error) {
	if a.workspaceID != "" {
		return a.workspaceID, nil
	}

	var raw []struct {
		GID string `json:"gid"`
	}
	if _, err := a.getData(ctx, "/workspaces?limit=1", &raw); err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("asana: no workspace available and workspace_id not configured")
	}
	a.workspaceID = raw[0].GID
	return a.workspaceID, nil
}

// --- translation ---

func projectToUnified(p *asanaProject) unified.Project {
	status := unified.ProjectActive
	if p.Archived {
		status = unified.ProjectCompleted
	}
	u := unified.Project{
		ExternalID:  p.GID,
		Name:        p.Name,
		Description: p.Notes,
		Status:      status,
		URL:         p.PermalinkURL,
		RawData:     map[string]any{"archived": p.Archived},
	}
	if p.Owner != nil {
		u.Owner = p.Owner.Name
	}
	u.StartDate = parseDate(p.StartOn)
	u.EndDate = parseDate(p.DueOn)
	u.RemoteUpdatedAt = parseTime(p.ModifiedAt)
	return u
}

func taskToUnified(raw *asanaTask, projectExternalID string) unified.Task {
	// Asana's only task state is the completed flag.
	status := unified.TaskTodo
	if raw.Completed {
		status = unified.TaskDone
	}
	u := unified.Task{
		ExternalID:        raw.GID,
		ProjectExternalID: projectExternalID,
		Title:             raw.Name,
		Description:       raw.Notes,
		Status:            status,
		Priority:          unified.PriorityMedium,
		URL:               raw.PermalinkURL,
		RawData:           map[string]any{"completed": raw.Completed},
	}
	if raw.Assignee != nil {
		u.Assignee = raw.Assignee.Name
	}
	if raw.Parent != nil {
		u.ParentID = raw.Parent.GID
	}
	u.DueDate = parseDate(raw.DueOn)
	u.RemoteUpdatedAt = parseTime(raw.ModifiedAt)
	return u
}

func decodeProject(data []byte) (*unified.Project, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("asana decode envelope: %w", err)
	}
	var p asanaProject
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return nil, fmt.Errorf("asana decode project: %w", err)
	}
	u := projectToUnified(&p)
	return &u, nil
}

func decodeTask(data []byte, projectExternalID string) (*unified.Task, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("asana decode envelope: %w", err)
	}
	var raw asanaTask
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		return nil, fmt.Errorf("asana decode task: %w", err)
	}
	t := taskToUnified(&raw, projectExternalID)
	return &t, nil
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	return nil
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	return nil
}
