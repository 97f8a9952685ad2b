// Package jira implements a pmtool.Adapter for Jira Cloud using REST API v3.
package jira

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

const toolName = "jira"

// Adapter implements pmtool.Adapter for Jira Cloud.
type Adapter struct {
	baseURL    string
	email      string
	apiToken   string
	httpClient *http.Client
}

// New creates a Jira adapter. Requires instance_url plus the "email" and
// "api_token" credentials (Jira Cloud basic auth).
func New(conn *connection.Connection) (*Adapter, error) {
	email := conn.Credential("email")
	apiToken := conn.Credential("api_token")
	if email == "" || apiToken == "" {
		return nil, fmt.Errorf("jira: email+api_token: %w", domain.ErrMissingCredentials)
	}
	if conn.InstanceURL == "" {
		return nil, fmt.Errorf("jira: instance_url is required: %w", domain.ErrMissingCredentials)
	}

	return &Adapter{
		baseURL:    strings.TrimSuffix(conn.InstanceURL, "/"),
		email:      email,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (a *Adapter) Name() string { return toolName }

func (a *Adapter) Capabilities() pmtool.Capabilities {
	return pmtool.Capabilities{
		Projects:     true,
		Tasks:        true,
		CreateTask:   true,
		UpdateTask:   true,
		CompleteTask: true,
	}
}

// Jira status categories -> unified status. Individual status names are
// workflow-specific; the category key is fixed vocabulary.
var categoryToStatus = map[string]unified.TaskStatus{
	"new":           unified.TaskTodo,
	"indeterminate": unified.TaskInProgress,
	"done":          unified.TaskDone,
}

var priorityToUnified = map[string]unified.Priority{
	"Lowest":  unified.PriorityLow,
	"Low":     unified.PriorityLow,
	"Medium":  unified.PriorityMedium,
	"High":    unified.PriorityHigh,
	"Highest": unified.PriorityCritical,
	"Blocker": unified.PriorityCritical,
}

// --- wire types ---

type jiraProject struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

type jiraStatus struct {
	Name           string `json:"name"`
	StatusCategory struct {
		Key string `json:"key"`
	} `json:"statusCategory"`
}

type jiraIssueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description"` // ADF document
	Status      *jiraStatus     `json:"status"`
	Priority    *struct {
		Name string `json:"name"`
	} `json:"priority"`
	Assignee *struct {
		DisplayName string `json:"displayName"`
	} `json:"assignee"`
	DueDate string `json:"duedate"`
	Parent  *struct {
		Key string `json:"key"`
	} `json:"parent"`
	Updated string `json:"updated"`
}

type jiraIssue struct {
	Key    string          `json:"key"`
	Fields jiraIssueFields `json:"fields"`
}

func (a *Adapter) doRequest(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("jira marshal body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("jira create request: %w", err)
	}
	req.SetBasicAuth(a.email, a.apiToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("jira request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("jira read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (a *Adapter) get(ctx context.Context, path string, out any) (int, error) {
	status, data, err := a.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return status, err
	}
	if status == http.StatusNotFound {
		return status, nil
	}
	if status >= 400 {
		return status, fmt.Errorf("jira: unexpected status %d", status)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return status, fmt.Errorf("jira decode response: %w", err)
		}
	}
	return status, nil
}

func (a *Adapter) TestConnection(ctx context.Context) bool {
	status, _, err := a.doRequest(ctx, http.MethodGet, "/rest/api/3/myself", nil)
	return err == nil && status == http.StatusOK
}

func (a *Adapter) ListProjects(ctx context.Context) ([]unified.Project, error) {
	var out struct {
		Values []jiraProject `json:"values"`
	}
	if _, err := a.get(ctx, "/rest/api/3/project/search?maxResults=100", &out); err != nil {
		return nil, err
	}

	projects := make([]unified.Project, 0, len(out.Values))
	for i := range out.Values {
		projects = append(projects, a.projectToUnified(&out.Values[i]))
	}
	return projects, nil
}

func (a *Adapter) GetProject(ctx context.Context, externalID string) (*unified.Project, error) {
	var p jiraProject
	status, err := a.get(ctx, "/rest/api/3/project/"+url.PathEscape(externalID), &p)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	u := a.projectToUnified(&p)
	return &u, nil
}

// CreateProject is intentionally unsupported: Jira project creation requires
// admin-level templates and lead assignment that a sync credential rarely has.
func (a *Adapter) CreateProject(_ context.Context, _ *unified.Project) (*unified.Project, error) {
	return nil, fmt.Errorf("jira: project creation not supported")
}

func (a *Adapter) UpdateProject(_ context.Context, _ *unified.Project) (*unified.Project, error) {
	return nil, fmt.Errorf("jira: project update not supported")
}

func (a *Adapter) ListTasks(ctx context.Context, externalProjectID string) ([]unified.Task, error) {
	jql := url.QueryEscape(fmt.Sprintf("project = %q ORDER BY created ASC", externalProjectID))
	var out struct {
		Issues []jiraIssue `json:"issues"`
	}
	if _, err := a.get(ctx, "/rest/api/3/search?maxResults=100&jql="+jql, &out); err != nil {
		return nil, err
	}

	tasks := make([]unified.Task, 0, len(out.Issues))
	for i := range out.Issues {
		tasks = append(tasks, issueToUnified(&out.Issues[i], externalProjectID))
	}
	return tasks, nil
}

func (a *Adapter) GetTask(ctx context.Context, externalProjectID, externalID string) (*unified.Task, error) {
	var issue jiraIssue
	status, err := a.get(ctx, "/rest/api/3/issue/"+url.PathEscape(externalID), &issue)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	t := issueToUnified(&issue, externalProjectID)
	return &t, nil
}

func (a *Adapter) CreateTask(ctx context.Context, t *unified.Task) (*unified.Task, error) {
	body := map[string]any{
		"fields": map[string]any{
			"project":     map[string]any{"key": t.ProjectExternalID},
			"summary":     t.Title,
			"description": wrapADF(t.Description),
			"issuetype":   map[string]any{"name": "Task"},
		},
	}
	status, data, err := a.doRequest(ctx, http.MethodPost, "/rest/api/3/issue", body)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("jira: create issue: status %d", status)
	}

	var created struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return nil, fmt.Errorf("jira decode create response: %w", err)
	}

	out := *t
	out.ExternalID = created.Key
	out.URL = a.baseURL + "/browse/" + created.Key
	return &out, nil
}

func (a *Adapter) UpdateTask(ctx context.Context, t *unified.Task) (*unified.Task, error) {
	body := map[string]any{
		"fields": map[string]any{
			"summary":     t.Title,
			"description": wrapADF(t.Description),
		},
	}
	status, _, err := a.doRequest(ctx, http.MethodPut, "/rest/api/3/issue/"+url.PathEscape(t.ExternalID), body)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("jira: update issue %s: status %d", t.ExternalID, status)
	}

	out := *t
	if out.URL == "" {
		out.URL = a.baseURL + "/browse/" + t.ExternalID
	}
	return &out, nil
}

// CompleteTask looks up the issue's available transitions and fires the first
// one targeting a "done"-category status. Returns false when the workflow has
// no such transition.
func (a *Adapter) CompleteTask(ctx context.Context, _, externalID string) (bool, error) {
	var out struct {
		Transitions []struct {
			ID string `json:"id"`
			To struct {
				StatusCategory struct {
					Key string `json:"key"`
				} `json:"statusCategory"`
			} `json:"to"`
		} `json:"transitions"`
	}
	path := "/rest/api/3/issue/" + url.PathEscape(externalID) + "/transitions"
	status, err := a.get(ctx, path, &out)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}

	var transitionID string
	for _, tr := range out.Transitions {
		if tr.To.StatusCategory.Key == "done" {
			transitionID = tr.ID
			break
		}
	}
	if transitionID == "" {
		return false, nil
	}

	body := map[string]any{"transition": map[string]any{"id": transitionID}}
	status, _, err = a.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return false, err
	}
	return status < 400, nil
}

// --- translation ---

func (a *Adapter) projectToUnified(p *jiraProject) unified.Project {
	return unified.Project{
		ExternalID: p.Key,
		Name:       p.Name,
		Status:     unified.ProjectActive,
		URL:        a.baseURL + "/browse/" + p.Key,
		RawData:    map[string]any{"id": p.ID, "key": p.Key},
	}
}

func issueToUnified(issue *jiraIssue, projectExternalID string) unified.Task {
	f := &issue.Fields
	u := unified.Task{
		ExternalID:        issue.Key,
		ProjectExternalID: projectExternalID,
		Title:             f.Summary,
		Description:       flattenADF(f.Description),
		Status:            unified.TaskTodo,
		Priority:          unified.PriorityMedium,
		RawData:           map[string]any{},
	}
	if f.Status != nil {
		u.Status = unified.TaskStatusOrDefault(categoryToStatus, f.Status.StatusCategory.Key)
		u.RawData["status"] = f.Status.Name
	}
	if f.Priority != nil {
		u.Priority = unified.PriorityOrDefault(priorityToUnified, f.Priority.Name)
		u.RawData["priority"] = f.Priority.Name
	}
	if f.Assignee != nil {
		u.Assignee = f.Assignee.DisplayName
	}
	if f.Parent != nil {
		u.ParentID = f.Parent.Key
	}
	if f.DueDate != "" {
		if t, err := time.Parse("2006-01-02", f.DueDate); err == nil {
			u.DueDate = &t
		}
	}
	if f.Updated != "" {
		// Jira uses RFC3339 with a numeric zone and no colon.
		if t, err := time.Parse("2006-01-02T15:04:05.000-0700", f.Updated); err == nil {
			u.RemoteUpdatedAt = &t
		}
	}
	return u
}
