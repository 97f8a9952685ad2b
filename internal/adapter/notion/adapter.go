// Package notion implements a pmtool.Adapter for Notion. A Notion database
// maps to a unified project and its pages to unified tasks. Property names
// are free-form per database, so the adapter resolves them from the database
// schema instead of hard-coding them.
package notion

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
	toolName       = "notion"
	defaultBaseURL = "https://api.notion.com/v1"
	notionVersion  = "2022-06-28"
)

// Adapter implements pmtool.Adapter for Notion.
type Adapter struct {
	baseURL    string
	apiKey     string
	parentPage string
	httpClient *http.Client

	// property layout per database, resolved lazily
	schemaCache map[string]*databaseSchema
}

// New creates a Notion adapter. Requires the "api_key" credential. The
// connection's workspace id, when set, names the parent page new databases
// are created under; Notion refuses workspace-level creation via API.
func New(conn *connection.Connection) (*Adapter, error) {
	apiKey := conn.Credential("api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("notion: api_key: %w", domain.ErrMissingCredentials)
	}

	baseURL := defaultBaseURL
	if conn.InstanceURL != "" {
		baseURL = strings.TrimSuffix(conn.InstanceURL, "/")
	}

	return &Adapter{
		baseURL:     baseURL,
		apiKey:      apiKey,
		parentPage:  conn.WorkspaceID,
		httpClient:  &http.Client{Timeout: 20 * time.Second},
		schemaCache: make(map[string]*databaseSchema),
	}, nil
}

func (a *Adapter) Name() string { return toolName }

func (a *Adapter) Capabilities() pmtool.Capabilities {
	return pmtool.Capabilities{
		Projects:      true,
		Tasks:         true,
		CreateProject: a.parentPage != "",
		UpdateProject: true,
		CreateTask:    true,
		UpdateTask:    true,
		CompleteTask:  true,
	}
}

// Status option names vary per database; these cover Notion's task templates.
var optionToStatus = map[string]unified.TaskStatus{
	"not started": unified.TaskTodo,
	"to do":       unified.TaskTodo,
	"todo":        unified.TaskTodo,
	"backlog":     unified.TaskTodo,
	"in progress": unified.TaskInProgress,
	"doing":       unified.TaskInProgress,
	"blocked":     unified.TaskBlocked,
	"in review":   unified.TaskReview,
	"review":      unified.TaskReview,
	"done":        unified.TaskDone,
	"complete":    unified.TaskDone,
	"completed":   unified.TaskDone,
	"canceled":    unified.TaskCancelled,
	"cancelled":   unified.TaskCancelled,
}

var optionToPriority = map[string]unified.Priority{
	"critical": unified.PriorityCritical,
	"urgent":   unified.PriorityCritical,
	"high":     unified.PriorityHigh,
	"medium":   unified.PriorityMedium,
	"low":      unified.PriorityLow,
}

// statusOptionSynonyms orders option names tried when pushing a unified
// status. The first option the database defines wins.
var statusOptionSynonyms = map[unified.TaskStatus][]string{
	unified.TaskTodo:       {"Not started", "To Do", "Todo", "Backlog"},
	unified.TaskInProgress: {"In progress", "In Progress", "Doing"},
	unified.TaskBlocked:    {"Blocked"},
	unified.TaskReview:     {"In review", "Review"},
	unified.TaskDone:       {"Done", "Complete", "Completed"},
	unified.TaskCancelled:  {"Canceled", "Cancelled"},
}

// --- HTTP plumbing ---

func (a *Adapter) doRequest(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("notion marshal body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("notion create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Notion-Version", notionVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("notion request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("notion read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (a *Adapter) call(ctx context.Context, method, path string, body, out any) (int, error) {
	status, data, err := a.doRequest(ctx, method, path, body)
	if err != nil {
		return status, err
	}
	if status == http.StatusNotFound {
		return status, nil
	}
	if status >= 400 {
		return status, fmt.Errorf("notion: unexpected status %d", status)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return status, fmt.Errorf("notion decode response: %w", err)
		}
	}
	return status, nil
}

// --- wire types ---

type notionDatabase struct {
	ID             string          `json:"id"`
	Title          []richText      `json:"title"`
	Description    []richText      `json:"description"`
	URL            string          `json:"url"`
	Archived       bool            `json:"archived"`
	LastEditedTime string          `json:"last_edited_time"`
	Properties     json.RawMessage `json:"properties"`
}

type notionPage struct {
	ID             string                  `json:"id"`
	URL            string                  `json:"url"`
	Archived       bool                    `json:"archived"`
	LastEditedTime string                  `json:"last_edited_time"`
	Properties     map[string]pageProperty `json:"properties"`
}

type pageProperty struct {
	Type     string     `json:"type"`
	Title    []richText `json:"title"`
	RichText []richText `json:"rich_text"`
	Status   *struct {
		Name string `json:"name"`
	} `json:"status"`
	Select *struct {
		Name string `json:"name"`
	} `json:"select"`
	Date *struct {
		Start string `json:"start"`
	} `json:"date"`
	Number *float64 `json:"number"`
	People []struct {
		Name string `json:"name"`
	} `json:"people"`
}

func (a *Adapter) TestConnection(ctx context.Context) bool {
	status, _, err := a.doRequest(ctx, http.MethodGet, "/users/me", nil)
	return err == nil && status == http.StatusOK
}

func (a *Adapter) ListProjects(ctx context.Context) ([]unified.Project, error) {
	var out struct {
		Results []notionDatabase `json:"results"`
	}
	body := map[string]any{
		"filter":    map[string]any{"property": "object", "value": "database"},
		"page_size": 100,
	}
	if _, err := a.call(ctx, http.MethodPost, "/search", body, &out); err != nil {
		return nil, err
	}

	projects := make([]unified.Project, 0, len(out.Results))
	for i := range out.Results {
		projects = append(projects, databaseToUnified(&out.Results[i]))
	}
	return projects, nil
}

func (a *Adapter) GetProject(ctx context.Context, externalID string) (*unified.Project, error) {
	var db notionDatabase
	status, err := a.call(ctx, http.MethodGet, "/databases/"+url.PathEscape(externalID), nil, &db)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	p := databaseToUnified(&db)
	return &p, nil
}

// CreateProject creates a task database under the configured parent page
// with a baseline schema the rest of the adapter understands.
func (a *Adapter) CreateProject(ctx context.Context, p *unified.Project) (*unified.Project, error) {
	if a.parentPage == "" {
		return nil, fmt.Errorf("notion: create project requires a parent page (workspace_id)")
	}

	body := map[string]any{
		"parent":      map[string]any{"type": "page_id", "page_id": a.parentPage},
		"title":       wrapRichText(p.Name),
		"description": wrapRichText(p.Description),
		"properties": map[string]any{
			"Name":   map[string]any{"title": map[string]any{}},
			"Status": map[string]any{"status": map[string]any{}},
			"Due":    map[string]any{"date": map[string]any{}},
		},
	}
	var db notionDatabase
	if _, err := a.call(ctx, http.MethodPost, "/databases", body, &db); err != nil {
		return nil, err
	}
	created := databaseToUnified(&db)
	return &created, nil
}

func (a *Adapter) UpdateProject(ctx context.Context, p *unified.Project) (*unified.Project, error) {
	body := map[string]any{
		"title":       wrapRichText(p.Name),
		"description": wrapRichText(p.Description),
	}
	var db notionDatabase
	status, err := a.call(ctx, http.MethodPatch, "/databases/"+url.PathEscape(p.ExternalID), body, &db)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("notion: database %s: %w", p.ExternalID, domain.ErrNotFound)
	}
	delete(a.schemaCache, p.ExternalID)
	updated := databaseToUnified(&db)
	return &updated, nil
}

func (a *Adapter) ListTasks(ctx context.Context, externalProjectID string) ([]unified.Task, error) {
	var out struct {
		Results []notionPage `json:"results"`
	}
	body := map[string]any{"page_size": 100}
	path := "/databases/" + url.PathEscape(externalProjectID) + "/query"
	if _, err := a.call(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}

	tasks := make([]unified.Task, 0, len(out.Results))
	for i := range out.Results {
		if out.Results[i].Archived {
			continue
		}
		tasks = append(tasks, pageToUnified(&out.Results[i], externalProjectID))
	}
	return tasks, nil
}

func (a *Adapter) GetTask(ctx context.Context, externalProjectID, externalID string) (*unified.Task, error) {
	var page notionPage
	status, err := a.call(ctx, http.MethodGet, "/pages/"+url.PathEscape(externalID), nil, &page)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || page.Archived {
		return nil, nil
	}
	t := pageToUnified(&page, externalProjectID)
	return &t, nil
}

func (a *Adapter) CreateTask(ctx context.Context, t *unified.Task) (*unified.Task, error) {
	schema, err := a.schema(ctx, t.ProjectExternalID)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"parent":     map[string]any{"type": "database_id", "database_id": t.ProjectExternalID},
		"properties": a.buildProperties(schema, t),
	}
	var page notionPage
	if _, err := a.call(ctx, http.MethodPost, "/pages", body, &page); err != nil {
		return nil, err
	}
	created := pageToUnified(&page, t.ProjectExternalID)
	return &created, nil
}

func (a *Adapter) UpdateTask(ctx context.Context, t *unified.Task) (*unified.Task, error) {
	schema, err := a.schema(ctx, t.ProjectExternalID)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"properties": a.buildProperties(schema, t)}
	var page notionPage
	status, err := a.call(ctx, http.MethodPatch, "/pages/"+url.PathEscape(t.ExternalID), body, &page)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("notion: page %s: %w", t.ExternalID, domain.ErrNotFound)
	}
	updated := pageToUnified(&page, t.ProjectExternalID)
	return &updated, nil
}

// CompleteTask resolves the database's status property and moves the page to
// a done-equivalent option. Returns false when the database has no status
// property or no such option.
func (a *Adapter) CompleteTask(ctx context.Context, externalProjectID, externalID string) (bool, error) {
	schema, err := a.schema(ctx, externalProjectID)
	if err != nil {
		return false, err
	}
	if schema.statusProp == "" {
		return false, nil
	}
	option, ok := schema.pickStatusOption(statusOptionSynonyms[unified.TaskDone])
	if !ok {
		return false, nil
	}

	body := map[string]any{
		"properties": map[string]any{
			schema.statusProp: map[string]any{"status": map[string]any{"name": option}},
		},
	}
	status, err := a.call(ctx, http.MethodPatch, "/pages/"+url.PathEscape(externalID), body, nil)
	if err != nil {
		return false, err
	}
	return status < 400, nil
}

// buildProperties translates the writable unified fields onto the database's
// property layout. Properties the database does not have are skipped.
func (a *Adapter) buildProperties(schema *databaseSchema, t *unified.Task) map[string]any {
	props := map[string]any{
		schema.titleProp: map[string]any{"title": wrapRichText(t.Title)},
	}
	if schema.statusProp != "" {
		if option, ok := schema.pickStatusOption(statusOptionSynonyms[t.Status]); ok {
			props[schema.statusProp] = map[string]any{"status": map[string]any{"name": option}}
		}
	}
	if schema.descriptionProp != "" && t.Description != "" {
		props[schema.descriptionProp] = map[string]any{"rich_text": wrapRichText(t.Description)}
	}
	if schema.dateProp != "" && t.DueDate != nil {
		props[schema.dateProp] = map[string]any{
			"date": map[string]any{"start": t.DueDate.Format("2006-01-02")},
		}
	}
	return props
}

// --- translation ---

func databaseToUnified(db *notionDatabase) unified.Project {
	status := unified.ProjectActive
	if db.Archived {
		status = unified.ProjectCompleted
	}
	u := unified.Project{
		ExternalID:  db.ID,
		Name:        flattenRichText(db.Title),
		Description: flattenRichText(db.Description),
		Status:      status,
		URL:         db.URL,
		RawData:     map[string]any{"archived": db.Archived},
	}
	u.RemoteUpdatedAt = parseTime(db.LastEditedTime)
	return u
}

func pageToUnified(page *notionPage, projectExternalID string) unified.Task {
	u := unified.Task{
		ExternalID:        page.ID,
		ProjectExternalID: projectExternalID,
		Status:            unified.TaskTodo,
		Priority:          unified.PriorityMedium,
		URL:               page.URL,
		RawData:           map[string]any{"archived": page.Archived},
	}
	for name, prop := range page.Properties {
		switch prop.Type {
		case "title":
			u.Title = flattenRichText(prop.Title)
		case "status":
			if prop.Status != nil {
				u.Status = unified.TaskStatusOrDefault(optionToStatus, strings.ToLower(prop.Status.Name))
				u.RawData["status_option"] = prop.Status.Name
			}
		case "select":
			if prop.Select == nil {
				continue
			}
			if p, ok := optionToPriority[strings.ToLower(prop.Select.Name)]; ok {
				u.Priority = p
				u.RawData["priority_option"] = prop.Select.Name
			}
		case "rich_text":
			if u.Description == "" && !strings.EqualFold(name, "priority") {
				u.Description = flattenRichText(prop.RichText)
			}
		case "date":
			if prop.Date != nil {
				u.DueDate = parseDate(prop.Date.Start)
			}
		case "number":
			if prop.Number != nil && strings.Contains(strings.ToLower(name), "estimate") {
				u.EstimatedHours = *prop.Number
			}
		case "people":
			if len(prop.People) > 0 {
				u.Assignee = prop.People[0].Name
			}
		}
	}
	u.RemoteUpdatedAt = parseTime(page.LastEditedTime)
	return u
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	return parseTime(s)
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
