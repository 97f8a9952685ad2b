// Package openproject implements a pmtool.Adapter for OpenProject using its
// v3 REST API. Work packages map to unified tasks. Writes carry the work
// package's lockVersion, which OpenProject requires for optimistic locking.
package openproject

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/magnus-suite/magnus-sync/internal/domain"
	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
	"github.com/magnus-suite/magnus-sync/internal/port/pmtool"
)

const (
	toolName = "openproject"
	apiBase  = "/api/v3"
)

// Adapter implements pmtool.Adapter for OpenProject.
type Adapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates an OpenProject adapter. OpenProject is self-hosted, so the
// instance URL is mandatory; authentication uses basic auth with the literal
// user "apikey" and the "api_key" credential as password.
func New(conn *connection.Connection) (*Adapter, error) {
	apiKey := conn.Credential("api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("openproject: api_key: %w", domain.ErrMissingCredentials)
	}
	if conn.InstanceURL == "" {
		return nil, fmt.Errorf("openproject: instance url is required")
	}

	return &Adapter{
		baseURL:    strings.TrimSuffix(conn.InstanceURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
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

// Status names come from OpenProject's default workflow; instances can
// rename them, in which case unmapped names fall back to todo.
var statusNameToUnified = map[string]unified.TaskStatus{
	"new":             unified.TaskTodo,
	"to be scheduled": unified.TaskTodo,
	"scheduled":       unified.TaskTodo,
	"in progress":     unified.TaskInProgress,
	"developed":       unified.TaskReview,
	"in testing":      unified.TaskReview,
	"tested":          unified.TaskReview,
	"on hold":         unified.TaskBlocked,
	"closed":          unified.TaskDone,
	"rejected":        unified.TaskCancelled,
}

var priorityNameToUnified = map[string]unified.Priority{
	"immediate": unified.PriorityCritical,
	"high":      unified.PriorityHigh,
	"normal":    unified.PriorityMedium,
	"low":       unified.PriorityLow,
}

// Write-side defaults from the same default workflow. A renamed instance
// yields no match and the write leaves the field to the tool's default.
var unifiedToStatusName = map[unified.TaskStatus]string{
	unified.TaskTodo:       "new",
	unified.TaskInProgress: "in progress",
	unified.TaskReview:     "in testing",
	unified.TaskBlocked:    "on hold",
	unified.TaskDone:       "closed",
	unified.TaskCancelled:  "rejected",
}

var unifiedToPriorityName = map[unified.Priority]string{
	unified.PriorityCritical: "immediate",
	unified.PriorityHigh:     "high",
	unified.PriorityMedium:   "normal",
	unified.PriorityLow:      "low",
}

// --- HTTP plumbing ---

func (a *Adapter) doRequest(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("openproject marshal body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+apiBase+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("openproject create request: %w", err)
	}
	req.SetBasicAuth("apikey", a.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("openproject request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("openproject read response: %w", err)
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
		return status, fmt.Errorf("openproject: unexpected status %d", status)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return status, fmt.Errorf("openproject decode response: %w", err)
		}
	}
	return status, nil
}

// --- wire types ---

type formattable struct {
	Raw string `json:"raw"`
}

type halLink struct {
	Href  string `json:"href"`
	Title string `json:"title"`
}

type opProject struct {
	ID          int          `json:"id"`
	Identifier  string       `json:"identifier"`
	Name        string       `json:"name"`
	Description *formattable `json:"description"`
	Active      bool         `json:"active"`
	UpdatedAt   string       `json:"updatedAt"`
}

type opWorkPackage struct {
	ID            int          `json:"id"`
	LockVersion   int          `json:"lockVersion"`
	Subject       string       `json:"subject"`
	Description   *formattable `json:"description"`
	DueDate       string       `json:"dueDate"`
	EstimatedTime string       `json:"estimatedTime"`
	UpdatedAt     string       `json:"updatedAt"`
	Links         struct {
		Status   halLink `json:"status"`
		Priority halLink `json:"priority"`
		Assignee halLink `json:"assignee"`
	} `json:"_links"`
}

type opCollection[T any] struct {
	Embedded struct {
		Elements []T `json:"elements"`
	} `json:"_embedded"`
}

type opStatus struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	IsClosed bool   `json:"isClosed"`
}

type opPriority struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (a *Adapter) TestConnection(ctx context.Context) bool {
	status, _, err := a.doRequest(ctx, http.MethodGet, "/users/me", nil)
	return err == nil && status == http.StatusOK
}

func (a *Adapter) ListProjects(ctx context.Context) ([]unified.Project, error) {
	var out opCollection[opProject]
	if _, err := a.call(ctx, http.MethodGet, "/projects?pageSize=100", nil, &out); err != nil {
		return nil, err
	}

	projects := make([]unified.Project, 0, len(out.Embedded.Elements))
	for i := range out.Embedded.Elements {
		projects = append(projects, a.projectToUnified(&out.Embedded.Elements[i]))
	}
	return projects, nil
}

func (a *Adapter) GetProject(ctx context.Context, externalID string) (*unified.Project, error) {
	var p opProject
	status, err := a.call(ctx, http.MethodGet, "/projects/"+url.PathEscape(externalID), nil, &p)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	u := a.projectToUnified(&p)
	return &u, nil
}

func (a *Adapter) CreateProject(ctx context.Context, p *unified.Project) (*unified.Project, error) {
	body := map[string]any{
		"name":        p.Name,
		"identifier":  identifierFor(p.Name),
		"description": map[string]any{"format": "markdown", "raw": p.Description},
	}
	var created opProject
	status, err := a.call(ctx, http.MethodPost, "/projects", body, &created)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("openproject: create project: status %d", status)
	}
	u := a.projectToUnified(&created)
	return &u, nil
}

func (a *Adapter) UpdateProject(ctx context.Context, p *unified.Project) (*unified.Project, error) {
	body := map[string]any{
		"name":        p.Name,
		"description": map[string]any{"format": "markdown", "raw": p.Description},
	}
	var updated opProject
	status, err := a.call(ctx, http.MethodPatch, "/projects/"+url.PathEscape(p.ExternalID), body, &updated)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("openproject: project %s: %w", p.ExternalID, domain.ErrNotFound)
	}
	u := a.projectToUnified(&updated)
	return &u, nil
}

func (a *Adapter) ListTasks(ctx context.Context, externalProjectID string) ([]unified.Task, error) {
	var out opCollection[opWorkPackage]
	path := "/projects/" + url.PathEscape(externalProjectID) + "/work_packages?pageSize=200"
	if _, err := a.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	tasks := make([]unified.Task, 0, len(out.Embedded.Elements))
	for i := range out.Embedded.Elements {
		tasks = append(tasks, a.workPackageToUnified(&out.Embedded.Elements[i], externalProjectID))
	}
	return tasks, nil
}

func (a *Adapter) GetTask(ctx context.Context, externalProjectID, externalID string) (*unified.Task, error) {
	wp, status, err := a.fetchWorkPackage(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	t := a.workPackageToUnified(wp, externalProjectID)
	return &t, nil
}

func (a *Adapter) CreateTask(ctx context.Context, t *unified.Task) (*unified.Task, error) {
	body := map[string]any{
		"subject":     t.Title,
		"description": map[string]any{"format": "markdown", "raw": t.Description},
	}
	if t.DueDate != nil {
		body["dueDate"] = t.DueDate.Format("2006-01-02")
	}
	links, err := a.writeLinks(ctx, t)
	if err != nil {
		return nil, err
	}
	if links != nil {
		body["_links"] = links
	}
	var created opWorkPackage
	path := "/projects/" + url.PathEscape(t.ProjectExternalID) + "/work_packages"
	status, err := a.call(ctx, http.MethodPost, path, body, &created)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("openproject: create work package: status %d", status)
	}
	u := a.workPackageToUnified(&created, t.ProjectExternalID)
	return &u, nil
}

// UpdateTask re-reads the work package first: OpenProject rejects writes
// whose lockVersion does not match the current one.
func (a *Adapter) UpdateTask(ctx context.Context, t *unified.Task) (*unified.Task, error) {
	current, status, err := a.fetchWorkPackage(ctx, t.ExternalID)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("openproject: work package %s: %w", t.ExternalID, domain.ErrNotFound)
	}

	body := map[string]any{
		"lockVersion": current.LockVersion,
		"subject":     t.Title,
		"description": map[string]any{"format": "markdown", "raw": t.Description},
	}
	links, err := a.writeLinks(ctx, t)
	if err != nil {
		return nil, err
	}
	if links != nil {
		body["_links"] = links
	}
	var updated opWorkPackage
	status, err = a.call(ctx, http.MethodPatch, "/work_packages/"+url.PathEscape(t.ExternalID), body, &updated)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("openproject: update work package %s: status %d", t.ExternalID, status)
	}
	u := a.workPackageToUnified(&updated, t.ProjectExternalID)
	return &u, nil
}

// CompleteTask resolves the instance's closed status and moves the work
// package there. Returns false when the instance defines no closed status.
func (a *Adapter) CompleteTask(ctx context.Context, _, externalID string) (bool, error) {
	var statuses opCollection[opStatus]
	if _, err := a.call(ctx, http.MethodGet, "/statuses", nil, &statuses); err != nil {
		return false, err
	}
	closedID := 0
	for _, s := range statuses.Embedded.Elements {
		if s.IsClosed {
			closedID = s.ID
			break
		}
	}
	if closedID == 0 {
		return false, nil
	}

	current, status, err := a.fetchWorkPackage(ctx, externalID)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}

	body := map[string]any{
		"lockVersion": current.LockVersion,
		"_links": map[string]any{
			"status": map[string]any{"href": apiBase + "/statuses/" + strconv.Itoa(closedID)},
		},
	}
	status, err = a.call(ctx, http.MethodPatch, "/work_packages/"+url.PathEscape(externalID), body, nil)
	if err != nil {
		return false, err
	}
	return status < 400, nil
}

// writeLinks resolves the instance's status and priority hrefs for the
// task's unified values. Both are looked up by name against the instance's
// live collections, since ids differ per installation.
func (a *Adapter) writeLinks(ctx context.Context, t *unified.Task) (map[string]any, error) {
	links := map[string]any{}

	if want, ok := unifiedToStatusName[t.Status]; ok {
		var statuses opCollection[opStatus]
		if _, err := a.call(ctx, http.MethodGet, "/statuses", nil, &statuses); err != nil {
			return nil, err
		}
		for _, s := range statuses.Embedded.Elements {
			if strings.ToLower(s.Name) == want {
				links["status"] = map[string]any{"href": apiBase + "/statuses/" + strconv.Itoa(s.ID)}
				break
			}
		}
	}
	if want, ok := unifiedToPriorityName[t.Priority]; ok {
		var priorities opCollection[opPriority]
		if _, err := a.call(ctx, http.MethodGet, "/priorities", nil, &priorities); err != nil {
			return nil, err
		}
		for _, p := range priorities.Embedded.Elements {
			if strings.ToLower(p.Name) == want {
				links["priority"] = map[string]any{"href": apiBase + "/priorities/" + strconv.Itoa(p.ID)}
				break
			}
		}
	}

	if len(links) == 0 {
		return nil, nil
	}
	return links, nil
}

func (a *Adapter) fetchWorkPackage(ctx context.Context, externalID string) (*opWorkPackage, int, error) {
	var wp opWorkPackage
	status, err := a.call(ctx, http.MethodGet, "/work_packages/"+url.PathEscape(externalID), nil, &wp)
	if err != nil {
		return nil, status, err
	}
	return &wp, status, nil
}

// --- translation ---

func (a *Adapter) projectToUnified(p *opProject) unified.Project {
	status := unified.ProjectActive
	if !p.Active {
		status = unified.ProjectCompleted
	}
	u := unified.Project{
		ExternalID: strconv.Itoa(p.ID),
		Name:       p.Name,
		Status:     status,
		URL:        a.baseURL + "/projects/" + p.Identifier,
		RawData:    map[string]any{"active": p.Active, "identifier": p.Identifier},
	}
	if p.Description != nil {
		u.Description = p.Description.Raw
	}
	u.RemoteUpdatedAt = parseTime(p.UpdatedAt)
	return u
}

func (a *Adapter) workPackageToUnified(wp *opWorkPackage, projectExternalID string) unified.Task {
	u := unified.Task{
		ExternalID:        strconv.Itoa(wp.ID),
		ProjectExternalID: projectExternalID,
		Title:             wp.Subject,
		Status:            unified.TaskStatusOrDefault(statusNameToUnified, strings.ToLower(wp.Links.Status.Title)),
		Priority:          unified.PriorityOrDefault(priorityNameToUnified, strings.ToLower(wp.Links.Priority.Title)),
		Assignee:          wp.Links.Assignee.Title,
		URL:               a.baseURL + "/work_packages/" + strconv.Itoa(wp.ID),
		RawData: map[string]any{
			"status_name":  wp.Links.Status.Title,
			"lock_version": wp.LockVersion,
		},
	}
	if wp.Description != nil {
		u.Description = wp.Description.Raw
	}
	if wp.DueDate != "" {
		if t, err := time.Parse("2006-01-02", wp.DueDate); err == nil {
			u.DueDate = &t
		}
	}
	u.EstimatedHours = durationHours(wp.EstimatedTime)
	u.RemoteUpdatedAt = parseTime(wp.UpdatedAt)
	return u
}

// identifierFor derives a URL-safe project identifier from the name.
func identifierFor(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	id := strings.Trim(b.String(), "-")
	if id == "" {
		id = "project"
	}
	if len(id) > 100 {
		id = id[:100]
	}
	return id
}

// durationHours converts an ISO 8601 duration like PT8H30M to hours.
func durationHours(iso string) float64 {
	if iso == "" {
		return 0
	}
	rest, ok := strings.CutPrefix(iso, "PT")
	if !ok {
		return 0
	}
	var hours float64
	var num strings.Builder
	for _, r := range rest {
		switch {
		case (r >= '0' && r <= '9') || r == '.':
			num.WriteRune(r)
		case r == 'H':
			if v, err := strconv.ParseFloat(num.String(), 64); err == nil {
				hours += v
			}
			num.Reset()
		case r == 'M':
			if v, err := strconv.ParseFloat(num.String(), 64); err == nil {
				hours += v / 60
			}
			num.Reset()
		default:
			num.Reset()
		}
	}
	return hours
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
