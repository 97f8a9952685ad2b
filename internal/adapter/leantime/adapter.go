// Package leantime implements a pmtool.Adapter for Leantime using its
// JSON-RPC API. All calls go to a single endpoint; the method name selects
// the operation.
package leantime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/magnus-suite/magnus-sync/internal/domain"
	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
	"github.com/magnus-suite/magnus-sync/internal/port/pmtool"
)

const (
	toolName    = "leantime"
	rpcPath     = "/api/jsonrpc"
	rpcDateTime = "2006-01-02 15:04:05"
)

// Adapter implements pmtool.Adapter for Leantime.
type Adapter struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// New creates a Leantime adapter. Leantime is self-hosted, so the instance
// URL is mandatory; authentication uses the "api_key" credential.
func New(conn *connection.Connection) (*Adapter, error) {
	apiKey := conn.Credential("api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("leantime: api_key: %w", domain.ErrMissingCredentials)
	}
	if conn.InstanceURL == "" {
		return nil, fmt.Errorf("leantime: instance url is required")
	}

	return &Adapter{
		endpoint:   strings.TrimSuffix(conn.InstanceURL, "/") + rpcPath,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
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

// Leantime ticket statuses are numeric codes with fixed meaning.
var codeToStatus = map[string]unified.TaskStatus{
	"3":  unified.TaskTodo,
	"1":  unified.TaskBlocked,
	"4":  unified.TaskInProgress,
	"2":  unified.TaskReview,
	"0":  unified.TaskDone,
	"-1": unified.TaskCancelled,
}

var statusToCode = map[unified.TaskStatus]int{
	unified.TaskTodo:       3,
	unified.TaskBlocked:    1,
	unified.TaskInProgress: 4,
	unified.TaskReview:     2,
	unified.TaskDone:       0,
	unified.TaskCancelled:  -1,
}

var codeToPriority = map[string]unified.Priority{
	"1": unified.PriorityCritical,
	"2": unified.PriorityHigh,
	"3": unified.PriorityMedium,
	"4": unified.PriorityLow,
}

var priorityToCode = map[unified.Priority]string{
	unified.PriorityCritical: "1",
	unified.PriorityHigh:     "2",
	unified.PriorityMedium:   "3",
	unified.PriorityLow:      "4",
}

// --- JSON-RPC plumbing ---

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
}

func (a *Adapter) rpc(ctx context.Context, method string, params, out any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return fmt.Errorf("leantime marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("leantime create request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("leantime request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("leantime: unexpected status %d", resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("leantime decode response: %w", err)
	}
	if rr.Error != nil {
		return fmt.Errorf("leantime: rpc %d: %s", rr.Error.Code, rr.Error.Message)
	}
	if out != nil && rr.Result != nil {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("leantime decode result: %w", err)
		}
	}
	return nil
}

// --- wire types ---

// Leantime serializes numbers inconsistently (sometimes strings), so ids and
// codes are decoded through flexString.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type leantimeProject struct {
	ID      flexString `json:"id"`
	Name    string     `json:"name"`
	Details string     `json:"details"`
	State   flexString `json:"state"`
}

type leantimeTicket struct {
	ID             flexString `json:"id"`
	Headline       string     `json:"headline"`
	Description    string     `json:"description"`
	Status         flexString `json:"status"`
	Priority       flexString `json:"priority"`
	ProjectID      flexString `json:"projectId"`
	EditorFirstname string    `json:"editorFirstname"`
	EditorLastname  string    `json:"editorLastname"`
	DateToFinish   string     `json:"dateToFinish"`
	PlanHours      float64    `json:"planHours"`
	Date           string     `json:"date"`
}

func (a *Adapter) TestConnection(ctx context.Context) bool {
	var out json.RawMessage
	return a.rpc(ctx, "leantime.rpc.projects.getAll", map[string]any{}, &out) == nil
}

func (a *Adapter) ListProjects(ctx context.Context) ([]unified.Project, error) {
	var raw []leantimeProject
	if err := a.rpc(ctx, "leantime.rpc.projects.getAll", map[string]any{}, &raw); err != nil {
		return nil, err
	}

	projects := make([]unified.Project, 0, len(raw))
	for i := range raw {
		projects = append(projects, projectToUnified(&raw[i]))
	}
	return projects, nil
}

func (a *Adapter) GetProject(ctx context.Context, externalID string) (*unified.Project, error) {
	id, err := strconv.Atoi(externalID)
	if err != nil {
		return nil, fmt.Errorf("leantime: project id %q is not numeric", externalID)
	}

	var result json.RawMessage
	if err := a.rpc(ctx, "leantime.rpc.projects.getProject", map[string]any{"id": id}, &result); err != nil {
		return nil, err
	}
	// Leantime answers false, not an error, for unknown ids.
	var raw leantimeProject
	if !decodeEntity(result, &raw) || raw.ID == "" {
		return nil, nil
	}
	p := projectToUnified(&raw)
	return &p, nil
}

func (a *Adapter) CreateProject(ctx context.Context, p *unified.Project) (*unified.Project, error) {
	values := map[string]any{"name": p.Name, "details": p.Description}
	var id flexString
	if err := a.rpc(ctx, "leantime.rpc.projects.addProject", map[string]any{"values": values}, &id); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("leantime: project create rejected")
	}
	return a.GetProject(ctx, string(id))
}

func (a *Adapter) UpdateProject(ctx context.Context, p *unified.Project) (*unified.Project, error) {
	id, err := strconv.Atoi(p.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("leantime: project id %q is not numeric", p.ExternalID)
	}

	params := map[string]any{
		"id":     id,
		"params": map[string]any{"name": p.Name, "details": p.Description},
	}
	if err := a.rpc(ctx, "leantime.rpc.projects.patchProject", params, nil); err != nil {
		return nil, err
	}
	return a.GetProject(ctx, p.ExternalID)
}

func (a *Adapter) ListTasks(ctx context.Context, externalProjectID string) ([]unified.Task, error) {
	id, err := strconv.Atoi(externalProjectID)
	if err != nil {
		return nil, fmt.Errorf("leantime: project id %q is not numeric", externalProjectID)
	}

	var raw []leantimeTicket
	params := map[string]any{"searchCriteria": map[string]any{"currentProject": id}}
	if err := a.rpc(ctx, "leantime.rpc.tickets.getAll", params, &raw); err != nil {
		return nil, err
	}

	tasks := make([]unified.Task, 0, len(raw))
	for i := range raw {
		tasks = append(tasks, ticketToUnified(&raw[i], externalProjectID))
	}
	return tasks, nil
}

func (a *Adapter) GetTask(ctx context.Context, externalProjectID, externalID string) (*unified.Task, error) {
	id, err := strconv.Atoi(externalID)
	if err != nil {
		return nil, fmt.Errorf("leantime: ticket id %q is not numeric", externalID)
	}

	var result json.RawMessage
	if err := a.rpc(ctx, "leantime.rpc.tickets.getTicket", map[string]any{"id": id}, &result); err != nil {
		return nil, err
	}
	var raw leantimeTicket
	if !decodeEntity(result, &raw) || raw.ID == "" {
		return nil, nil
	}
	t := ticketToUnified(&raw, externalProjectID)
	return &t, nil
}

func (a *Adapter) CreateTask(ctx context.Context, t *unified.Task) (*unified.Task, error) {
	projectID, err := strconv.Atoi(t.ProjectExternalID)
	if err != nil {
		return nil, fmt.Errorf("leantime: project id %q is not numeric", t.ProjectExternalID)
	}

	values := map[string]any{
		"headline":    t.Title,
		"description": t.Description,
		"projectId":   projectID,
		"status":      statusCode(t.Status),
		"priority":    priorityToCode[t.Priority],
	}
	if t.DueDate != nil {
		values["dateToFinish"] = t.DueDate.Format(rpcDateTime)
	}
	var id flexString
	if err := a.rpc(ctx, "leantime.rpc.tickets.addTicket", map[string]any{"values": values}, &id); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("leantime: ticket create rejected")
	}
	return a.GetTask(ctx, t.ProjectExternalID, string(id))
}

func (a *Adapter) UpdateTask(ctx context.Context, t *unified.Task) (*unified.Task, error) {
	id, err := strconv.Atoi(t.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("leantime: ticket id %q is not numeric", t.ExternalID)
	}

	params := map[string]any{
		"id": id,
		"params": map[string]any{
			"headline":    t.Title,
			"description": t.Description,
			"status":      statusCode(t.Status),
			"priority":    priorityToCode[t.Priority],
		},
	}
	if err := a.rpc(ctx, "leantime.rpc.tickets.patchTicket", params, nil); err != nil {
		return nil, err
	}
	return a.GetTask(ctx, t.ProjectExternalID, t.ExternalID)
}

// CompleteTask patches the ticket to the fixed done code. Leantime's
// terminal state is not configurable, so no workflow lookup is needed.
func (a *Adapter) CompleteTask(ctx context.Context, externalProjectID, externalID string) (bool, error) {
	existing, err := a.GetTask(ctx, externalProjectID, externalID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	id, _ := strconv.Atoi(externalID)
	params := map[string]any{
		"id":     id,
		"params": map[string]any{"status": statusToCode[unified.TaskDone]},
	}
	if err := a.rpc(ctx, "leantime.rpc.tickets.patchTicket", params, nil); err != nil {
		return false, err
	}
	return true, nil
}

// decodeEntity unmarshals an rpc result into out, treating false and null
// results as absent.
func decodeEntity(result json.RawMessage, out any) bool {
	trimmed := strings.TrimSpace(string(result))
	if trimmed == "" || trimmed == "false" || trimmed == "null" {
		return false
	}
	return json.Unmarshal(result, out) == nil
}

func statusCode(s unified.TaskStatus) int {
	if code, ok := statusToCode[s]; ok {
		return code
	}
	return statusToCode[unified.TaskTodo]
}

// --- translation ---

func projectToUnified(p *leantimeProject) unified.Project {
	// Leantime project state: 0 is open, -1 is closed.
	status := unified.ProjectActive
	if p.State == "-1" {
		status = unified.ProjectCompleted
	}
	return unified.Project{
		ExternalID:  string(p.ID),
		Name:        p.Name,
		Description: p.Details,
		Status:      status,
		RawData:     map[string]any{"state": string(p.State)},
	}
}

func ticketToUnified(ticket *leantimeTicket, projectExternalID string) unified.Task {
	u := unified.Task{
		ExternalID:        string(ticket.ID),
		ProjectExternalID: projectExternalID,
		Title:             ticket.Headline,
		Description:       ticket.Description,
		Status:            unified.TaskStatusOrDefault(codeToStatus, string(ticket.Status)),
		Priority:          unified.PriorityOrDefault(codeToPriority, string(ticket.Priority)),
		EstimatedHours:    ticket.PlanHours,
		RawData: map[string]any{
			"status_code":   string(ticket.Status),
			"priority_code": string(ticket.Priority),
		},
	}
	if ticket.EditorFirstname != "" || ticket.EditorLastname != "" {
		u.Assignee = strings.TrimSpace(ticket.EditorFirstname + " " + ticket.EditorLastname)
	}
	u.DueDate = parseDateTime(ticket.DateToFinish)
	u.RemoteUpdatedAt = nil // Leantime does not expose a reliable modified timestamp
	return u
}

func parseDateTime(s string) *time.Time {
	if s == "" || strings.HasPrefix(s, "0000-00-00") {
		return nil
	}
	if t, err := time.Parse(rpcDateTime, s); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	return nil
}
