// Package linear implements a pmtool.Adapter for Linear using its GraphQL API.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/magnus-suite/magnus-sync/internal/domain"
	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
	"github.com/magnus-suite/magnus-sync/internal/port/pmtool"
)

const (
	toolName        = "linear"
	defaultEndpoint = "https://api.linear.app/graphql"
)

// Adapter implements pmtool.Adapter for Linear.
type Adapter struct {
	endpoint   string
	apiKey     string
	teamID     string
	httpClient *http.Client
}

// New creates a Linear adapter from a connection. Requires the "api_key"
// credential; team_id is optional and auto-resolved on first create.
func New(conn *connection.Connection) (*Adapter, error) {
	apiKey := conn.Credential("api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("linear: api_key: %w", domain.ErrMissingCredentials)
	}

	endpoint := defaultEndpoint
	if conn.InstanceURL != "" {
		endpoint = conn.InstanceURL
	}

	return &Adapter{
		endpoint:   endpoint,
		apiKey:     apiKey,
		teamID:     conn.TeamID,
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

// Linear workflow state types -> unified task status. The state's display
// name is free-form per team; the type is fixed vocabulary.
var stateTypeToStatus = map[string]unified.TaskStatus{
	"triage":    unified.TaskTodo,
	"backlog":   unified.TaskTodo,
	"unstarted": unified.TaskTodo,
	"started":   unified.TaskInProgress,
	"completed": unified.TaskDone,
	"canceled":  unified.TaskCancelled,
}

// Linear priority numbers -> unified priority. 0 means "no priority".
var priorityToUnified = map[string]unified.Priority{
	"1": unified.PriorityCritical,
	"2": unified.PriorityHigh,
	"3": unified.PriorityMedium,
	"4": unified.PriorityLow,
}

var unifiedToPriority = map[unified.Priority]int{
	unified.PriorityCritical: 1,
	unified.PriorityHigh:     2,
	unified.PriorityMedium:   3,
	unified.PriorityLow:      4,
}

// unifiedToStateType picks the workflow state type a status write targets.
// Blocked and review have no Linear equivalent and land in the started type.
var unifiedToStateType = map[unified.TaskStatus]string{
	unified.TaskTodo:       "unstarted",
	unified.TaskInProgress: "started",
	unified.TaskBlocked:    "started",
	unified.TaskReview:     "started",
	unified.TaskDone:       "completed",
	unified.TaskCancelled:  "canceled",
}

var projectStateToStatus = map[string]unified.ProjectStatus{
	"backlog":   unified.ProjectPlanning,
	"planned":   unified.ProjectPlanning,
	"started":   unified.ProjectActive,
	"paused":    unified.ProjectOnHold,
	"completed": unified.ProjectCompleted,
	"canceled":  unified.ProjectCancelled,
}

// unifiedToProjectState is the canonical external default per unified status.
var unifiedToProjectState = map[unified.ProjectStatus]string{
	unified.ProjectPlanning:  "planned",
	unified.ProjectActive:    "started",
	unified.ProjectOnHold:    "paused",
	unified.ProjectCompleted: "completed",
	unified.ProjectCancelled: "canceled",
}

// --- GraphQL plumbing ---

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors,omitempty"`
}

// query posts a GraphQL document and unmarshals the data payload into out.
func (a *Adapter) query(ctx context.Context, doc string, vars map[string]any, out any) error {
	payload, err := json.Marshal(gqlRequest{Query: doc, Variables: vars})
	if err != nil {
		return fmt.Errorf("linear marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("linear create request: %w", err)
	}
	req.Header.Set("Authorization", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("linear request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("linear: unexpected status %d", resp.StatusCode)
	}

	var gr gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return fmt.Errorf("linear decode response: %w", err)
	}
	if len(gr.Errors) > 0 {
		return fmt.Errorf("linear: %s", gr.Errors[0].Message)
	}
	if out != nil && gr.Data != nil {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return fmt.Errorf("linear decode data: %w", err)
		}
	}
	return nil
}

// --- wire types ---

type linearProject struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	State       string  `json:"state"`
	URL         string  `json:"url"`
	StartedAt   *string `json:"startedAt"`
	TargetDate  *string `json:"targetDate"`
	UpdatedAt   *string `json:"updatedAt"`
}

type linearState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type linearIssue struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	URL         string       `json:"url"`
	Priority    int          `json:"priority"`
	DueDate     *string      `json:"dueDate"`
	Estimate    *float64     `json:"estimate"`
	UpdatedAt   *string      `json:"updatedAt"`
	State       *linearState `json:"state"`
	Assignee    *struct {
		Name string `json:"name"`
	} `json:"assignee"`
	Parent *struct {
		ID string `json:"id"`
	} `json:"parent"`
}

func (a *Adapter) TestConnection(ctx context.Context) bool {
	var out struct {
		Viewer *struct {
			ID string `json:"id"`
		} `json:"viewer"`
	}
	if err := a.query(ctx, `query { viewer { id } }`, nil, &out); err != nil {
		return false
	}
	return out.Viewer != nil
}

func (a *Adapter) ListProjects(ctx context.Context) ([]unified.Project, error) {
	doc := `query { projects(first: 100) { nodes {
		id name description state url startedAt targetDate updatedAt } } }`
	vars := map[string]any{}
	if a.teamID != "" {
		doc = `query Team($teamId: String!) { team(id: $teamId) { projects(first: 100) { nodes {
			id name description state url startedAt targetDate updatedAt } } } }`
		vars["teamId"] = a.teamID
	}

	var flat struct {
		Projects *struct {
			Nodes []linearProject `json:"nodes"`
		} `json:"projects"`
		Team *struct {
			Projects struct {
				Nodes []linearProject `json:"nodes"`
			} `json:"projects"`
		} `json:"team"`
	}
	if err := a.query(ctx, doc, vars, &flat); err != nil {
		return nil, err
	}

	var nodes []linearProject
	switch {
	case flat.Team != nil:
		nodes = flat.Team.Projects.Nodes
	case flat.Projects != nil:
		nodes = flat.Projects.Nodes
	}

	projects := make([]unified.Project, 0, len(nodes))
	for i := range nodes {
		projects = append(projects, projectToUnified(&nodes[i]))
	}
	return projects, nil
}

func (a *Adapter) GetProject(ctx context.Context, externalID string) (*unified.Project, error) {
	var out struct {
		Project *linearProject `json:"project"`
	}
	doc := `query Project($id: String!) { project(id: $id) {
		id name description state url startedAt targetDate updatedAt } }`
	if err := a.query(ctx, doc, map[string]any{"id": externalID}, &out); err != nil {
		return nil, nil //nolint:nilerr // not-found sentinel: Linear errors on unknown ids
	}
	if out.Project == nil {
		return nil, nil
	}
	p := projectToUnified(out.Project)
	return &p, nil
}

func (a *Adapter) CreateProject(ctx context.Context, p *unified.Project) (*unified.Project, error) {
	teamID, err := a.resolveTeamID(ctx)
	if err != nil {
		return nil, err
	}

	var out struct {
		ProjectCreate struct {
			Success bool           `json:"success"`
			Project *linearProject `json:"project"`
		} `json:"projectCreate"`
	}
	doc := `mutation ProjectCreate($input: ProjectCreateInput!) {
		projectCreate(input: $input) { success project { id name description state url } } }`
	input := map[string]any{
		"name":        p.Name,
		"description": p.Description,
		"teamIds":     []string{teamID},
	}
	if err := a.query(ctx, doc, map[string]any{"input": input}, &out); err != nil {
		return nil, err
	}
	if !out.ProjectCreate.Success || out.ProjectCreate.Project == nil {
		return nil, fmt.Errorf("linear: project create rejected")
	}
	created := projectToUnified(out.ProjectCreate.Project)
	return &created, nil
}

func (a *Adapter) UpdateProject(ctx context.Context, p *unified.Project) (*unified.Project, error) {
	var out struct {
		ProjectUpdate struct {
			Success bool           `json:"success"`
			Project *linearProject `json:"project"`
		} `json:"projectUpdate"`
	}
	doc := `mutation ProjectUpdate($id: String!, $input: ProjectUpdateInput!) {
		projectUpdate(id: $id, input: $input) { success project { id name description state url } } }`
	input := map[string]any{
		"name":        p.Name,
		"description": p.Description,
	}
	if state, ok := unifiedToProjectState[p.Status]; ok {
		input["state"] = state
	}
	if err := a.query(ctx, doc, map[string]any{"id": p.ExternalID, "input": input}, &out); err != nil {
		return nil, err
	}
	if out.ProjectUpdate.Project == nil {
		return nil, fmt.Errorf("linear: project update rejected")
	}
	updated := projectToUnified(out.ProjectUpdate.Project)
	return &updated, nil
}

func (a *Adapter) ListTasks(ctx context.Context, externalProjectID string) ([]unified.Task, error) {
	var out struct {
		Project *struct {
			Issues struct {
				Nodes []linearIssue `json:"nodes"`
			} `json:"issues"`
		} `json:"project"`
	}
	doc := `query Issues($projectId: String!) { project(id: $projectId) { issues(first: 250) { nodes {
		id title description url priority dueDate estimate updatedAt
		state { id name type } assignee { name } parent { id } } } } }`
	if err := a.query(ctx, doc, map[string]any{"projectId": externalProjectID}, &out); err != nil {
		return nil, err
	}
	if out.Project == nil {
		return []unified.Task{}, nil
	}

	tasks := make([]unified.Task, 0, len(out.Project.Issues.Nodes))
	for i := range out.Project.Issues.Nodes {
		tasks = append(tasks, issueToUnified(&out.Project.Issues.Nodes[i], externalProjectID))
	}
	return tasks, nil
}

func (a *Adapter) GetTask(ctx context.Context, externalProjectID, externalID string) (*unified.Task, error) {
	var out struct {
		Issue *linearIssue `json:"issue"`
	}
	doc := `query Issue($id: String!) { issue(id: $id) {
		id title description url priority dueDate estimate updatedAt
		state { id name type } assignee { name } parent { id } } }`
	if err := a.query(ctx, doc, map[string]any{"id": externalID}, &out); err != nil {
		return nil, nil //nolint:nilerr // not-found sentinel
	}
	if out.Issue == nil {
		return nil, nil
	}
	t := issueToUnified(out.Issue, externalProjectID)
	return &t, nil
}

func (a *Adapter) CreateTask(ctx context.Context, t *unified.Task) (*unified.Task, error) {
	teamID, err := a.resolveTeamID(ctx)
	if err != nil {
		return nil, err
	}

	var out struct {
		IssueCreate struct {
			Success bool         `json:"success"`
			Issue   *linearIssue `json:"issue"`
		} `json:"issueCreate"`
	}
	doc := `mutation IssueCreate($input: IssueCreateInput!) {
		issueCreate(input: $input) { success issue {
			id title description url priority state { id name type } } } }`
	input := map[string]any{
		"teamId":      teamID,
		"title":       t.Title,
		"description": t.Description,
	}
	if t.ProjectExternalID != "" {
		input["projectId"] = t.ProjectExternalID
	}
	if p, ok := unifiedToPriority[t.Priority]; ok {
		input["priority"] = p
	}
	if stateType, ok := unifiedToStateType[t.Status]; ok {
		stateID, err := a.teamStateID(ctx, teamID, stateType)
		if err != nil {
			return nil, err
		}
		if stateID != "" {
			input["stateId"] = stateID
		}
	}
	if err := a.query(ctx, doc, map[string]any{"input": input}, &out); err != nil {
		return nil, err
	}
	if !out.IssueCreate.Success || out.IssueCreate.Issue == nil {
		return nil, fmt.Errorf("linear: issue create rejected")
	}
	created := issueToUnified(out.IssueCreate.Issue, t.ProjectExternalID)
	return &created, nil
}

func (a *Adapter) UpdateTask(ctx context.Context, t *unified.Task) (*unified.Task, error) {
	var out struct {
		IssueUpdate struct {
			Success bool         `json:"success"`
			Issue   *linearIssue `json:"issue"`
		} `json:"issueUpdate"`
	}
	doc := `mutation IssueUpdate($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) { success issue {
			id title description url priority state { id name type } } } }`
	input := map[string]any{
		"title":       t.Title,
		"description": t.Description,
	}
	if p, ok := unifiedToPriority[t.Priority]; ok {
		input["priority"] = p
	}
	if stateType, ok := unifiedToStateType[t.Status]; ok {
		stateID, err := a.issueStateID(ctx, t.ExternalID, stateType)
		if err != nil {
			return nil, err
		}
		if stateID != "" {
			input["stateId"] = stateID
		}
	}
	if err := a.query(ctx, doc, map[string]any{"id": t.ExternalID, "input": input}, &out); err != nil {
		return nil, err
	}
	if out.IssueUpdate.Issue == nil {
		return nil, fmt.Errorf("linear: issue update rejected")
	}
	updated := issueToUnified(out.IssueUpdate.Issue, t.ProjectExternalID)
	return &updated, nil
}

// CompleteTask resolves the "completed"-typed workflow state of the issue's
// team and moves the issue there. Returns false when the team has none.
func (a *Adapter) CompleteTask(ctx context.Context, _, externalID string) (bool, error) {
	doneID, err := a.issueStateID(ctx, externalID, "completed")
	if err != nil {
		return false, err
	}
	if doneID == "" {
		return false, nil
	}

	var out struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	mut := `mutation Complete($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) { success } }`
	input := map[string]any{"stateId": doneID}
	if err := a.query(ctx, mut, map[string]any{"id": externalID, "input": input}, &out); err != nil {
		return false, err
	}
	return out.IssueUpdate.Success, nil
}

// issueStateID resolves the id of the first state of the given type in the
// issue's team workflow. Empty when the issue or state type is absent.
func (a *Adapter) issueStateID(ctx context.Context, issueID, stateType string) (string, error) {
	var out struct {
		Issue *struct {
			Team struct {
				States struct {
					Nodes []linearState `json:"nodes"`
				} `json:"states"`
			} `json:"team"`
		} `json:"issue"`
	}
	doc := `query IssueStates($id: String!) { issue(id: $id) {
		team { states(first: 50) { nodes { id name type } } } } }`
	if err := a.query(ctx, doc, map[string]any{"id": issueID}, &out); err != nil {
		return "", err
	}
	if out.Issue == nil {
		return "", nil
	}
	return stateIDByType(out.Issue.Team.States.Nodes, stateType), nil
}

// teamStateID is issueStateID for a team that is known up front.
func (a *Adapter) teamStateID(ctx context.Context, teamID, stateType string) (string, error) {
	var out struct {
		Team *struct {
			States struct {
				Nodes []linearState `json:"nodes"`
			} `json:"states"`
		} `json:"team"`
	}
	doc := `query TeamStates($teamId: String!) { team(id: $teamId) {
		states(first: 50) { nodes { id name type } } } }`
	if err := a.query(ctx, doc, map[string]any{"teamId": teamID}, &out); err != nil {
		return "", err
	}
	if out.Team == nil {
		return "", nil
	}
	return stateIDByType(out.Team.States.Nodes, stateType), nil
}

func stateIDByType(states []linearState, stateType string) string {
	for _, s := range states {
		if s.Type == stateType {
			return s.ID
		}
	}
	return ""
}

// resolveTeamID returns the configured team or falls back to the first team
// visible to the token. Creating entities without any team is impossible in
// Linear, so an empty workspace fails loudly.
func (a *Adapter) resolveTeamID(ctx context.Context) (string, error) {
	if a.teamID != "" {
		return a.teamID, nil
	}

	var out struct {
		Teams struct {
			Nodes []struct {
				ID string `json:"id"`
			} `json:"nodes"`
		} `json:"teams"`
	}
	if err := a.query(ctx, `query { teams(first: 1) { nodes { id } } }`, nil, &out); err != nil {
		return "", err
	}
	if len(out.Teams.Nodes) == 0 {
		return "", fmt.Errorf("linear: no team available and team_id not configured")
	}
	a.teamID = out.Teams.Nodes[0].ID
	return a.teamID, nil
}

// --- translation ---

func projectToUnified(p *linearProject) unified.Project {
	u := unified.Project{
		ExternalID:  p.ID,
		Name:        p.Name,
		Description: p.Description,
		Status:      unified.ProjectStatusOrDefault(projectStateToStatus, p.State),
		URL:         p.URL,
		RawData:     map[string]any{"state": p.State},
	}
	u.StartDate = parseDate(p.StartedAt)
	u.EndDate = parseDate(p.TargetDate)
	u.RemoteUpdatedAt = parseTime(p.UpdatedAt)
	return u
}

func issueToUnified(issue *linearIssue, projectExternalID string) unified.Task {
	u := unified.Task{
		ExternalID:        issue.ID,
		ProjectExternalID: projectExternalID,
		Title:             issue.Title,
		Description:       issue.Description,
		Status:            unified.TaskTodo,
		Priority:          unified.PriorityOrDefault(priorityToUnified, strconv.Itoa(issue.Priority)),
		URL:               issue.URL,
		RawData:           map[string]any{"priority": issue.Priority},
	}
	if issue.State != nil {
		u.Status = unified.TaskStatusOrDefault(stateTypeToStatus, issue.State.Type)
		u.RawData["state_name"] = issue.State.Name
		u.RawData["state_type"] = issue.State.Type
	}
	if issue.Assignee != nil {
		u.Assignee = issue.Assignee.Name
	}
	if issue.Parent != nil {
		u.ParentID = issue.Parent.ID
	}
	if issue.Estimate != nil {
		u.EstimatedHours = *issue.Estimate
	}
	u.DueDate = parseDate(issue.DueDate)
	u.RemoteUpdatedAt = parseTime(issue.UpdatedAt)
	return u
}

func parseDate(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	if t, err := time.Parse("2006-01-02", *s); err == nil {
		return &t
	}
	return parseTime(s)
}

func parseTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, *s); err == nil {
		return &t
	}
	return nil
}
