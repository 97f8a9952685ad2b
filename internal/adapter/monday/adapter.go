// Package monday implements a pmtool.Adapter for monday.com using its
// GraphQL API. Boards map to unified projects and items to unified tasks.
package monday

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/magnus-suite/magnus-sync/internal/domain"
	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
	"github.com/magnus-suite/magnus-sync/internal/port/pmtool"
)

const (
	toolName        = "monday"
	defaultEndpoint = "https://api.monday.com/v2"
	apiVersion      = "2024-10"
)

// Adapter implements pmtool.Adapter for monday.com.
type Adapter struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client

	// column layout per board, resolved lazily
	columnCache map[string][]mondayColumn
}

// New creates a monday.com adapter. Requires the "api_key" credential.
func New(conn *connection.Connection) (*Adapter, error) {
	apiKey := conn.Credential("api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("monday: api_key: %w", domain.ErrMissingCredentials)
	}

	endpoint := defaultEndpoint
	if conn.InstanceURL != "" {
		endpoint = conn.InstanceURL
	}

	return &Adapter{
		endpoint:    endpoint,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		columnCache: make(map[string][]mondayColumn),
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

// Status column labels are free-form per board; these cover monday's default
// board templates. Lookups are case-insensitive.
var labelToStatus = map[string]unified.TaskStatus{
	"done":           unified.TaskDone,
	"working on it":  unified.TaskInProgress,
	"in progress":    unified.TaskInProgress,
	"stuck":          unified.TaskBlocked,
	"blocked":        unified.TaskBlocked,
	"waiting review": unified.TaskReview,
	"in review":      unified.TaskReview,
	"to do":          unified.TaskTodo,
	"not started":    unified.TaskTodo,
	"canceled":       unified.TaskCancelled,
	"cancelled":      unified.TaskCancelled,
}

var labelToPriority = map[string]unified.Priority{
	"critical": unified.PriorityCritical,
	"urgent":   unified.PriorityCritical,
	"high":     unified.PriorityHigh,
	"medium":   unified.PriorityMedium,
	"low":      unified.PriorityLow,
}

var boardStateToStatus = map[string]unified.ProjectStatus{
	"active":   unified.ProjectActive,
	"archived": unified.ProjectCompleted,
	"deleted":  unified.ProjectCancelled,
}

// statusLabelSynonyms orders the labels tried when pushing a unified status
// onto a board's status column. The first label the board defines wins.
var statusLabelSynonyms = map[unified.TaskStatus][]string{
	unified.TaskTodo:       {"To Do", "Not Started"},
	unified.TaskInProgress: {"Working on it", "In Progress"},
	unified.TaskBlocked:    {"Stuck", "Blocked"},
	unified.TaskReview:     {"Waiting Review", "In Review"},
	unified.TaskDone:       {"Done"},
	unified.TaskCancelled:  {"Canceled", "Cancelled"},
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

func (a *Adapter) query(ctx context.Context, doc string, vars map[string]any, out any) error {
	payload, err := json.Marshal(gqlRequest{Query: doc, Variables: vars})
	if err != nil {
		return fmt.Errorf("monday marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("monday create request: %w", err)
	}
	req.Header.Set("Authorization", a.apiKey)
	req.Header.Set("API-Version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("monday request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("monday: unexpected status %d", resp.StatusCode)
	}

	var gr gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return fmt.Errorf("monday decode response: %w", err)
	}
	if len(gr.Errors) > 0 {
		return fmt.Errorf("monday: %s", gr.Errors[0].Message)
	}
	if out != nil && gr.Data != nil {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return fmt.Errorf("monday decode data: %w", err)
		}
	}
	return nil
}

// --- wire types ---

type mondayBoard struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	State       string `json:"state"`
	URL         string `json:"url"`
	UpdatedAt   string `json:"updated_at"`
}

type mondayColumn struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	SettingsStr string `json:"settings_str"`
}

type mondayColumnValue struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

type mondayItem struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	State        string              `json:"state"`
	URL          string              `json:"url"`
	UpdatedAt    string              `json:"updated_at"`
	ColumnValues []mondayColumnValue `json:"column_values"`
}

const boardFields = `id name description state url updated_at`
const itemFields = `id name state url updated_at column_values { id type text }`

func (a *Adapter) TestConnection(ctx context.Context) bool {
	var out struct {
		Me *struct {
			ID string `json:"id"`
		} `json:"me"`
	}
	if err := a.query(ctx, `query { me { id } }`, nil, &out); err != nil {
		return false
	}
	return out.Me != nil
}

func (a *Adapter) ListProjects(ctx context.Context) ([]unified.Project, error) {
	var out struct {
		Boards []mondayBoard `json:"boards"`
	}
	doc := `query { boards(limit: 100, order_by: created_at) { ` + boardFields + ` } }`
	if err := a.query(ctx, doc, nil, &out); err != nil {
		return nil, err
	}

	projects := make([]unified.Project, 0, len(out.Boards))
	for i := range out.Boards {
		projects = append(projects, boardToUnified(&out.Boards[i]))
	}
	return projects, nil
}

func (a *Adapter) GetProject(ctx context.Context, externalID string) (*unified.Project, error) {
	var out struct {
		Boards []mondayBoard `json:"boards"`
	}
	doc := `query Board($ids: [ID!]) { boards(ids: $ids) { ` + boardFields + ` } }`
	if err := a.query(ctx, doc, map[string]any{"ids": []string{externalID}}, &out); err != nil {
		return nil, err
	}
	if len(out.Boards) == 0 {
		return nil, nil
	}
	p := boardToUnified(&out.Boards[0])
	return &p, nil
}

func (a *Adapter) CreateProject(ctx context.Context, p *unified.Project) (*unified.Project, error) {
	var out struct {
		CreateBoard *mondayBoard `json:"create_board"`
	}
	doc := `mutation CreateBoard($name: String!, $desc: String) {
		create_board(board_name: $name, description: $desc, board_kind: public) { ` + boardFields + ` } }`
	vars := map[string]any{"name": p.Name, "desc": p.Description}
	if err := a.query(ctx, doc, vars, &out); err != nil {
		return nil, err
	}
	if out.CreateBoard == nil {
		return nil, fmt.Errorf("monday: board create rejected")
	}
	created := boardToUnified(out.CreateBoard)
	return &created, nil
}

// UpdateProject renames the board. monday exposes board attributes through
// per-attribute mutations, one call each.
func (a *Adapter) UpdateProject(ctx context.Context, p *unified.Project) (*unified.Project, error) {
	doc := `mutation Rename($boardId: ID!, $value: JSON!) {
		update_board(board_id: $boardId, board_attribute: name, new_value: $value) }`
	value, _ := json.Marshal(p.Name)
	if err := a.query(ctx, doc, map[string]any{"boardId": p.ExternalID, "value": string(value)}, nil); err != nil {
		return nil, err
	}

	if p.Description != "" {
		doc = `mutation Describe($boardId: ID!, $value: JSON!) {
			update_board(board_id: $boardId, board_attribute: description, new_value: $value) }`
		value, _ = json.Marshal(p.Description)
		if err := a.query(ctx, doc, map[string]any{"boardId": p.ExternalID, "value": string(value)}, nil); err != nil {
			return nil, err
		}
	}
	return a.GetProject(ctx, p.ExternalID)
}

func (a *Adapter) ListTasks(ctx context.Context, externalProjectID string) ([]unified.Task, error) {
	var out struct {
		Boards []struct {
			ItemsPage struct {
				Items []mondayItem `json:"items"`
			} `json:"items_page"`
		} `json:"boards"`
	}
	doc := `query Items($ids: [ID!]) { boards(ids: $ids) {
		items_page(limit: 250) { items { ` + itemFields + ` } } } }`
	if err := a.query(ctx, doc, map[string]any{"ids": []string{externalProjectID}}, &out); err != nil {
		return nil, err
	}
	if len(out.Boards) == 0 {
		return []unified.Task{}, nil
	}

	items := out.Boards[0].ItemsPage.Items
	tasks := make([]unified.Task, 0, len(items))
	for i := range items {
		tasks = append(tasks, itemToUnified(&items[i], externalProjectID))
	}
	return tasks, nil
}

func (a *Adapter) GetTask(ctx context.Context, externalProjectID, externalID string) (*unified.Task, error) {
	var out struct {
		Items []mondayItem `json:"items"`
	}
	doc := `query Item($ids: [ID!]) { items(ids: $ids) { ` + itemFields + ` } }`
	if err := a.query(ctx, doc, map[string]any{"ids": []string{externalID}}, &out); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 || out.Items[0].State == "deleted" {
		return nil, nil
	}
	t := itemToUnified(&out.Items[0], externalProjectID)
	return &t, nil
}

func (a *Adapter) CreateTask(ctx context.Context, t *unified.Task) (*unified.Task, error) {
	columnValues, err := a.buildColumnValues(ctx, t)
	if err != nil {
		return nil, err
	}

	var out struct {
		CreateItem *mondayItem `json:"create_item"`
	}
	doc := `mutation CreateItem($boardId: ID!, $name: String!, $values: JSON) {
		create_item(board_id: $boardId, item_name: $name, column_values: $values) { ` + itemFields + ` } }`
	vars := map[string]any{"boardId": t.ProjectExternalID, "name": t.Title}
	if len(columnValues) > 0 {
		encoded, _ := json.Marshal(columnValues)
		vars["values"] = string(encoded)
	}
	if err := a.query(ctx, doc, vars, &out); err != nil {
		return nil, err
	}
	if out.CreateItem == nil {
		return nil, fmt.Errorf("monday: item create rejected")
	}
	created := itemToUnified(out.CreateItem, t.ProjectExternalID)
	return &created, nil
}

func (a *Adapter) UpdateTask(ctx context.Context, t *unified.Task) (*unified.Task, error) {
	columnValues, err := a.buildColumnValues(ctx, t)
	if err != nil {
		return nil, err
	}
	// The item name is addressed as the pseudo-column "name".
	columnValues["name"] = t.Title

	var out struct {
		Change *mondayItem `json:"change_multiple_column_values"`
	}
	doc := `mutation UpdateItem($boardId: ID!, $itemId: ID!, $values: JSON!) {
		change_multiple_column_values(board_id: $boardId, item_id: $itemId, column_values: $values) { ` + itemFields + ` } }`
	encoded, _ := json.Marshal(columnValues)
	vars := map[string]any{"boardId": t.ProjectExternalID, "itemId": t.ExternalID, "values": string(encoded)}
	if err := a.query(ctx, doc, vars, &out); err != nil {
		return nil, err
	}
	if out.Change == nil {
		return nil, fmt.Errorf("monday: item update rejected")
	}
	updated := itemToUnified(out.Change, t.ProjectExternalID)
	return &updated, nil
}

// CompleteTask resolves the board's status column and moves the item to a
// "Done"-equivalent label. Returns false when the board has no status column
// or the column defines no such label.
func (a *Adapter) CompleteTask(ctx context.Context, externalProjectID, externalID string) (bool, error) {
	cols, err := a.columns(ctx, externalProjectID)
	if err != nil {
		return false, err
	}
	statusCol := findStatusColumn(cols)
	if statusCol == nil {
		return false, nil
	}
	label, ok := pickLabel(statusCol, statusLabelSynonyms[unified.TaskDone])
	if !ok {
		return false, nil
	}

	doc := `mutation Complete($boardId: ID!, $itemId: ID!, $columnId: String!, $value: String!) {
		change_simple_column_value(board_id: $boardId, item_id: $itemId, column_id: $columnId, value: $value) { id } }`
	vars := map[string]any{
		"boardId":  externalProjectID,
		"itemId":   externalID,
		"columnId": statusCol.ID,
		"value":    label,
	}
	if err := a.query(ctx, doc, vars, nil); err != nil {
		return false, err
	}
	return true, nil
}

// --- column resolution ---

func (a *Adapter) columns(ctx context.Context, boardID string) ([]mondayColumn, error) {
	if cols, ok := a.columnCache[boardID]; ok {
		return cols, nil
	}

	var out struct {
		Boards []struct {
			Columns []mondayColumn `json:"columns"`
		} `json:"boards"`
	}
	doc := `query Columns($ids: [ID!]) { boards(ids: $ids) { columns { id title type settings_str } } }`
	if err := a.query(ctx, doc, map[string]any{"ids": []string{boardID}}, &out); err != nil {
		return nil, err
	}
	if len(out.Boards) == 0 {
		return nil, fmt.Errorf("monday: board %s not found", boardID)
	}
	a.columnCache[boardID] = out.Boards[0].Columns
	return out.Boards[0].Columns, nil
}

// findStatusColumn returns the first status-typed column that is not the
// priority column. Boards created from monday templates call it "Status".
func findStatusColumn(cols []mondayColumn) *mondayColumn {
	for i := range cols {
		if cols[i].Type == "status" && !strings.EqualFold(cols[i].Title, "priority") {
			return &cols[i]
		}
	}
	return nil
}

func findColumn(cols []mondayColumn, typ, title string) *mondayColumn {
	for i := range cols {
		if cols[i].Type == typ && (title == "" || strings.EqualFold(cols[i].Title, title)) {
			return &cols[i]
		}
	}
	return nil
}

// pickLabel returns the first candidate label the column actually defines.
func pickLabel(col *mondayColumn, candidates []string) (string, bool) {
	var settings struct {
		Labels map[string]string `json:"labels"`
	}
	if err := json.Unmarshal([]byte(col.SettingsStr), &settings); err != nil {
		return "", false
	}
	for _, want := range candidates {
		for _, label := range settings.Labels {
			if strings.EqualFold(label, want) {
				return label, true
			}
		}
	}
	return "", false
}

// buildColumnValues translates the writable unified fields onto the board's
// column layout. Columns the board does not have are skipped silently.
func (a *Adapter) buildColumnValues(ctx context.Context, t *unified.Task) (map[string]any, error) {
	cols, err := a.columns(ctx, t.ProjectExternalID)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any)
	if statusCol := findStatusColumn(cols); statusCol != nil {
		if label, ok := pickLabel(statusCol, statusLabelSynonyms[t.Status]); ok {
			values[statusCol.ID] = map[string]any{"label": label}
		}
	}
	if notesCol := findColumn(cols, "long_text", ""); notesCol != nil && t.Description != "" {
		values[notesCol.ID] = map[string]any{"text": t.Description}
	}
	if dateCol := findColumn(cols, "date", ""); dateCol != nil && t.DueDate != nil {
		values[dateCol.ID] = map[string]any{"date": t.DueDate.Format("2006-01-02")}
	}
	return values, nil
}

// --- translation ---

func boardToUnified(b *mondayBoard) unified.Project {
	u := unified.Project{
		ExternalID:  b.ID,
		Name:        b.Name,
		Description: b.Description,
		Status:      unified.ProjectStatusOrDefault(boardStateToStatus, b.State),
		URL:         b.URL,
		RawData:     map[string]any{"state": b.State},
	}
	u.RemoteUpdatedAt = parseTime(b.UpdatedAt)
	return u
}

func itemToUnified(item *mondayItem, projectExternalID string) unified.Task {
	u := unified.Task{
		ExternalID:        item.ID,
		ProjectExternalID: projectExternalID,
		Title:             item.Name,
		Status:            unified.TaskTodo,
		Priority:          unified.PriorityMedium,
		URL:               item.URL,
		RawData:           map[string]any{"state": item.State},
	}
	for _, cv := range item.ColumnValues {
		switch cv.Type {
		case "status":
			key := strings.ToLower(cv.Text)
			if p, ok := labelToPriority[key]; ok {
				u.Priority = p
				u.RawData["priority_label"] = cv.Text
				continue
			}
			u.Status = unified.TaskStatusOrDefault(labelToStatus, key)
			u.RawData["status_label"] = cv.Text
		case "long_text", "text":
			if u.Description == "" {
				u.Description = cv.Text
			}
		case "date":
			if t, err := time.Parse("2006-01-02", cv.Text); err == nil {
				u.DueDate = &t
			}
		case "people":
			u.Assignee = cv.Text
		}
	}
	u.RemoteUpdatedAt = parseTime(item.UpdatedAt)
	return u
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
