package asana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
	"github.com/magnus-suite/magnus-sync/internal/port/pmtool"
)

var _ pmtool.Adapter = (*Adapter)(nil)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := New(&connection.Connection{
		ToolName:    toolName,
		InstanceURL: srv.URL,
		WorkspaceID: "ws-1",
		Credentials: map[string]string{"access_token": "tok"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return a
}

func TestNewRequiresAccessToken(t *testing.T) {
	_, err := New(&connection.Connection{ToolName: toolName})
	if err == nil {
		t.Fatal("expected error for missing access_token")
	}
}

func TestListTasksMapsCompletedFlag(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/projects/p1/tasks") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"gid":"t1","name":"Open one","completed":false},
			{"gid":"t2","name":"Closed one","completed":true,"assignee":{"name":"Pat"}}
		]}`))
	}))

	tasks, err := a.ListTasks(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Status != unified.TaskTodo {
		t.Fatalf("expected todo, got %q", tasks[0].Status)
	}
	if tasks[1].Status != unified.TaskDone {
		t.Fatalf("expected done, got %q", tasks[1].Status)
	}
	if tasks[1].Assignee != "Pat" {
		t.Fatalf("expected assignee, got %q", tasks[1].Assignee)
	}
	if tasks[0].ProjectExternalID != "p1" {
		t.Fatalf("expected project id backfill, got %q", tasks[0].ProjectExternalID)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	task, err := a.GetTask(context.Background(), "p1", "gone")
	if err != nil {
		t.Fatalf("expected not-found sentinel, got error: %v", err)
	}
	if task != nil {
		t.Fatal("expected nil task on 404")
	}
}

func TestCreateTaskUsesConfiguredWorkspace(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/workspaces" {
			t.Error("workspace should not be resolved when configured")
		}
		var body struct {
			Data map[string]any `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Data["workspace"] != "ws-1" {
			t.Errorf("expected workspace ws-1, got %v", body.Data["workspace"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"gid":"t9","name":"New task","permalink_url":"https://app.asana.com/0/p1/t9"}}`))
	}))

	created, err := a.CreateTask(context.Background(), &unified.Task{ProjectExternalID: "p1", Title: "New task"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ExternalID != "t9" {
		t.Fatalf("expected t9, got %q", created.ExternalID)
	}
	if created.URL == "" {
		t.Fatal("expected permalink url")
	}
}

func TestResolveWorkspaceFallsBackToFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/workspaces" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"gid":"ws-auto"}]}`))
	}))
	t.Cleanup(srv.Close)

	a, err := New(&connection.Connection{
		ToolName:    toolName,
		InstanceURL: srv.URL,
		Credentials: map[string]string{"access_token": "tok"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ws, err := a.resolveWorkspaceID(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ws != "ws-auto" {
		t.Fatalf("expected ws-auto, got %q", ws)
	}
}

func TestResolveWorkspaceFailsWithoutAny(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(srv.Close)

	a, err := New(&connection.Connection{
		ToolName:    toolName,
		InstanceURL: srv.URL,
		Credentials: map[string]string{"access_token": "tok"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := a.resolveWorkspaceID(context.Background()); err == nil {
		t.Fatal("expected error when the account has no workspaces")
	}
}

func TestCompleteTaskSetsCompletedFlag(t *testing.T) {
	var sawCompleted bool
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		var body struct {
			Data map[string]any `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		sawCompleted = body.Data["completed"] == true
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"gid":"t1","completed":true}}`))
	}))

	ok, err := a.CompleteTask(context.Background(), "p1", "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || !sawCompleted {
		t.Fatalf("expected completed write, ok=%v sawCompleted=%v", ok, sawCompleted)
	}
}

func TestTestConnection(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"gid":"me"}}`))
	}))
	if !a.TestConnection(context.Background()) {
		t.Fatal("expected healthy connection")
	}

	denied := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	if denied.TestConnection(context.Background()) {
		t.Fatal("expected unauthorized connection to report false")
	}
}
