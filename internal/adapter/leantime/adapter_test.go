package leantime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
		Credentials: map[string]string{"api_key": "lt_secret"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return a
}

func rpcHandler(t *testing.T, results map[string]string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "lt_secret" {
			t.Errorf("unexpected api key header %q", got)
		}
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}
		result, ok := results[req.Method]
		if !ok {
			t.Errorf("unexpected rpc method %q", req.Method)
			result = "null"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	})
}

func TestNewRequiresCredentialsAndURL(t *testing.T) {
	if _, err := New(&connection.Connection{ToolName: toolName, InstanceURL: "https://pm.example.com"}); err == nil {
		t.Fatal("expected error for missing api_key")
	}
	if _, err := New(&connection.Connection{ToolName: toolName, Credentials: map[string]string{"api_key": "k"}}); err == nil {
		t.Fatal("expected error for missing instance url")
	}
}

func TestListTasksMapsStatusCodes(t *testing.T) {
	a := newTestAdapter(t, rpcHandler(t, map[string]string{
		"leantime.rpc.tickets.getAll": `[
			{"id":1,"headline":"Ship it","status":4,"priority":"2","planHours":3.5},
			{"id":"2","headline":"Finished","status":"0"},
			{"id":3,"headline":"Weird","status":99}
		]`,
	}))

	tasks, err := a.ListTasks(context.Background(), "7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	if tasks[0].Status != unified.TaskInProgress {
		t.Fatalf("expected in_progress for code 4, got %q", tasks[0].Status)
	}
	if tasks[0].Priority != unified.PriorityHigh {
		t.Fatalf("expected high for code 2, got %q", tasks[0].Priority)
	}
	if tasks[0].EstimatedHours != 3.5 {
		t.Fatalf("expected plan hours, got %v", tasks[0].EstimatedHours)
	}
	if tasks[1].Status != unified.TaskDone {
		t.Fatalf("expected done for code 0, got %q", tasks[1].Status)
	}
	if tasks[2].Status != unified.TaskTodo {
		t.Fatalf("expected todo fallback for unknown code, got %q", tasks[2].Status)
	}
}

func TestListTasksRejectsNonNumericProject(t *testing.T) {
	a := newTestAdapter(t, rpcHandler(t, nil))
	if _, err := a.ListTasks(context.Background(), "not-a-number"); err == nil {
		t.Fatal("expected error for non-numeric project id")
	}
}

func TestGetTaskFalseResultMeansNotFound(t *testing.T) {
	a := newTestAdapter(t, rpcHandler(t, map[string]string{
		"leantime.rpc.tickets.getTicket": `false`,
	}))

	task, err := a.GetTask(context.Background(), "7", "42")
	if err != nil {
		t.Fatalf("expected not-found sentinel, got error: %v", err)
	}
	if task != nil {
		t.Fatal("expected nil task for false result")
	}
}

func TestCompleteTaskPatchesDoneCode(t *testing.T) {
	var patchedStatus float64 = -100
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "leantime.rpc.tickets.getTicket":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"id":42,"headline":"Ship it","status":4}}`))
		case "leantime.rpc.tickets.patchTicket":
			params, _ := req.Params.(map[string]any)
			inner, _ := params["params"].(map[string]any)
			patchedStatus, _ = inner["status"].(float64)
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":true}`))
		default:
			t.Errorf("unexpected rpc method %q", req.Method)
		}
	}))

	ok, err := a.CompleteTask(context.Background(), "7", "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected completion")
	}
	if patchedStatus != 0 {
		t.Fatalf("expected status code 0, got %v", patchedStatus)
	}
}

func TestCompleteTaskMissingTicket(t *testing.T) {
	a := newTestAdapter(t, rpcHandler(t, map[string]string{
		"leantime.rpc.tickets.getTicket": `false`,
	}))

	ok, err := a.CompleteTask(context.Background(), "7", "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected false for missing ticket")
	}
}

func TestCreateTaskFetchesCreatedTicket(t *testing.T) {
	a := newTestAdapter(t, rpcHandler(t, map[string]string{
		"leantime.rpc.tickets.addTicket": `"55"`,
		"leantime.rpc.tickets.getTicket": `{"id":55,"headline":"New ticket","status":3,"projectId":7}`,
	}))

	created, err := a.CreateTask(context.Background(), &unified.Task{
		ProjectExternalID: "7",
		Title:             "New ticket",
		Status:            unified.TaskTodo,
		Priority:          unified.PriorityMedium,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ExternalID != "55" {
		t.Fatalf("expected external id 55, got %q", created.ExternalID)
	}
	if created.ProjectExternalID != "7" {
		t.Fatalf("expected project id backfill, got %q", created.ProjectExternalID)
	}
}

func TestRPCErrorSurfaces(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`))
	}))

	if _, err := a.ListProjects(context.Background()); err == nil {
		t.Fatal("expected rpc error to surface")
	}
}
