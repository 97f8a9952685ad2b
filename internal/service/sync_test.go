package service_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/magnus-suite/magnus-sync/internal/config"
	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/domain/project"
	syncdom "github.com/magnus-suite/magnus-sync/internal/domain/sync"
	"github.com/magnus-suite/magnus-sync/internal/domain/task"
	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
	"github.com/magnus-suite/magnus-sync/internal/service"
)

func newTestEngine(t *testing.T, fs *fakeStore, fa *fakeAdapter, mutate func(*config.Config)) *service.Engine {
	t.Helper()
	setCurrentFake(fa)
	cfg := config.Defaults()
	if mutate != nil {
		mutate(&cfg)
	}
	return service.NewEngine(service.Deps{
		Store:  fs,
		Logger: slog.New(slog.DiscardHandler),
	}, cfg)
}

func addConnection(t *testing.T, fs *fakeStore) *connection.Connection {
	t.Helper()
	conn, err := fs.CreateConnection(context.Background(), connection.CreateRequest{
		ToolName:    "faketool",
		InstanceURL: "https://faketool.test",
		Credentials: map[string]string{"api_key": "k"},
		SyncEnabled: true,
	})
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return conn
}

func TestSyncProjectsPullCreatesCanonical(t *testing.T) {
	fs := newFakeStore()
	fa := newFakeAdapter()
	fa.projects["ext-1"] = &unified.Project{
		ExternalID:  "ext-1",
		Name:        "Website Relaunch",
		Description: "Q3 marketing site",
		Status:      unified.ProjectActive,
		URL:         "https://faketool.test/projects/ext-1",
	}
	conn := addConnection(t, fs)
	eng := newTestEngine(t, fs, fa, nil)

	res, err := eng.SyncProjects(context.Background(), conn.ID, syncdom.DirectionPull)
	if err != nil {
		t.Fatalf("SyncProjects: %v", err)
	}
	if res.Pulled != 1 || res.Created != 1 {
		t.Fatalf("got pulled=%d created=%d, want 1/1", res.Pulled, res.Created)
	}
	if len(fs.projects) != 1 {
		t.Fatalf("got %d canonical projects, want 1", len(fs.projects))
	}
	for _, p := range fs.projects {
		if p.Name != "Website Relaunch" {
			t.Errorf("project name = %q", p.Name)
		}
	}
	m, err := fs.FindProjectMapping(context.Background(), conn.ID, "ext-1")
	if err != nil || m == nil {
		t.Fatalf("mapping not created: %v", err)
	}
	want := (&unified.Project{Name: "Website Relaunch", Description: "Q3 marketing site"}).Fingerprint()
	if m.LastSyncHash != want {
		t.Errorf("mapping hash = %q, want fingerprint of pulled content", m.LastSyncHash)
	}
}

func TestSyncProjectsPullIdempotent(t *testing.T) {
	fs := newFakeStore()
	fa := newFakeAdapter()
	fa.projects["ext-1"] = &unified.Project{ExternalID: "ext-1", Name: "P", Description: "d"}
	conn := addConnection(t, fs)
	eng := newTestEngine(t, fs, fa, nil)

	ctx := context.Background()
	if _, err := eng.SyncProjects(ctx, conn.ID, syncdom.DirectionPull); err != nil {
		t.Fatalf("first pull: %v", err)
	}
	var before int
	for _, p := range fs.projects {
		before = p.Version
	}

	res, err := eng.SyncProjects(ctx, conn.ID, syncdom.DirectionPull)
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if res.Pulled != 0 || res.Updated != 0 {
		t.Errorf("unchanged external content still synced: %+v", res)
	}
	for _, p := range fs.projects {
		if p.Version != before {
			t.Errorf("project version bumped by no-op pull: %d -> %d", before, p.Version)
		}
	}
}

func TestSyncProjectsPushCreatesExternal(t *testing.T) {
	fs := newFakeStore()
	fa := newFakeAdapter()
	conn := addConnection(t, fs)
	eng := newTestEngine(t, fs, fa, nil)

	ctx := context.Background()
	if _, err := fs.CreateProject(ctx, project.CreateRequest{Name: "Local Only", Status: unified.ProjectActive}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	res, err := eng.SyncProjects(ctx, conn.ID, syncdom.DirectionPush)
	if err != nil {
		t.Fatalf("SyncProjects: %v", err)
	}
	if res.Pushed != 1 || res.Created != 1 {
		t.Fatalf("got pushed=%d created=%d, want 1/1", res.Pushed, res.Created)
	}
	if len(fa.createdProjects) != 1 || fa.createdProjects[0].Name != "Local Only" {
		t.Fatalf("external create not observed: %+v", fa.createdProjects)
	}
}

func TestSyncProjectsPushSkipsWhenNotCapable(t *testing.T) {
	fs := newFakeStore()
	fa := newFakeAdapter()
	fa.caps.CreateProject = false
	conn := addConnection(t, fs)
	eng := newTestEngine(t, fs, fa, nil)

	ctx := context.Background()
	if _, err := fs.CreateProject(ctx, project.CreateRequest{Name: "Local Only"}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	res, err := eng.SyncProjects(ctx, conn.ID, syncdom.DirectionPush)
	if err != nil {
		t.Fatalf("SyncProjects: %v", err)
	}
	if res.Pushed != 0 || len(res.Errors) != 0 {
		t.Errorf("incapable tool should be skipped silently, got %+v", res)
	}
	if len(fa.createdProjects) != 0 {
		t.Errorf("external create happened despite missing capability")
	}
}

func TestSyncProjectsPushTwiceCreatesOneExternal(t *testing.T) {
	fs := newFakeStore()
	fa := newFakeAdapter()
	conn := addConnection(t, fs)
	eng := newTestEngine(t, fs, fa, nil)

	ctx := context.Background()
	if _, err := fs.CreateProject(ctx, project.CreateRequest{Name: "Local Only", Status: unified.ProjectActive}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	if _, err := eng.SyncProjects(ctx, conn.ID, syncdom.DirectionPush); err != nil {
		t.Fatalf("first push: %v", err)
	}
	res, err := eng.SyncProjects(ctx, conn.ID, syncdom.DirectionPush)
	if err != nil {
		t.Fatalf("second push: %v", err)
	}
	if res.Pushed != 0 {
		t.Errorf("unchanged project pushed again: %+v", res)
	}
	if len(fa.createdProjects) != 1 {
		t.Errorf("got %d external creates, want 1", len(fa.createdProjects))
	}
	if len(fa.projects) != 1 {
		t.Errorf("got %d external projects, want 1", len(fa.projects))
	}
}

func TestSyncTasksPushContinuesPastEntityError(t *testing.T) {
	// One failing entity in a batch of three: the other two still land and
	// the run finishes partial with exactly one recorded error.
	fs := newFakeStore()
	fa := newFakeAdapter()
	conn := addConnection(t, fs)
	eng := newTestEngine(t, fs, fa, nil)
	ctx := context.Background()

	fa.projects["ext-1"] = &unified.Project{ExternalID: "ext-1", Name: "P"}
	if _, err := eng.SyncProjects(ctx, conn.ID, syncdom.DirectionPull); err != nil {
		t.Fatalf("seed projects: %v", err)
	}
	var projectID string
	for _, p := range fs.projects {
		projectID = p.ID
	}
	for _, title := range []string{"Task A", "Task B", "Task C"} {
		if _, err := fs.CreateTask(ctx, task.CreateRequest{ProjectID: projectID, Title: title, Status: unified.TaskTodo, Priority: unified.PriorityMedium}); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}
	fa.createTaskErr["Task B"] = errors.New("500 from tool")

	res, err := eng.SyncTasks(ctx, conn.ID, "", syncdom.DirectionPush)
	if err != nil {
		t.Fatalf("SyncTasks: %v", err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(res.Errors), res.Errors)
	}
	if res.Pushed != 2 || res.Created != 2 {
		t.Errorf("got pushed=%d created=%d, want 2/2", res.Pushed, res.Created)
	}
	if len(fa.createdTasks) != 2 {
		t.Errorf("got %d external creates, want 2", len(fa.createdTasks))
	}
	for _, l := range fs.syncLogs {
		if l.Direction != syncdom.DirectionPush {
			continue
		}
		if l.Status != syncdom.StatusPartial {
			t.Errorf("push log status = %s, want partial", l.Status)
		}
		if l.ItemsFailed != 1 {
			t.Errorf("push log items_failed = %d, want 1", l.ItemsFailed)
		}
	}
}

func TestSyncTasksPushCompletesDoneTasks(t *testing.T) {
	fs := newFakeStore()
	fa := newFakeAdapter()
	conn := addConnection(t, fs)
	eng := newTestEngine(t, fs, fa, nil)
	ctx := context.Background()

	fa.projects["ext-1"] = &unified.Project{ExternalID: "ext-1", Name: "P"}
	if _, err := eng.SyncProjects(ctx, conn.ID, syncdom.DirectionPull); err != nil {
		t.Fatalf("seed projects: %v", err)
	}
	var projectID string
	for _, p := range fs.projects {
		projectID = p.ID
	}
	if _, err := fs.CreateTask(ctx, task.CreateRequest{ProjectID: projectID, Title: "Finished work", Status: unified.TaskDone, Priority: unified.PriorityMedium}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	res, err := eng.SyncTasks(ctx, conn.ID, "", syncdom.DirectionPush)
	if err != nil {
		t.Fatalf("SyncTasks: %v", err)
	}
	if res.Pushed != 1 || len(res.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(fa.createdTasks) != 1 {
		t.Fatalf("external task not created")
	}
	want := fa.createdTasks[0].ExternalID
	if len(fa.completedTasks) != 1 || fa.completedTasks[0] != want {
		t.Errorf("completion call = %v, want [%s]", fa.completedTasks, want)
	}
}

func TestSyncTasksBulkIsLastPassWins(t *testing.T) {
	// Bulk sync never raises conflicts: a bidirectional pass pulls the remote
	// edit first, after which local content matches and push is a no-op.
	fs := newFakeStore()
	fa := newFakeAdapter()
	conn := addConnection(t, fs)
	eng := newTestEngine(t, fs, fa, nil)
	ctx := context.Background()

	fa.projects["ext-1"] = &unified.Project{ExternalID: "ext-1", Name: "P"}
	fa.tasks["task-1"] = &unified.Task{
		ExternalID:        "task-1",
		ProjectExternalID: "ext-1",
		Title:             "Remote title",
		Status:            unified.TaskInProgress,
		Priority:          unified.PriorityHigh,
	}
	if _, err := eng.SyncProjects(ctx, conn.ID, syncdom.DirectionPull); err != nil {
		t.Fatalf("seed projects: %v", err)
	}

	res, err := eng.SyncTasks(ctx, conn.ID, "", syncdom.DirectionBidi)
	if err != nil {
		t.Fatalf("SyncTasks: %v", err)
	}
	if res.Conflicts != 0 {
		t.Errorf("bulk sync raised %d conflicts", res.Conflicts)
	}
	if res.Pulled != 1 {
		t.Errorf("pulled = %d, want 1", res.Pulled)
	}
	if len(fs.conflicts) != 0 {
		t.Errorf("bulk sync persisted conflicts: %d", len(fs.conflicts))
	}
	for _, tk := range fs.tasks {
		if tk.Title != "Remote title" {
			t.Errorf("canonical task title = %q", tk.Title)
		}
	}
}

func TestSyncBulkPartialOnListError(t *testing.T) {
	fs := newFakeStore()
	fa := newFakeAdapter()
	fa.listErr = errors.New("503 from tool")
	conn := addConnection(t, fs)
	eng := newTestEngine(t, fs, fa, nil)

	res, err := eng.SyncProjects(context.Background(), conn.ID, syncdom.DirectionPull)
	if err != nil {
		t.Fatalf("SyncProjects: %v", err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("got %d errors, want 1", len(res.Errors))
	}
	if len(fs.syncLogs) != 1 {
		t.Fatalf("got %d sync logs, want 1", len(fs.syncLogs))
	}
	for _, l := range fs.syncLogs {
		if l.Status != syncdom.StatusPartial {
			t.Errorf("log status = %s, want partial", l.Status)
		}
		if l.FinishedAt == nil {
			t.Errorf("log never finished")
		}
	}
	got, _ := fs.GetConnection(context.Background(), conn.ID)
	if got.LastSyncStatus != string(syncdom.StatusPartial) {
		t.Errorf("connection sync state = %q", got.LastSyncStatus)
	}
}

func TestSyncBulkFailsOnUnknownTool(t *testing.T) {
	fs := newFakeStore()
	conn, err := fs.CreateConnection(context.Background(), connection.CreateRequest{
		ToolName: "sometool-nobody-registered",
	})
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	eng := newTestEngine(t, fs, newFakeAdapter(), nil)

	if _, err := eng.SyncProjects(context.Background(), conn.ID, syncdom.DirectionPull); err == nil {
		t.Fatal("expected adapter construction error")
	}
	if len(fs.syncLogs) != 1 {
		t.Fatalf("got %d sync logs, want 1", len(fs.syncLogs))
	}
	for _, l := range fs.syncLogs {
		if l.Status != syncdom.StatusFailed {
			t.Errorf("log status = %s, want failed", l.Status)
		}
	}
}

func TestSyncRejectsBadDirection(t *testing.T) {
	fs := newFakeStore()
	conn := addConnection(t, fs)
	eng := newTestEngine(t, fs, newFakeAdapter(), nil)

	if _, err := eng.SyncProjects(context.Background(), conn.ID, "sideways"); err == nil {
		t.Fatal("expected invalid direction error")
	}
	if len(fs.syncLogs) != 0 {
		t.Errorf("invalid direction still wrote a sync log")
	}
}

func TestSyncTasksScopedToProjectMapping(t *testing.T) {
	fs := newFakeStore()
	fa := newFakeAdapter()
	conn := addConnection(t, fs)
	eng := newTestEngine(t, fs, fa, nil)
	ctx := context.Background()

	fa.projects["ext-1"] = &unified.Project{ExternalID: "ext-1", Name: "A"}
	fa.projects["ext-2"] = &unified.Project{ExternalID: "ext-2", Name: "B"}
	fa.tasks["t1"] = &unified.Task{ExternalID: "t1", ProjectExternalID: "ext-1", Title: "in A"}
	fa.tasks["t2"] = &unified.Task{ExternalID: "t2", ProjectExternalID: "ext-2", Title: "in B"}
	if _, err := eng.SyncProjects(ctx, conn.ID, syncdom.DirectionPull); err != nil {
		t.Fatalf("seed projects: %v", err)
	}
	pm, err := fs.FindProjectMapping(ctx, conn.ID, "ext-1")
	if err != nil || pm == nil {
		t.Fatalf("mapping for ext-1 missing")
	}

	res, err := eng.SyncTasks(ctx, conn.ID, pm.ID, syncdom.DirectionPull)
	if err != nil {
		t.Fatalf("SyncTasks: %v", err)
	}
	if res.Pulled != 1 {
		t.Fatalf("pulled = %d, want only the scoped project's task", res.Pulled)
	}
	for _, tk := range fs.tasks {
		if tk.Title == "in B" {
			t.Errorf("task outside the scoped project was pulled")
		}
	}
}

func TestFingerprintStableAcrossSides(t *testing.T) {
	tk := &task.Task{Title: "T", Description: "D", Status: unified.TaskTodo, Priority: unified.PriorityMedium}
	u := &unified.Task{Title: "T", Description: "D", Status: unified.TaskTodo, Priority: unified.PriorityMedium}
	if tk.Fingerprint() != u.Fingerprint() {
		t.Error("canonical and unified fingerprints of identical content differ")
	}
}
