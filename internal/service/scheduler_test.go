package service_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	syncdom "github.com/magnus-suite/magnus-sync/internal/domain/sync"
	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
	"github.com/magnus-suite/magnus-sync/internal/service"
)

func TestSchedulerSyncsEnabledConnections(t *testing.T) {
	fs := newFakeStore()
	fa := newFakeAdapter()
	fa.projects["ext-1"] = &unified.Project{ExternalID: "ext-1", Name: "P"}
	addConnection(t, fs)
	eng := newTestEngine(t, fs, fa, nil)

	sched := service.NewScheduler(eng, 10*time.Millisecond, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	deadline := time.After(3 * time.Second)
	for {
		fs.mu.Lock()
		n := len(fs.projects)
		fs.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scheduler never pulled the external project")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Every completed run left a terminal sync log.
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, l := range fs.syncLogs {
		if l.Status == syncdom.StatusRunning && l.FinishedAt != nil {
			t.Errorf("finished log still marked running")
		}
	}
}

func TestSchedulerSkipsDisabledConnections(t *testing.T) {
	fs := newFakeStore()
	fa := newFakeAdapter()
	fa.projects["ext-1"] = &unified.Project{ExternalID: "ext-1", Name: "P"}
	conn := addConnection(t, fs)

	got, err := fs.GetConnection(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("get connection: %v", err)
	}
	got.SyncEnabled = false
	if err := fs.UpdateConnection(context.Background(), got); err != nil {
		t.Fatalf("disable connection: %v", err)
	}
	eng := newTestEngine(t, fs, fa, nil)

	sched := service.NewScheduler(eng, 10*time.Millisecond, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	time.Sleep(60 * time.Millisecond)
	cancel()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.syncLogs) != 0 {
		t.Errorf("disabled connection was synced %d times", len(fs.syncLogs))
	}
}
