package pmtool

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/magnus-suite/magnus-sync/internal/domain"
	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
)

type stubAdapter struct{ name string }

func (s *stubAdapter) Name() string                        { return s.name }
func (s *stubAdapter) Capabilities() Capabilities          { return Capabilities{} }
func (s *stubAdapter) TestConnection(context.Context) bool { return true }
func (s *stubAdapter) ListProjects(context.Context) ([]unified.Project, error) {
	return nil, nil
}
func (s *stubAdapter) GetProject(context.Context, string) (*unified.Project, error) {
	return nil, nil
}
func (s *stubAdapter) CreateProject(_ context.Context, p *unified.Project) (*unified.Project, error) {
	return p, nil
}
func (s *stubAdapter) UpdateProject(_ context.Context, p *unified.Project) (*unified.Project, error) {
	return p, nil
}
func (s *stubAdapter) ListTasks(context.Context, string) ([]unified.Task, error) {
	return nil, nil
}
func (s *stubAdapter) GetTask(context.Context, string, string) (*unified.Task, error) {
	return nil, nil
}
func (s *stubAdapter) CreateTask(_ context.Context, t *unified.Task) (*unified.Task, error) {
	return t, nil
}
func (s *stubAdapter) UpdateTask(_ context.Context, t *unified.Task) (*unified.Task, error) {
	return t, nil
}
func (s *stubAdapter) CompleteTask(context.Context, string, string) (bool, error) {
	return true, nil
}

func TestRegisterAndNew(t *testing.T) {
	Register("stubtool", func(conn *connection.Connection) (Adapter, error) {
		return &stubAdapter{name: "stubtool"}, nil
	})

	a, err := New(&connection.Connection{ToolName: "stubtool"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Name() != "stubtool" {
		t.Errorf("adapter name = %q", a.Name())
	}
	if !slices.Contains(Available(), "stubtool") {
		t.Errorf("Available() missing stubtool: %v", Available())
	}
}

func TestNewUnknownTool(t *testing.T) {
	_, err := New(&connection.Connection{ToolName: "no-such-tool"})
	if !errors.Is(err, domain.ErrUnknownTool) {
		t.Errorf("error = %v, want domain.ErrUnknownTool", err)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register("duptool", func(conn *connection.Connection) (Adapter, error) {
		return &stubAdapter{name: "duptool"}, nil
	})
	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	Register("duptool", func(conn *connection.Connection) (Adapter, error) {
		return &stubAdapter{name: "duptool"}, nil
	})
}
