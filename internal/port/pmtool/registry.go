package pmtool

import (
	"fmt"
	"sync"

	"github.com/magnus-suite/magnus-sync/internal/domain"
	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
)

// Factory is a constructor that builds an Adapter from a connection's
// configuration. It validates credentials and returns
// domain.ErrMissingCredentials when required keys are absent.
type Factory func(conn *connection.Connection) (Adapter, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a tool adapter factory available by name. It is typically
// called from an init() function in the adapter package.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("pmtool: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New creates an Adapter for the connection's tool using the registered
// factory. An unknown tool name is an adapter-construction error, fatal to
// the whole sync invocation.
func New(conn *connection.Connection) (Adapter, error) {
	mu.RLock()
	factory, ok := factories[conn.ToolName]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("pmtool: %q: %w", conn.ToolName, domain.ErrUnknownTool)
	}
	return factory(conn)
}

// Available returns the names of all registered tool adapters.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
