// Package recovery runs the startup steps that repair state left behind by a
// previous process: outbox messages stuck in sending, conversations that went
// stale while the service was down.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Recoverable restores one component at startup.
type Recoverable interface {
	RecoverState(ctx context.Context) error
}

// RecoverFunc adapts a function to Recoverable.
type RecoverFunc func(ctx context.Context) error

func (f RecoverFunc) RecoverState(ctx context.Context) error {
	return f(ctx)
}

type component struct {
	name string
	r    Recoverable
}

// Manager runs registered components in registration order.
type Manager struct {
	components []component
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a component under name.
func (m *Manager) Register(name string, r Recoverable) {
	m.components = append(m.components, component{name: name, r: r})
}

// Len returns the number of registered components.
func (m *Manager) Len() int {
	return len(m.components)
}

// RecoverAll runs every component. A failure is logged and does not stop the
// others; the returned error counts them.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Manager.RecoverAll: starting recovery", "components", len(m.components))
	failed := 0
	for _, c := range m.components {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.r.RecoverState(ctx); err != nil {
			slog.Error("Manager.RecoverAll: component recovery failed", "component", c.name, "error", err)
			failed++
			continue
		}
		slog.Debug("Manager.RecoverAll: component recovered", "component", c.name)
	}
	slog.Info("Manager.RecoverAll: recovery completed", "recovered", len(m.components)-failed, "errors", failed)
	if failed > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", failed, len(m.components))
	}
	return nil
}
