// Package operations tracks cancellable long-running requests by
// client-provided operation id.
package operations

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

type operation struct {
	cancel context.CancelFunc
}

// Manager maps active operation ids to cancellable contexts. Handlers
// register the X-Operation-Id header value for the lifetime of a
// request; the cancel endpoint fires the matching context and the
// pipeline races its I/O against ctx.Done().
type Manager struct {
	logger *logrus.Logger

	mu     sync.Mutex
	active map[string]*operation
}

// NewManager builds an empty operation registry.
func NewManager(logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		logger: logger,
		active: make(map[string]*operation),
	}
}

// Track derives a cancellable context registered under id and returns it
// with a release that must run when the operation ends. Re-tracking an
// id replaces the previous registration; a blank id returns the parent
// context untouched.
func (m *Manager) Track(parent context.Context, id string) (context.Context, func()) {
	if id == "" {
		return parent, func() {}
	}

	ctx, cancel := context.WithCancel(parent)
	op := &operation{cancel: cancel}

	m.mu.Lock()
	m.active[id] = op
	m.mu.Unlock()

	m.logger.WithField("operation_id", id).Debug("Operation registered")

	release := func() {
		m.mu.Lock()
		if m.active[id] == op {
			delete(m.active, id)
		}
		m.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// Cancel fires the context registered under id. Unknown or already
// released ids report false.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	op, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return false
	}

	op.cancel()
	m.logger.WithField("operation_id", id).Info("Operation cancelled")
	return true
}
