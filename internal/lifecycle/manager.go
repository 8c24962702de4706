// Package lifecycle closes long-lived resources at shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Manager closes registered resources in reverse registration order, so a
// repository is closed before the shared pool it was built on.
type Manager struct {
	mu        sync.Mutex
	log       zerolog.Logger
	resources []resource
	closed    bool
}

type resource struct {
	name   string
	closer io.Closer
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log}
}

// Register adds a resource. Nil closers are ignored.
func (m *Manager) Register(name string, closer io.Closer) {
	if closer == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, resource{name: name, closer: closer})
}

// RegisterFunc registers a cleanup function.
func (m *Manager) RegisterFunc(name string, fn func() error) {
	m.Register(name, closerFunc(fn))
}

// Close closes every resource once, even when some fail, and joins the errors.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for i := len(m.resources) - 1; i >= 0; i-- {
		res := m.resources[i]
		if err := res.closer.Close(); err != nil {
			m.log.Error().Err(err).Str("resource", res.name).Msg("lifecycle.close_failed")
			errs = append(errs, fmt.Errorf("%s: %w", res.name, err))
			continue
		}
		m.log.Debug().Str("resource", res.name).Msg("lifecycle.closed")
	}
	return errors.Join(errs...)
}

// Shutdown runs Close but gives up waiting when ctx ends. Resources still
// closing at that point finish in the background.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- m.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("lifecycle: shutdown interrupted: %w", ctx.Err())
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
