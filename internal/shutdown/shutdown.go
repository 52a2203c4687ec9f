// Package shutdown coordinates graceful daemon teardown.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Manager runs registered shutdown functions in reverse order once a
// termination signal arrives.
type Manager struct {
	mu      sync.Mutex
	funcs   []func(context.Context) error
	timeout time.Duration
	log     zerolog.Logger
}

// New creates a shutdown manager with the given per-shutdown timeout.
func New(timeout time.Duration, log zerolog.Logger) *Manager {
	return &Manager{timeout: timeout, log: log}
}

// Register adds a shutdown function. Functions run LIFO, so dependencies
// registered first are torn down last.
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, fn)
}

// Wait blocks until SIGTERM or SIGINT, then runs every registered function.
func (m *Manager) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	m.log.Info().Str("signal", sig.String()).Msg("shutting down")
	m.Shutdown()
}

// Shutdown runs the registered functions in reverse order under the
// configured timeout.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for i := len(m.funcs) - 1; i >= 0; i-- {
		if err := m.funcs[i](ctx); err != nil {
			m.log.Error().Err(err).Int("index", i).Msg("shutdown step failed")
		}
	}
	m.log.Info().Msg("shutdown complete")
}
