// Package fleet tracks the supervisors owned by one daemon. Replica-count
// scheduling is an extension point: the manager records a desired count but
// nothing acts on it yet; containers only start on explicit requests.
package fleet

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sandboxkit/warden/internal/runtime"
	"github.com/sandboxkit/warden/internal/store"
	"github.com/sandboxkit/warden/internal/supervisor"
)

// ErrNotFound is returned for operations on an unknown container identity.
var ErrNotFound = errors.New("container not found")

// RuntimeFactory builds the runtime handle for a container identity.
type RuntimeFactory func(containerID string) (runtime.Handle, error)

// Options configures a manager.
type Options struct {
	DB           store.DB
	Runtime      RuntimeFactory
	ProbePort    int
	ProbePath    string
	TickInterval time.Duration
	Logger       zerolog.Logger
	Metrics      supervisor.Recorder
}

// Manager owns one supervisor per container identity.
type Manager struct {
	opts Options

	mu          sync.Mutex
	supervisors map[string]*supervisor.Supervisor
	desired     int
}

// NewManager creates an empty manager.
func NewManager(opts Options) *Manager {
	return &Manager{
		opts:        opts,
		supervisors: make(map[string]*supervisor.Supervisor),
	}
}

// Ensure returns the supervisor for id, creating it on first use. Creation
// arms the health-check loop immediately.
func (m *Manager) Ensure(id string) (*supervisor.Supervisor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sup, ok := m.supervisors[id]; ok {
		return sup, nil
	}

	handle, err := m.opts.Runtime(id)
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(supervisor.Options{
		ID:           id,
		Store:        m.opts.DB.Scope(id),
		Runtime:      handle,
		ProbePort:    m.opts.ProbePort,
		ProbePath:    m.opts.ProbePath,
		TickInterval: m.opts.TickInterval,
		Logger:       m.opts.Logger,
		Metrics:      m.opts.Metrics,
	})
	m.supervisors[id] = sup
	return sup, nil
}

// Get returns the supervisor for id if one exists.
func (m *Manager) Get(id string) (*supervisor.Supervisor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sup, ok := m.supervisors[id]
	return sup, ok
}

// Destroy tears down the supervisor for id and forgets it. The underlying
// Destroy always reports termination; only an unknown id is a plain error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	sup, ok := m.supervisors[id]
	delete(m.supervisors, id)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	return sup.Destroy(ctx)
}

// List returns the known container identities, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.supervisors))
	for id := range m.supervisors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetDesired records the requested replica count. No scheduling follows
// from it in this revision.
func (m *Manager) SetDesired(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.desired = n
}

// Desired returns the recorded replica count.
func (m *Manager) Desired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desired
}

// AggregateHealth reports the persisted state of every known supervisor.
func (m *Manager) AggregateHealth(ctx context.Context) (map[string]supervisor.State, error) {
	m.mu.Lock()
	sups := make([]*supervisor.Supervisor, 0, len(m.supervisors))
	for _, sup := range m.supervisors {
		sups = append(sups, sup)
	}
	m.mu.Unlock()

	health := make(map[string]supervisor.State, len(sups))
	for _, sup := range sups {
		state, err := sup.CurrentState(ctx)
		if err != nil {
			if errors.Is(err, supervisor.ErrDestroyed) {
				continue
			}
			return nil, err
		}
		health[sup.ID()] = state
	}
	return health, nil
}
