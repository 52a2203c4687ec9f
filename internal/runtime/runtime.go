// Package runtime abstracts the container runtime behind a small handle
// interface so the supervisor never talks to a concrete runtime directly.
// Transport-level failures are tagged with sentinel errors at this boundary;
// callers classify with errors.Is instead of matching error text.
package runtime

import (
	"context"
	"errors"
)

var (
	// ErrNoContainer means no container instance exists yet for this
	// identity: it was never started, or it has been removed.
	ErrNoContainer = errors.New("no container instance exists yet")

	// ErrNotListening means the container exists but its port is not
	// accepting connections yet.
	ErrNotListening = errors.New("container port is not accepting connections")
)

// StartOptions configures a container launch.
type StartOptions struct {
	Image         string            // image reference, required
	Env           map[string]string // environment passed to the process
	ContainerPort int               // port the process listens on inside the container
	HostPort      int               // host port to bind; 0 lets the runtime choose
	Network       string            // optional network to join
}

// Handle represents one externally-managed container. Exactly one supervisor
// owns a given handle at a time.
type Handle interface {
	// Running reports whether the container process is currently running.
	Running(ctx context.Context) (bool, error)

	// Start launches the container with the given options.
	Start(ctx context.Context, opts StartOptions) error

	// Monitor returns a channel that delivers exactly one value when the
	// process terminates: nil for a clean exit, an error for a crash or a
	// monitoring failure. The channel is never closed without a send.
	Monitor(ctx context.Context) (<-chan error, error)

	// Destroy tears the container down and releases its resources.
	Destroy(ctx context.Context) error

	// Endpoint resolves the host address ("host:port") reaching the given
	// container port. Returns ErrNoContainer when no instance exists.
	Endpoint(ctx context.Context, port int) (string, error)
}
