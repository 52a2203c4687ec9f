// Package supervisor owns the lifecycle of a single externally-managed
// container: starting it, probing its health on a timer, reconciling the
// observed liveness into a small persisted state machine, and reacting to
// process exit. Every transition is derivable from persisted state plus the
// next observed event, so a freshly restarted supervisor picks up where the
// previous one left off.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sandboxkit/warden/internal/runtime"
	"github.com/sandboxkit/warden/internal/store"
)

// ErrDestroyed signals that the supervisor has been torn down. Destroy
// returns it even when cleanup succeeds, so a caller can never mistake
// destruction for a resumable operation.
var ErrDestroyed = errors.New("supervisor destroyed")

// DefaultTickInterval is the re-arm delay between health checks.
const DefaultTickInterval = 500 * time.Millisecond

// Recorder receives supervisor events for metrics export.
type Recorder interface {
	RecordTick(containerID string)
	RecordProbe(containerID, outcome string)
	RecordState(containerID, state string)
}

type prober interface {
	Probe(ctx context.Context) ProbeResult
}

// Options configures a supervisor instance.
type Options struct {
	ID           string
	Store        store.StateStore
	Runtime      runtime.Handle
	ProbePort    int           // default 8000
	ProbePath    string        // default /health
	TickInterval time.Duration // default DefaultTickInterval
	Logger       zerolog.Logger
	Metrics      Recorder // optional
}

// Supervisor is the orchestrator for one supervised container. All
// state-mutating paths (Start, tick, monitor completion, Destroy) run under
// one per-instance mutex, so no reader ever sees a half-completed
// transition.
type Supervisor struct {
	id       string
	store    store.StateStore
	rt       runtime.Handle
	prober   prober
	log      zerolog.Logger
	rec      Recorder
	interval time.Duration

	mu         sync.Mutex // serializes Start, tick, monitor completion, Destroy
	alarm      *alarm
	monitorGen int  // generation of the most recently attached monitor
	monitoring bool // a monitor for the current generation is attached
	destroyed  bool
}

// New creates a supervisor and arms its first tick. The health-check loop is
// live from construction on: a pending alarm always exists until Destroy.
func New(opts Options) *Supervisor {
	if opts.ProbePort == 0 {
		opts.ProbePort = 8000
	}
	if opts.ProbePath == "" {
		opts.ProbePath = "/health"
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = noopRecorder{}
	}

	s := &Supervisor{
		id:       opts.ID,
		store:    opts.Store,
		rt:       opts.Runtime,
		prober:   NewProber(opts.Runtime, opts.ProbePort, opts.ProbePath),
		log:      opts.Logger.With().Str("container", opts.ID).Logger(),
		rec:      opts.Metrics,
		interval: opts.TickInterval,
	}
	s.alarm = newAlarm(s.onAlarm)
	s.alarm.Schedule(s.interval)
	return s
}

// ID returns the supervised container's identity.
func (s *Supervisor) ID() string {
	return s.id
}

// CurrentState reads the persisted state. An absent value reads as starting.
func (s *Supervisor) CurrentState(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return "", ErrDestroyed
	}
	return s.stateLocked(ctx)
}

// Start launches the container. Calling Start while the runtime is already
// running is idempotent: no new launch happens, and a monitor is attached
// only if none is currently tracked. Start may overwrite failed or stopped
// with starting; it is the only way out of failed.
func (s *Supervisor) Start(ctx context.Context, opts runtime.StartOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}

	running, err := s.rt.Running(ctx)
	if err != nil {
		return fmt.Errorf("failed to query runtime: %w", err)
	}
	if running {
		if !s.monitoring {
			if err := s.attachMonitorLocked(ctx); err != nil {
				return err
			}
		}
		s.log.Debug().Msg("start: container already running")
		return nil
	}

	if err := s.setStateLocked(ctx, StateStarting); err != nil {
		return err
	}
	if err := s.rt.Start(ctx, opts); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	if err := s.attachMonitorLocked(ctx); err != nil {
		return err
	}
	s.log.Info().Str("image", opts.Image).Msg("container started")
	return nil
}

// Destroy irrecoverably tears the instance down: persisted state first, then
// the pending alarm, then the runtime, in that order, so state is wiped even
// when a later step fails. It always returns ErrDestroyed (possibly wrapped
// with cleanup failures); the instance must not be used afterward.
func (s *Supervisor) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	s.destroyed = true

	var cleanupErrs []error
	if err := s.store.DeleteAll(ctx); err != nil {
		cleanupErrs = append(cleanupErrs, fmt.Errorf("failed to delete persisted state: %w", err))
	}
	s.alarm.Cancel()
	if err := s.rt.Destroy(ctx); err != nil {
		cleanupErrs = append(cleanupErrs, fmt.Errorf("failed to destroy runtime: %w", err))
	}

	s.log.Info().Msg("supervisor destroyed")
	if len(cleanupErrs) > 0 {
		return fmt.Errorf("%w: %w", ErrDestroyed, errors.Join(cleanupErrs...))
	}
	return ErrDestroyed
}

// onAlarm is the timer entry point.
func (s *Supervisor) onAlarm() {
	s.tick(context.Background())
}

// tick runs one health check and applies the transition table. It always
// re-arms the alarm on exit, regardless of what the probe or the store did.
func (s *Supervisor) tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	defer s.alarm.Schedule(s.interval)

	s.rec.RecordTick(s.id)

	current, err := s.stateLocked(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("tick: failed to read state")
		return
	}

	result := s.prober.Probe(ctx)
	s.rec.RecordProbe(s.id, result.Outcome.String())

	next := transitionForProbe(current, result)
	switch result.Outcome {
	case ProbeOK:
		s.log.Debug().Int("status", result.StatusCode).Msg("probe ok")
	case ProbeHTTPError:
		s.log.Warn().Int("status", result.StatusCode).Msg("probe got non-2xx response")
	case ProbeError:
		if next == StateFailed {
			s.log.Error().Err(result.Err).Msg("probe failed")
		} else {
			s.log.Debug().Err(result.Err).Msg("probe error tolerated during startup")
		}
	default:
		s.log.Debug().Str("outcome", result.Outcome.String()).Msg("container not up yet")
	}

	if err := s.setStateLocked(ctx, next); err != nil {
		s.log.Error().Err(err).Str("state", string(next)).Msg("tick: failed to persist state")
	}
}

// attachMonitorLocked starts a goroutine waiting for process exit. An older
// monitor is superseded, never cancelled: if it eventually settles, its
// handler still runs against whatever the persisted state is by then.
func (s *Supervisor) attachMonitorLocked(ctx context.Context) error {
	ch, err := s.rt.Monitor(ctx)
	if err != nil {
		return fmt.Errorf("failed to attach monitor: %w", err)
	}
	s.monitorGen++
	s.monitoring = true
	gen := s.monitorGen
	go s.watchMonitor(gen, ch)
	return nil
}

// watchMonitor handles monitor completion inside the critical section.
func (s *Supervisor) watchMonitor(gen int, ch <-chan error) {
	exitErr := <-ch

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.monitorGen {
		s.monitoring = false
	}
	if s.destroyed {
		return
	}

	ctx := context.Background()
	current, err := s.stateLocked(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("monitor: failed to read state")
		return
	}

	if exitErr != nil {
		// A crash is fatal regardless of prior state.
		s.log.Error().Err(exitErr).Str("prior", string(current)).Msg("container crashed")
		if err := s.setStateLocked(ctx, StateFailed); err != nil {
			s.log.Error().Err(err).Msg("monitor: failed to persist failed state")
		}
		return
	}

	next, ok := transitionForExit(current)
	if !ok {
		switch current {
		case StateStarting:
			s.log.Warn().Msg("container exited before first successful probe")
		case StateFailed:
			s.log.Warn().Msg("monitor resolved cleanly while failed; leaving state as is")
		}
		return
	}

	s.log.Info().Str("prior", string(current)).Msg("container exited cleanly")
	if err := s.setStateLocked(ctx, next); err != nil {
		s.log.Error().Err(err).Msg("monitor: failed to persist stopped state")
	}
}

// stateLocked reads the persisted state; the caller holds the mutex.
func (s *Supervisor) stateLocked(ctx context.Context) (State, error) {
	value, ok, err := s.store.Get(ctx, StateKey)
	if err != nil {
		return "", err
	}
	if !ok {
		return StateStarting, nil
	}
	return ParseState(value), nil
}

// setStateLocked persists a state; the caller holds the mutex.
func (s *Supervisor) setStateLocked(ctx context.Context, next State) error {
	if err := s.store.Put(ctx, StateKey, string(next)); err != nil {
		return err
	}
	s.rec.RecordState(s.id, string(next))
	return nil
}

type noopRecorder struct{}

func (noopRecorder) RecordTick(string)      {}
func (noopRecorder) RecordProbe(_, _ string) {}
func (noopRecorder) RecordState(_, _ string) {}
