package supervisor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sandboxkit/warden/internal/runtime"
	"github.com/sandboxkit/warden/internal/store"
)

type fakeRuntime struct {
	mu           sync.Mutex
	running      bool
	startCalls   int
	monitorCalls int
	destroyCalls int
	destroyErr   error
	monitorCh    chan error
	endpoint     string
	endpointErr  error
}

func (f *fakeRuntime) Running(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

func (f *fakeRuntime) Start(_ context.Context, _ runtime.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	f.running = true
	return nil
}

func (f *fakeRuntime) Monitor(context.Context) (<-chan error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monitorCalls++
	f.monitorCh = make(chan error, 1)
	return f.monitorCh, nil
}

func (f *fakeRuntime) Destroy(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyCalls++
	return f.destroyErr
}

func (f *fakeRuntime) Endpoint(_ context.Context, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoint, f.endpointErr
}

func (f *fakeRuntime) lastMonitor() chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.monitorCh
}

func newTestSupervisor(t *testing.T, rt *fakeRuntime) (*Supervisor, store.StateStore) {
	t.Helper()
	st := store.NewMemoryDB().Scope("test-container")
	s := New(Options{
		ID:      "test-container",
		Store:   st,
		Runtime: rt,
		// Long enough that the background alarm never interferes;
		// tests drive ticks by hand.
		TickInterval: time.Hour,
		Logger:       zerolog.Nop(),
	})
	t.Cleanup(func() { s.alarm.Cancel() })
	return s, st
}

func putState(t *testing.T, st store.StateStore, state State) {
	t.Helper()
	if err := st.Put(context.Background(), StateKey, string(state)); err != nil {
		t.Fatalf("failed to seed state: %v", err)
	}
}

func waitForState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := s.CurrentState(context.Background())
		if err != nil {
			t.Fatalf("CurrentState failed: %v", err)
		}
		if got == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := s.CurrentState(context.Background())
	t.Fatalf("state = %s, want %s", got, want)
}

func TestFreshInstanceDefaultsToStarting(t *testing.T) {
	s, _ := newTestSupervisor(t, &fakeRuntime{})
	got, err := s.CurrentState(context.Background())
	if err != nil {
		t.Fatalf("CurrentState failed: %v", err)
	}
	if got != StateStarting {
		t.Errorf("state = %s, want starting", got)
	}
}

func TestAlarmAlwaysPending(t *testing.T) {
	rt := &fakeRuntime{endpointErr: runtime.ErrNoContainer}
	s, _ := newTestSupervisor(t, rt)

	if _, ok := s.alarm.Pending(); !ok {
		t.Fatal("no alarm pending after construction")
	}

	s.tick(context.Background())
	if _, ok := s.alarm.Pending(); !ok {
		t.Fatal("no alarm pending after tick")
	}
}

// A fresh instance whose process is not accepting connections yet stays in
// starting.
func TestTickNotListeningStaysStarting(t *testing.T) {
	rt := &fakeRuntime{endpointErr: runtime.ErrNotListening}
	s, _ := newTestSupervisor(t, rt)

	s.tick(context.Background())
	waitForState(t, s, StateStarting)
}

// A 2xx probe moves the container to running.
func TestTickHealthyBecomesRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	rt := &fakeRuntime{endpoint: srv.Listener.Addr().String()}
	s, _ := newTestSupervisor(t, rt)

	s.tick(context.Background())
	waitForState(t, s, StateRunning)
}

// A non-2xx probe while running degrades the container to unhealthy, and
// the response body is fully consumed.
func TestTickNon2xxBecomesUnhealthy(t *testing.T) {
	bodyRead := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
		bodyRead <- struct{}{}
	}))
	defer srv.Close()

	rt := &fakeRuntime{endpoint: srv.Listener.Addr().String()}
	s, st := newTestSupervisor(t, rt)
	putState(t, st, StateRunning)

	s.tick(context.Background())
	waitForState(t, s, StateUnhealthy)
	<-bodyRead
}

func TestTickGenericErrorGracePeriod(t *testing.T) {
	tests := []struct {
		name    string
		current State
		want    State
	}{
		{"starting tolerates generic error", StateStarting, StateStarting},
		{"running does not", StateRunning, StateFailed},
		{"unhealthy does not", StateUnhealthy, StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &fakeRuntime{endpointErr: errors.New("unexpected dial failure")}
			s, st := newTestSupervisor(t, rt)
			putState(t, st, tt.current)

			s.tick(context.Background())
			waitForState(t, s, tt.want)
		})
	}
}

func TestStartIdempotentWhileRunning(t *testing.T) {
	rt := &fakeRuntime{running: true}
	s, _ := newTestSupervisor(t, rt)

	if err := s.Start(context.Background(), runtime.StartOptions{Image: "app:latest"}); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := s.Start(context.Background(), runtime.StartOptions{Image: "app:latest"}); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	if rt.startCalls != 0 {
		t.Errorf("runtime started %d times, want 0 (already running)", rt.startCalls)
	}
	if rt.monitorCalls != 1 {
		t.Errorf("monitor attached %d times, want 1", rt.monitorCalls)
	}
}

func TestStartOverwritesFailed(t *testing.T) {
	rt := &fakeRuntime{}
	s, st := newTestSupervisor(t, rt)
	putState(t, st, StateFailed)

	if err := s.Start(context.Background(), runtime.StartOptions{Image: "app:latest"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForState(t, s, StateStarting)
	if rt.startCalls != 1 {
		t.Errorf("runtime started %d times, want 1", rt.startCalls)
	}
}

// A clean process exit while running lands in stopped.
func TestMonitorCleanExitBecomesStopped(t *testing.T) {
	rt := &fakeRuntime{}
	s, st := newTestSupervisor(t, rt)

	if err := s.Start(context.Background(), runtime.StartOptions{Image: "app:latest"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	putState(t, st, StateRunning)

	rt.lastMonitor() <- nil
	waitForState(t, s, StateStopped)
}

func TestMonitorCleanExitWhileUnhealthyBecomesStopped(t *testing.T) {
	rt := &fakeRuntime{}
	s, st := newTestSupervisor(t, rt)

	if err := s.Start(context.Background(), runtime.StartOptions{Image: "app:latest"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	putState(t, st, StateUnhealthy)

	rt.lastMonitor() <- nil
	waitForState(t, s, StateStopped)
}

func TestMonitorCleanExitWhileStartingLeavesState(t *testing.T) {
	rt := &fakeRuntime{}
	s, _ := newTestSupervisor(t, rt)

	if err := s.Start(context.Background(), runtime.StartOptions{Image: "app:latest"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The process exits before any probe succeeded; the tick loop will
	// re-derive the truth, so no transition happens here.
	rt.lastMonitor() <- nil
	time.Sleep(50 * time.Millisecond)
	waitForState(t, s, StateStarting)
}

// A crash is fatal from any prior state.
func TestMonitorCrashBecomesFailed(t *testing.T) {
	for _, prior := range []State{StateStarting, StateRunning, StateUnhealthy} {
		t.Run(string(prior), func(t *testing.T) {
			rt := &fakeRuntime{}
			s, st := newTestSupervisor(t, rt)

			if err := s.Start(context.Background(), runtime.StartOptions{Image: "app:latest"}); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			putState(t, st, prior)

			rt.lastMonitor() <- errors.New("exit status 137")
			waitForState(t, s, StateFailed)
		})
	}
}

func TestDestroyReturnsSentinelOnCleanRun(t *testing.T) {
	rt := &fakeRuntime{}
	s, st := newTestSupervisor(t, rt)
	putState(t, st, StateRunning)

	err := s.Destroy(context.Background())
	if !errors.Is(err, ErrDestroyed) {
		t.Fatalf("Destroy = %v, want ErrDestroyed", err)
	}

	if _, ok, _ := st.Get(context.Background(), StateKey); ok {
		t.Error("persisted state survived destroy")
	}
	if _, ok := s.alarm.Pending(); ok {
		t.Error("alarm still pending after destroy")
	}
	if rt.destroyCalls != 1 {
		t.Errorf("runtime destroy called %d times, want 1", rt.destroyCalls)
	}
}

// State and timer are wiped even when the runtime destroy fails.
func TestDestroyWipesStateWhenRuntimeDestroyFails(t *testing.T) {
	rt := &fakeRuntime{destroyErr: errors.New("daemon unreachable")}
	s, st := newTestSupervisor(t, rt)
	putState(t, st, StateRunning)

	err := s.Destroy(context.Background())
	if !errors.Is(err, ErrDestroyed) {
		t.Fatalf("Destroy = %v, want wrapped ErrDestroyed", err)
	}

	if _, ok, _ := st.Get(context.Background(), StateKey); ok {
		t.Error("persisted state survived destroy")
	}
	if _, ok := s.alarm.Pending(); ok {
		t.Error("alarm still pending after destroy")
	}
}

func TestOperationsAfterDestroy(t *testing.T) {
	s, _ := newTestSupervisor(t, &fakeRuntime{})
	_ = s.Destroy(context.Background())

	if err := s.Start(context.Background(), runtime.StartOptions{}); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Start after destroy = %v, want ErrDestroyed", err)
	}
	if _, err := s.CurrentState(context.Background()); !errors.Is(err, ErrDestroyed) {
		t.Errorf("CurrentState after destroy = %v, want ErrDestroyed", err)
	}
	if err := s.Destroy(context.Background()); !errors.Is(err, ErrDestroyed) {
		t.Errorf("second Destroy = %v, want ErrDestroyed", err)
	}
}

func TestSupersededMonitorStillFires(t *testing.T) {
	rt := &fakeRuntime{}
	s, st := newTestSupervisor(t, rt)

	if err := s.Start(context.Background(), runtime.StartOptions{Image: "app:latest"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := rt.lastMonitor()

	// The process dies and a second Start attaches a fresh monitor.
	rt.mu.Lock()
	rt.running = false
	rt.mu.Unlock()
	if err := s.Start(context.Background(), runtime.StartOptions{Image: "app:latest"}); err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	putState(t, st, StateRunning)

	// The superseded handle settles late; its handler still runs against
	// the current persisted state.
	first <- nil
	waitForState(t, s, StateStopped)
}
