package supervisor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sandboxkit/warden/internal/runtime"
)

// endpointStub satisfies runtime.Handle for probe tests; only Endpoint is
// ever called by the prober.
type endpointStub struct {
	addr string
	err  error
}

func (e *endpointStub) Running(context.Context) (bool, error)              { return false, nil }
func (e *endpointStub) Start(context.Context, runtime.StartOptions) error  { return nil }
func (e *endpointStub) Monitor(context.Context) (<-chan error, error)      { return nil, nil }
func (e *endpointStub) Destroy(context.Context) error                      { return nil }
func (e *endpointStub) Endpoint(_ context.Context, _ int) (string, error)  { return e.addr, e.err }

func TestProbeOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("probe path = %q, want /health", r.URL.Path)
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p := NewProber(&endpointStub{addr: hostPort(t, srv)}, 8000, "/health")
	result := p.Probe(context.Background())

	if result.Outcome != ProbeOK {
		t.Fatalf("outcome = %s, want ok (err: %v)", result.Outcome, result.Err)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", result.StatusCode)
	}
}

func TestProbeNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	p := NewProber(&endpointStub{addr: hostPort(t, srv)}, 8000, "/health")
	result := p.Probe(context.Background())

	if result.Outcome != ProbeHTTPError {
		t.Fatalf("outcome = %s, want http_error", result.Outcome)
	}
	if result.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", result.StatusCode)
	}
	if result.Body != "overloaded" {
		t.Errorf("body = %q, want %q", result.Body, "overloaded")
	}
}

func TestProbeConnectionRefused(t *testing.T) {
	// Grab an address that was listening a moment ago and no longer is.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p := NewProber(&endpointStub{addr: addr}, 8000, "/health")
	result := p.Probe(context.Background())

	if result.Outcome != ProbeNotListening {
		t.Errorf("outcome = %s, want not_listening (err: %v)", result.Outcome, result.Err)
	}
}

func TestProbeAdapterErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ProbeOutcome
	}{
		{"no container", runtime.ErrNoContainer, ProbeNoContainer},
		{"not listening", runtime.ErrNotListening, ProbeNotListening},
		{"anything else", errors.New("dial failure"), ProbeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProber(&endpointStub{err: tt.err}, 8000, "/health")
			result := p.Probe(context.Background())
			if result.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s", result.Outcome, tt.want)
			}
		})
	}
}

func hostPort(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	u := srv.Listener.Addr().String()
	return u
}
