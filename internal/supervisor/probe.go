package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"time"

	"github.com/sandboxkit/warden/internal/runtime"
)

// ProbeOutcome classifies one health probe.
type ProbeOutcome int

const (
	// ProbeOK: the liveness endpoint answered 2xx.
	ProbeOK ProbeOutcome = iota
	// ProbeNotListening: the container exists but nothing accepts
	// connections on the probe port yet.
	ProbeNotListening
	// ProbeNoContainer: no container instance exists yet.
	ProbeNoContainer
	// ProbeHTTPError: the endpoint answered with a non-2xx status.
	ProbeHTTPError
	// ProbeError: any other transport or internal failure.
	ProbeError
)

func (o ProbeOutcome) String() string {
	switch o {
	case ProbeOK:
		return "ok"
	case ProbeNotListening:
		return "not_listening"
	case ProbeNoContainer:
		return "no_container"
	case ProbeHTTPError:
		return "http_error"
	case ProbeError:
		return "error"
	default:
		return "unknown"
	}
}

// ProbeResult is the discriminated outcome of a single probe.
type ProbeResult struct {
	Outcome    ProbeOutcome
	StatusCode int    // set for ProbeOK and ProbeHTTPError
	Body       string // set for ProbeHTTPError
	Err        error  // set for ProbeError
}

// Prober issues one HTTP request against the container's liveness endpoint
// and classifies the outcome.
type Prober struct {
	handle runtime.Handle
	client *http.Client
	port   int
	path   string
}

// NewProber creates a prober for the given runtime handle. No request
// timeout is imposed here; failure detection is delegated to the transport.
func NewProber(handle runtime.Handle, port int, path string) *Prober {
	return &Prober{
		handle: handle,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		port: port,
		path: path,
	}
}

// Probe performs one health check.
func (p *Prober) Probe(ctx context.Context) ProbeResult {
	addr, err := p.handle.Endpoint(ctx, p.port)
	if err != nil {
		return classifyTransport(err)
	}

	url := fmt.Sprintf("http://%s%s", addr, p.path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeResult{Outcome: ProbeError, Err: err}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	// The body is consumed in all cases so the connection can be reused.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ProbeResult{Outcome: ProbeError, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return ProbeResult{Outcome: ProbeOK, StatusCode: resp.StatusCode}
	}
	return ProbeResult{Outcome: ProbeHTTPError, StatusCode: resp.StatusCode, Body: string(body)}
}

// classifyTransport maps a transport failure to a probe outcome using the
// tagged errors produced at the runtime-adapter boundary.
func classifyTransport(err error) ProbeResult {
	switch {
	case errors.Is(err, runtime.ErrNoContainer):
		return ProbeResult{Outcome: ProbeNoContainer, Err: err}
	case errors.Is(err, runtime.ErrNotListening), errors.Is(err, syscall.ECONNREFUSED):
		return ProbeResult{Outcome: ProbeNotListening, Err: err}
	default:
		return ProbeResult{Outcome: ProbeError, Err: err}
	}
}
