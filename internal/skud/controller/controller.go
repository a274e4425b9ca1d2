// Package controller talks to the external turnstile controller. The client
// is an injected dependency with an explicit Start/Stop lifecycle.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

var ErrNotStarted = errors.New("controller client not started")

type Client interface {
	Start(ctx context.Context) error
	Stop()
	// Check probes the controller described by s.
	Check(ctx context.Context, s types.Settings) types.ConnectivityResult
}

const DefaultCheckTimeout = 5 * time.Second

// HTTPClient reaches the controller over HTTP. In mock mode no request is
// made.
type HTTPClient struct {
	timeout time.Duration
	logger  *log.Logger

	mu   sync.RWMutex
	http *http.Client
}

func NewHTTPClient(timeout time.Duration, logger *log.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &HTTPClient{timeout: timeout, logger: logger}
}

func (c *HTTPClient) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http != nil {
		return nil
	}
	c.http = &http.Client{
		Timeout: c.timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        4,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: c.timeout,
		},
	}
	c.logger.Printf("controller client started timeout=%s", c.timeout)
	return nil
}

func (c *HTTPClient) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http == nil {
		return
	}
	c.http.CloseIdleConnections()
	c.http = nil
	c.logger.Printf("controller client stopped")
}

func (c *HTTPClient) Check(ctx context.Context, s types.Settings) types.ConnectivityResult {
	res := types.ConnectivityResult{Mode: s.IntegrationMode}
	if s.IntegrationMode == types.ModeMock || s.IntegrationMode == "" {
		res.Mode = types.ModeMock
		res.OK = true
		res.Message = "mock mode"
		return res
	}

	c.mu.RLock()
	hc := c.http
	c.mu.RUnlock()
	if hc == nil {
		res.Message = ErrNotStarted.Error()
		return res
	}

	base := strings.TrimSpace(s.BaseURL)
	if base == "" {
		res.Message = "base url not configured"
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		res.Message = fmt.Sprintf("bad base url: %v", err)
		return res
	}

	start := time.Now()
	resp, err := hc.Do(req)
	res.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Message = err.Error()
		return res
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	// Any answer short of a server error means the controller is reachable.
	res.OK = resp.StatusCode < http.StatusInternalServerError
	res.Message = resp.Status
	return res
}

// Mock is a scripted Client for tests and local development.
type Mock struct {
	mu      sync.Mutex
	Result  types.ConnectivityResult
	started bool
	checks  int
}

func (m *Mock) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

func (m *Mock) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
}

func (m *Mock) Check(_ context.Context, s types.Settings) types.ConnectivityResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	r := m.Result
	if r.Mode == "" {
		r.Mode = s.IntegrationMode
	}
	return r
}

func (m *Mock) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *Mock) Checks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks
}
