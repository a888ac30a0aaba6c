// Package provider owns the lifecycle of the single logical connection
// to the remote MCP capability server.
//
// Remote tool servers over long-lived SSE transports degrade silently
// (half-open sockets). The manager runs a cheap liveness probe before
// each reuse and discards the handle on any failure, so staleness is
// bounded to one turn without a background heartbeat goroutine. Handles
// are never patched in place: any failure destroys the session and the
// next Ensure dials fresh.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/surgutroads/roadwatch/internal/config"
	"github.com/surgutroads/roadwatch/internal/log"
	"github.com/surgutroads/roadwatch/internal/timeout"
)

// ErrConnection indicates the capability server could not be reached or
// the handshake failed. The orchestrator degrades to zero capabilities
// for the turn; it never fails the turn on this error.
var ErrConnection = errors.New("tool provider connection failed")

// State of the logical connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateLive
	StateStale
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// clientName identifies this client in the MCP handshake.
const clientName = "roadwatch"

// Reconnect backoff: one immediate attempt plus two retries with
// doubling delay. Sustained outages stay cheap per turn while transient
// drops recover within the same turn.
const (
	defaultMaxAttempts    = 3
	defaultBackoffInitial = 500 * time.Millisecond
)

// DialFunc produces a transport for one connection attempt.
// Injectable for tests (in-memory transports).
type DialFunc func(ctx context.Context) (mcp.Transport, error)

// Config for the connection manager.
type Config struct {
	MCP    config.MCPConfig
	Logger log.Logger

	// Dial overrides transport creation. Nil means SSE to MCP.Endpoint
	// with the bearer token in the handshake headers.
	Dial DialFunc

	// MaxAttempts and BackoffInitial tune the reconnect policy.
	// Zero values use the defaults.
	MaxAttempts    int
	BackoffInitial time.Duration
}

// Manager maintains at most one live MCP client session per process.
// All state transitions happen under the mutex: two turns never race a
// connect against a reset, even though each may suspend mid-check.
type Manager struct {
	mu    sync.Mutex
	state State
	sess  *mcp.ClientSession

	client         *mcp.Client
	dial           DialFunc
	cfg            config.MCPConfig
	maxAttempts    int
	backoffInitial time.Duration
	logger         log.Logger
}

// New creates a connection manager. No connection is made until the
// first Ensure call.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := cfg.BackoffInitial
	if backoff <= 0 {
		backoff = defaultBackoffInitial
	}

	m := &Manager{
		client: mcp.NewClient(&mcp.Implementation{
			Name:    clientName,
			Version: "1.0.0",
		}, nil),
		cfg:            cfg.MCP,
		maxAttempts:    maxAttempts,
		backoffInitial: backoff,
		logger:         logger.With("component", "provider"),
	}

	m.dial = cfg.Dial
	if m.dial == nil {
		m.dial = m.dialSSE
	}
	return m
}

// dialSSE builds the production transport: SSE to the configured
// endpoint, bearer token injected into every request.
func (m *Manager) dialSSE(context.Context) (mcp.Transport, error) {
	// ResponseHeaderTimeout bounds a hung dial on its own, since an
	// abandoned connect attempt keeps running without a deadline.
	base := &http.Transport{ResponseHeaderTimeout: m.cfg.ConnectTimeout}
	hc := &http.Client{Transport: &authTransport{token: m.cfg.AuthToken, base: base}}
	return &mcp.SSEClientTransport{Endpoint: m.cfg.Endpoint, HTTPClient: hc}, nil
}

// authTransport adds the bearer credential to outgoing requests.
type authTransport struct {
	token string
	base  http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ensure returns a live session, reconnecting if necessary.
//
// An existing handle is first verified with a bounded ping; a handle
// that fails the probe is discarded, never reused. Blocking is bounded
// by ping-timeout plus the reconnect attempts' connect-timeouts.
func (m *Manager) Ensure(ctx context.Context) (*mcp.ClientSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != nil {
		m.state = StateStale
		_, err := timeout.Do(ctx, m.cfg.PingTimeout, "mcp ping", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.sess.Ping(ctx, nil)
		})
		if err == nil {
			m.state = StateLive
			return m.sess, nil
		}
		m.logger.Warn("liveness check failed, discarding handle", "error", err)
		m.closeLocked()
	}

	return m.connectLocked(ctx)
}

// connectLocked dials a fresh session with bounded backoff.
// Caller holds m.mu.
func (m *Manager) connectLocked(ctx context.Context) (*mcp.ClientSession, error) {
	var lastErr error
	delay := m.backoffInitial

	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				m.state = StateDisconnected
				return nil, fmt.Errorf("%w: %w", ErrConnection, ctx.Err())
			case <-time.After(delay):
				delay *= 2
			}
		}

		m.state = StateConnecting
		sess, err := timeout.Do(ctx, m.cfg.ConnectTimeout, "mcp connect", m.connectOnce)
		if err == nil {
			m.sess = sess
			m.state = StateLive
			m.logger.Info("connected to tool provider", "endpoint", m.cfg.Endpoint, "attempt", attempt+1)
			return sess, nil
		}

		lastErr = err
		m.state = StateDisconnected
		m.logger.Warn("connect attempt failed", "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("%w: %w", ErrConnection, lastErr)
}

// connectOnce performs a single dial+handshake. The session must
// outlive this call, so the SDK gets an uncancelable context; the
// deadline context only decides whether the caller still wants the
// result. A session that lands after the caller gave up is closed.
func (m *Manager) connectOnce(tctx context.Context) (*mcp.ClientSession, error) {
	transport, err := m.dial(tctx)
	if err != nil {
		return nil, fmt.Errorf("dialing transport: %w", err)
	}

	sess, err := m.client.Connect(context.WithoutCancel(tctx), transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp handshake: %w", err)
	}
	if tctx.Err() != nil {
		_ = sess.Close()
		return nil, tctx.Err()
	}
	return sess, nil
}

// Reset unconditionally discards the current handle and marks the
// connection Disconnected. Safe to call in any state.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

// Close releases the connection. The manager remains usable; a later
// Ensure reconnects.
func (m *Manager) Close() error {
	m.Reset()
	return nil
}

// closeLocked discards the handle. Caller holds m.mu.
func (m *Manager) closeLocked() {
	if m.sess != nil {
		if err := m.sess.Close(); err != nil {
			m.logger.Debug("closing stale session", "error", err)
		}
		m.sess = nil
	}
	m.state = StateDisconnected
}

// ListTools fetches the declared capability list, bounded by the
// discovery timeout. Reconnects first if needed.
func (m *Manager) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	sess, err := m.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	res, err := timeout.Do(ctx, m.cfg.DiscoveryTimeout, "mcp list tools", func(ctx context.Context) (*mcp.ListToolsResult, error) {
		return sess.ListTools(ctx, nil)
	})
	if err != nil {
		m.Reset()
		return nil, fmt.Errorf("listing capabilities: %w", err)
	}
	return res.Tools, nil
}

// CallTool invokes one capability with the per-call timeout.
//
// Any failure, including timeout, resets the connection as a side
// effect; the error still propagates so the caller can report the
// failed invocation. The reset is not a retry.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()

	if sess == nil {
		var err error
		sess, err = m.Ensure(ctx)
		if err != nil {
			return nil, err
		}
	}

	res, err := timeout.Do(ctx, m.cfg.InvokeTimeout, "invoke "+name, func(ctx context.Context) (*mcp.CallToolResult, error) {
		return sess.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	})
	if err != nil {
		m.Reset()
		return nil, fmt.Errorf("invoking %s: %w", name, err)
	}
	return res, nil
}
