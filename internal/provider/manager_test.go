package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/surgutroads/roadwatch/internal/config"
	"github.com/surgutroads/roadwatch/internal/log"
	"github.com/surgutroads/roadwatch/internal/testutil"
	"github.com/surgutroads/roadwatch/internal/timeout"
)

func testMCPConfig() config.MCPConfig {
	return config.MCPConfig{
		Endpoint:         "http://localhost:0/sse",
		ConnectTimeout:   2 * time.Second,
		PingTimeout:      time.Second,
		DiscoveryTimeout: 2 * time.Second,
		InvokeTimeout:    2 * time.Second,
	}
}

func newTestManager(t *testing.T, ts *testutil.ToolServer) *Manager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	m := New(Config{
		MCP:            testMCPConfig(),
		Logger:         log.NewNop(),
		Dial:           ts.Dial(ctx),
		BackoffInitial: 5 * time.Millisecond,
	})
	t.Cleanup(func() {
		m.Reset()
		cancel()
	})
	return m
}

func TestEnsureConnects(t *testing.T) {
	ts := testutil.NewToolServer()
	ts.AddTextTool("get_road_status", "Road status by segment", "clean")
	m := newTestManager(t, ts)

	if m.State() != StateDisconnected {
		t.Fatalf("initial state = %v, want disconnected", m.State())
	}

	sess, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if sess == nil {
		t.Fatal("Ensure returned nil session")
	}
	if m.State() != StateLive {
		t.Errorf("state = %v, want live", m.State())
	}
	if ts.Dials() != 1 {
		t.Errorf("dials = %d, want 1", ts.Dials())
	}
}

func TestEnsureReusesLiveHandle(t *testing.T) {
	ts := testutil.NewToolServer()
	m := newTestManager(t, ts)

	first, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	second, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if first != second {
		t.Error("Ensure dialed a new session while the old one was live")
	}
	if ts.Dials() != 1 {
		t.Errorf("dials = %d, want 1", ts.Dials())
	}
}

func TestResetDiscardsHandle(t *testing.T) {
	ts := testutil.NewToolServer()
	m := newTestManager(t, ts)

	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	m.Reset()
	if m.State() != StateDisconnected {
		t.Errorf("state after Reset = %v, want disconnected", m.State())
	}

	// Next Ensure dials fresh.
	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure after Reset: %v", err)
	}
	if ts.Dials() != 2 {
		t.Errorf("dials = %d, want 2", ts.Dials())
	}
}

func TestEnsureReconnectsAfterDeadSession(t *testing.T) {
	ts := testutil.NewToolServer()
	m := newTestManager(t, ts)

	sess, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	// Kill the session behind the manager's back: the liveness probe
	// must catch it and redial.
	_ = sess.Close()

	again, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure after dead session: %v", err)
	}
	if again == sess {
		t.Error("Ensure reused a dead session")
	}
	if m.State() != StateLive {
		t.Errorf("state = %v, want live", m.State())
	}
}

func TestEnsureFailsWithConnectionError(t *testing.T) {
	m := New(Config{
		MCP:            testMCPConfig(),
		Logger:         log.NewNop(),
		Dial:           testutil.FailingDial,
		MaxAttempts:    2,
		BackoffInitial: time.Millisecond,
	})

	_, err := m.Ensure(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", m.State())
	}
}

func TestEnsureRetriesWithBackoff(t *testing.T) {
	ts := testutil.NewToolServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	goodDial := ts.Dial(ctx)
	var mu sync.Mutex
	failures := 0
	m := New(Config{
		MCP:    testMCPConfig(),
		Logger: log.NewNop(),
		Dial: func(ctx context.Context) (mcp.Transport, error) {
			mu.Lock()
			defer mu.Unlock()
			if failures < 2 {
				failures++
				return nil, testutil.ErrDialRefused
			}
			return goodDial(ctx)
		},
		BackoffInitial: time.Millisecond,
	})
	defer m.Reset()

	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure should succeed on third attempt: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if failures != 2 {
		t.Errorf("failures = %d, want 2", failures)
	}
}

func TestCallToolResetsOnFailure(t *testing.T) {
	ts := testutil.NewToolServer()
	ts.AddTool(&mcp.Tool{Name: "broken", Description: "always fails"},
		func(context.Context, map[string]any) (*mcp.CallToolResult, error) {
			return nil, errors.New("boom")
		})
	m := newTestManager(t, ts)

	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	_, err := m.CallTool(context.Background(), "broken", nil)
	if err == nil {
		t.Fatal("expected invocation error")
	}
	// The failing call resets the connection; the error still propagated.
	if m.State() != StateDisconnected {
		t.Errorf("state after failed invocation = %v, want disconnected", m.State())
	}

	// The next turn starts clean with a fresh connect.
	dialsBefore := ts.Dials()
	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure after reset: %v", err)
	}
	if ts.Dials() != dialsBefore+1 {
		t.Errorf("dials = %d, want %d", ts.Dials(), dialsBefore+1)
	}
}

func TestCallToolTimeoutResetsConnection(t *testing.T) {
	ts := testutil.NewToolServer()
	release := make(chan struct{})
	defer close(release)
	ts.AddTool(&mcp.Tool{Name: "slow", Description: "never answers"},
		func(ctx context.Context, _ map[string]any) (*mcp.CallToolResult, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return testutil.TextResult("late"), nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testMCPConfig()
	cfg.InvokeTimeout = 30 * time.Millisecond
	m := New(Config{MCP: cfg, Logger: log.NewNop(), Dial: ts.Dial(ctx), BackoffInitial: time.Millisecond})
	defer m.Reset()

	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	_, err := m.CallTool(context.Background(), "slow", nil)
	if !timeout.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected after timed-out invocation", m.State())
	}
}

func TestCallToolSucceeds(t *testing.T) {
	ts := testutil.NewToolServer()
	ts.AddTextTool("get_road_status", "Road status", "чисто")
	m := newTestManager(t, ts)

	res, err := m.CallTool(context.Background(), "get_road_status", map[string]any{"segment": "ул. Ленина"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("content length = %d, want 1", len(res.Content))
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T, want *mcp.TextContent", res.Content[0])
	}
	if tc.Text != "чисто" {
		t.Errorf("text = %q, want %q", tc.Text, "чисто")
	}
}

func TestListTools(t *testing.T) {
	ts := testutil.NewToolServer()
	ts.AddTextTool("get_road_status", "Road status by segment", "ok")
	ts.AddTextTool("get_weekly_stats", "Weekly cleaning statistics", "ok")
	m := newTestManager(t, ts)

	tools, err := m.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
}

func TestConcurrentEnsure(t *testing.T) {
	ts := testutil.NewToolServer()
	m := newTestManager(t, ts)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Ensure(context.Background()); err != nil {
				t.Errorf("Ensure: %v", err)
			}
		}()
	}
	wg.Wait()

	// Mutual exclusion around connect: one dial, not eight.
	if ts.Dials() != 1 {
		t.Errorf("dials = %d, want 1", ts.Dials())
	}
}
