package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/surgutroads/roadwatch/internal/bridge"
	"github.com/surgutroads/roadwatch/internal/config"
	"github.com/surgutroads/roadwatch/internal/log"
	"github.com/surgutroads/roadwatch/internal/provider"
	"github.com/surgutroads/roadwatch/internal/session"
	"github.com/surgutroads/roadwatch/internal/testutil"
)

type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (ec *eventCollector) collect(_ context.Context, ev Event) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.events = append(ec.events, ev)
	return nil
}

func (ec *eventCollector) kinds() []EventKind {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	kinds := make([]EventKind, len(ec.events))
	for i, ev := range ec.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (ec *eventCollector) text() string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	var sb strings.Builder
	for _, ev := range ec.events {
		if ev.Kind == EventTextDelta {
			sb.WriteString(ev.Text)
		}
	}
	return sb.String()
}

type testEnv struct {
	chat    *Chat
	mock    *testutil.MockLLM
	manager *provider.Manager
	store   *session.Store
	tools   *testutil.ToolServer
}

func newTestEnv(t *testing.T, mcpCfg config.MCPConfig) *testEnv {
	t.Helper()

	ts := testutil.NewToolServer()
	ctx, cancel := context.WithCancel(context.Background())
	m := provider.New(provider.Config{
		MCP:            mcpCfg,
		Logger:         log.NewNop(),
		Dial:           ts.Dial(ctx),
		BackoffInitial: 5 * time.Millisecond,
	})

	store, err := session.Open(filepath.Join(t.TempDir(), "sessions.db"), log.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	g := genkit.Init(context.Background())
	mock := testutil.NewMockLLM("Могу помочь с дорожной обстановкой в Сургуте.")
	mock.RegisterModel(g)

	b := bridge.New(bridge.Config{Manager: m, Logger: log.NewNop()})
	c, err := New(Config{
		Genkit:    g,
		Bridge:    b,
		Sessions:  store,
		Logger:    log.NewNop(),
		ModelName: testutil.ModelName,
		RetryConfig: RetryConfig{
			MaxRetries:      1,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("chat.New: %v", err)
	}

	t.Cleanup(func() {
		m.Reset()
		_ = store.Close()
		cancel()
	})
	return &testEnv{chat: c, mock: mock, manager: m, store: store, tools: ts}
}

func fastMCPConfig() config.MCPConfig {
	return config.MCPConfig{
		Endpoint:         "http://localhost:0/sse",
		ConnectTimeout:   2 * time.Second,
		PingTimeout:      time.Second,
		DiscoveryTimeout: 2 * time.Second,
		InvokeTimeout:    2 * time.Second,
	}
}

func TestHandleTurnTextOnly(t *testing.T) {
	env := newTestEnv(t, fastMCPConfig())
	env.mock.AddResponse("дороги", "Дороги в Сургуте расчищены.")

	ec := &eventCollector{}
	res, err := env.chat.HandleTurn(context.Background(), "", TurnRequest{Text: "Как дороги сегодня?"}, ec.collect)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	if got := ec.text(); got != "Дороги в Сургуте расчищены." {
		t.Errorf("streamed text = %q", got)
	}
	kinds := ec.kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != EventDone {
		t.Errorf("last event = %v, want done", kinds)
	}

	if res.Session == nil || res.Session.ID == "" {
		t.Fatal("no session in result")
	}
	stored, err := env.store.Get(context.Background(), res.Session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.Messages) != 2 {
		t.Fatalf("stored %d messages, want 2", len(stored.Messages))
	}
	if stored.Messages[0].Role != session.RoleUser || stored.Messages[1].Role != session.RoleAssistant {
		t.Errorf("roles = %v, %v", stored.Messages[0].Role, stored.Messages[1].Role)
	}
	if stored.Title != "Как дороги сегодня?" {
		t.Errorf("title = %q", stored.Title)
	}
}

func TestHandleTurnWithToolInvocation(t *testing.T) {
	env := newTestEnv(t, fastMCPConfig())
	env.tools.AddTextTool("get_road_status", "Состояние дорог по участку", "чисто")
	env.mock.AddToolResponse("камеры",
		[]*ai.ToolRequest{{Name: "get_road_status", Input: map[string]any{"segment": "центр"}}},
		"По данным камер дороги чистые.")

	ec := &eventCollector{}
	res, err := env.chat.HandleTurn(context.Background(), "", TurnRequest{Text: "Что показывают камеры?"}, ec.collect)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	kinds := ec.kinds()
	startIdx, resultIdx := -1, -1
	for i, k := range kinds {
		switch k {
		case EventToolStart:
			if startIdx == -1 {
				startIdx = i
			}
		case EventToolResult:
			resultIdx = i
		}
	}
	if startIdx == -1 || resultIdx == -1 {
		t.Fatalf("missing tool events: %v", kinds)
	}
	if resultIdx < startIdx {
		t.Errorf("tool result at %d before start at %d", resultIdx, startIdx)
	}

	assistant := res.Assistant
	var sawStart, sawResult, sawText bool
	for _, p := range assistant.Parts {
		switch p.Kind {
		case session.PartToolStart:
			sawStart = true
			if sawResult {
				t.Error("tool-start part after tool-result")
			}
		case session.PartToolResult:
			sawResult = true
		case session.PartText:
			sawText = true
		}
	}
	if !sawStart || !sawResult || !sawText {
		t.Errorf("assistant parts incomplete: %+v", assistant.Parts)
	}
	if got := assistant.Text(); got != "По данным камер дороги чистые." {
		t.Errorf("assistant text = %q", got)
	}
}

func TestHandleTurnDiscoveryFailureStillAnswers(t *testing.T) {
	// No reachable capability server at all: the turn degrades to a
	// text-only answer instead of failing.
	store, err := session.Open(filepath.Join(t.TempDir(), "sessions.db"), log.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	m := provider.New(provider.Config{
		MCP:            fastMCPConfig(),
		Logger:         log.NewNop(),
		Dial:           testutil.FailingDial,
		BackoffInitial: time.Millisecond,
	})

	g := genkit.Init(context.Background())
	mock := testutil.NewMockLLM("Отвечаю по общим данным: дороги обычно расчищают к утру.")
	mock.RegisterModel(g)

	c, err := New(Config{
		Genkit:    g,
		Bridge:    bridge.New(bridge.Config{Manager: m, Logger: log.NewNop()}),
		Sessions:  store,
		Logger:    log.NewNop(),
		ModelName: testutil.ModelName,
	})
	if err != nil {
		t.Fatalf("chat.New: %v", err)
	}

	ec := &eventCollector{}
	res, err := c.HandleTurn(context.Background(), "", TurnRequest{Text: "Как дороги?"}, ec.collect)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if res.Assistant.Text() == "" {
		t.Error("no text in degraded turn")
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(calls))
	}
	if len(calls[0].ToolNames) != 0 {
		t.Errorf("tools offered to model = %v, want none", calls[0].ToolNames)
	}
}

func TestHandleTurnInvokeTimeoutResetsConnection(t *testing.T) {
	cfg := fastMCPConfig()
	cfg.InvokeTimeout = 30 * time.Millisecond
	env := newTestEnv(t, cfg)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	env.tools.AddTool(&mcp.Tool{Name: "get_road_status", Description: "Состояние дорог"},
		func(ctx context.Context, _ map[string]any) (*mcp.CallToolResult, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return testutil.TextResult("чисто"), nil
		})
	env.mock.AddToolResponse("камеры",
		[]*ai.ToolRequest{{Name: "get_road_status", Input: map[string]any{}}},
		"Не удалось получить данные, попробуйте позже.")

	ec := &eventCollector{}
	_, err := env.chat.HandleTurn(context.Background(), "", TurnRequest{Text: "Что показывают камеры?"}, ec.collect)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	// The failed invocation reset the connection as a side effect.
	if got := env.manager.State(); got != provider.StateDisconnected {
		t.Errorf("manager state = %v, want disconnected", got)
	}
	dialsBefore := env.tools.Dials()
	if _, err := env.manager.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure after reset: %v", err)
	}
	if env.tools.Dials() != dialsBefore+1 {
		t.Errorf("dials = %d, want %d (fresh connect)", env.tools.Dials(), dialsBefore+1)
	}

	// The timeout surfaced to the model as that invocation's result.
	ec.mu.Lock()
	defer ec.mu.Unlock()
	var sawErrorPayload bool
	for _, ev := range ec.events {
		if ev.Kind == EventToolResult && strings.Contains(string(ev.Payload), "error") {
			sawErrorPayload = true
		}
	}
	if !sawErrorPayload {
		t.Error("tool result did not carry the invocation error")
	}
}

func TestHandleTurnStreamErrorPreservesPartialState(t *testing.T) {
	env := newTestEnv(t, fastMCPConfig())
	env.mock.FailWith(errors.New("model exploded"))

	ec := &eventCollector{}
	res, err := env.chat.HandleTurn(context.Background(), "", TurnRequest{Text: "Как дороги?"}, ec.collect)
	if err == nil {
		t.Fatal("HandleTurn succeeded, want error")
	}

	kinds := ec.kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != EventError {
		t.Errorf("events = %v, want terminal error event", kinds)
	}

	// Session is persisted and usable for the next turn.
	if res == nil || res.Session == nil {
		t.Fatal("no partial result")
	}
	stored, getErr := env.store.Get(context.Background(), res.Session.ID)
	if getErr != nil {
		t.Fatalf("session not persisted: %v", getErr)
	}
	if stored.Messages[0].Text() != "Как дороги?" {
		t.Errorf("user message lost: %q", stored.Messages[0].Text())
	}

	env.mock.FailWith(nil)
	if _, err := env.chat.HandleTurn(context.Background(), res.Session.ID, TurnRequest{Text: "А сейчас?"}, nil); err != nil {
		t.Fatalf("next turn after stream error: %v", err)
	}
}

func TestHandleTurnEmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t, fastMCPConfig())
	_, err := env.chat.HandleTurn(context.Background(), "", TurnRequest{Text: "   "}, nil)
	if !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestHandleTurnUnknownSession(t *testing.T) {
	env := newTestEnv(t, fastMCPConfig())
	_, err := env.chat.HandleTurn(context.Background(), "no-such-id", TurnRequest{Text: "Как дороги?"}, nil)
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestHandleTurnTitleTruncation(t *testing.T) {
	env := newTestEnv(t, fastMCPConfig())

	long := "Какие камеры сейчас показывают снежные заносы на дорогах Сургута?"
	res, err := env.chat.HandleTurn(context.Background(), "", TurnRequest{Text: long}, nil)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	title := []rune(res.Session.Title)
	if len(title) != session.TitleMaxRunes+1 {
		t.Fatalf("title runes = %d, want %d", len(title), session.TitleMaxRunes+1)
	}
	if title[len(title)-1] != '…' {
		t.Errorf("title does not end with ellipsis: %q", res.Session.Title)
	}
}

func TestSuggestedCapabilityReachesSystemDirective(t *testing.T) {
	env := newTestEnv(t, fastMCPConfig())
	env.tools.AddTextTool("get_road_status", "Состояние дорог", "чисто")
	env.mock.AddResponse("дороги", "Отвечаю.")

	_, err := env.chat.HandleTurn(context.Background(), "",
		TurnRequest{Text: "Как дороги?", SuggestedCapability: "get_road_status"}, nil)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	calls := env.mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(calls))
	}
	if !strings.Contains(calls[0].System, "«get_road_status»") {
		t.Errorf("system directive missing suggestion: %q", calls[0].System)
	}
}

func TestSuggestedCapabilityUnknownIsDropped(t *testing.T) {
	env := newTestEnv(t, fastMCPConfig())
	env.tools.AddTextTool("get_road_status", "Состояние дорог", "чисто")

	_, err := env.chat.HandleTurn(context.Background(), "",
		TurnRequest{Text: "Как дороги?", SuggestedCapability: "launch_rockets"}, nil)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	calls := env.mock.Calls()
	if strings.Contains(calls[0].System, "launch_rockets") {
		t.Errorf("unknown suggestion leaked into system directive")
	}
}

func TestHandleTurnAppendsToExistingSession(t *testing.T) {
	env := newTestEnv(t, fastMCPConfig())
	env.mock.AddResponse("первый", "Ответ один.")
	env.mock.AddResponse("второй", "Ответ два.")

	first, err := env.chat.HandleTurn(context.Background(), "", TurnRequest{Text: "первый вопрос"}, nil)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	second, err := env.chat.HandleTurn(context.Background(), first.Session.ID, TurnRequest{Text: "второй вопрос"}, nil)
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if second.Session.ID != first.Session.ID {
		t.Fatalf("session id changed across turns")
	}
	if len(second.Session.Messages) != 4 {
		t.Errorf("messages = %d, want 4", len(second.Session.Messages))
	}
	// History reached the model on the second call.
	calls := env.mock.Calls()
	if len(calls) != 2 {
		t.Fatalf("model calls = %d, want 2", len(calls))
	}
	if calls[1].UserMessage != "второй вопрос" {
		t.Errorf("second call user message = %q", calls[1].UserMessage)
	}
	// Title stays pinned to the first message.
	if second.Session.Title != "первый вопрос" {
		t.Errorf("title = %q, want первый вопрос", second.Session.Title)
	}
}
