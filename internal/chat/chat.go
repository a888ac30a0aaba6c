// Package chat orchestrates one conversation turn: capability
// discovery, persona composition, the streamed model call with bounded
// tool rounds, and persistence of the resulting message delta.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/surgutroads/roadwatch/internal/bridge"
	"github.com/surgutroads/roadwatch/internal/log"
	"github.com/surgutroads/roadwatch/internal/session"
)

// FallbackResponse is shown when the model returns nothing at all.
const FallbackResponse = "Извините, не удалось сформировать ответ. Попробуйте переформулировать вопрос."

// defaultMaxToolRounds bounds multi-step tool use per turn.
const defaultMaxToolRounds = 10

// ErrEmptyMessage rejects a turn with no display text.
var ErrEmptyMessage = errors.New("message text is empty")

// TurnRequest is one user message plus the optional capability
// suggestion, carried out-of-band rather than as an inline tag in the
// text.
type TurnRequest struct {
	Text                string `json:"text"`
	SuggestedCapability string `json:"suggestedCapability,omitempty"`
}

// TurnResult is what a completed (or partially completed) turn leaves
// behind. Assistant holds the incremental delta already appended to
// the session.
type TurnResult struct {
	Session   *session.Session
	Assistant session.Message
}

// Config contains the orchestrator dependencies.
type Config struct {
	Genkit   *genkit.Genkit
	Bridge   *bridge.Bridge
	Sessions *session.Store
	Logger   log.Logger

	ModelName     string
	MaxToolRounds int // default 10

	// ModelConfig is passed through to the model untouched. Use the
	// provider's native config type, e.g. *genai.GenerateContentConfig.
	ModelConfig any

	RetryConfig          RetryConfig
	CircuitBreakerConfig CircuitBreakerConfig
	RateLimiter          *rate.Limiter
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Bridge == nil {
		return errors.New("bridge is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session store is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Chat is the conversation orchestrator. It holds no per-session
// state: each turn receives the full history from the store and
// returns the delta. Safe for concurrent turns on different sessions;
// turns on the same session serialize.
type Chat struct {
	g        *genkit.Genkit
	bridge   *bridge.Bridge
	sessions *session.Store
	logger   log.Logger

	modelName     string
	maxToolRounds int
	modelConfig   any

	retryConfig    RetryConfig
	circuitBreaker *CircuitBreaker
	rateLimiter    *rate.Limiter

	turnLocks sync.Map // session id -> *sync.Mutex
}

// New creates the orchestrator.
func New(cfg Config) (*Chat, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	maxRounds := cfg.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}
	cbConfig := cfg.CircuitBreakerConfig
	if cbConfig.FailureThreshold == 0 {
		cbConfig = DefaultCircuitBreakerConfig()
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	return &Chat{
		g:              cfg.Genkit,
		bridge:         cfg.Bridge,
		sessions:       cfg.Sessions,
		logger:         logger.With("component", "chat"),
		modelName:      cfg.ModelName,
		maxToolRounds:  maxRounds,
		modelConfig:    cfg.ModelConfig,
		retryConfig:    retryConfig,
		circuitBreaker: NewCircuitBreaker(cbConfig),
		rateLimiter:    rl,
	}, nil
}

// HandleTurn runs one conversation turn. An empty sessionID starts a
// new session. Events stream to cb in emission order; cb may be nil
// for non-streaming callers. On a mid-stream failure the partial
// output is persisted, a terminal error event is emitted, and the
// error is returned alongside the partial result.
func (c *Chat) HandleTurn(ctx context.Context, sessionID string, req TurnRequest, cb Callback) (*TurnResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyMessage
	}

	sess, err := c.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// One turn at a time per session. Different sessions proceed
	// independently and share only the connection manager.
	lockAny, _ := c.turnLocks.LoadOrStore(sess.ID, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	caps := c.bridge.Discover(ctx)
	refs := c.bridge.Register(c.g, caps)

	suggested := req.SuggestedCapability
	if suggested != "" && !hasCapability(caps, suggested) {
		c.logger.Debug("suggested capability not available", "capability", suggested)
		suggested = ""
	}

	rec := &turnRecorder{ctx: ctx, cb: cb}

	history := historyMessages(sess)
	history = append(history, ai.NewUserMessage(ai.NewTextPart(req.Text)))

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithSystem(systemDirective(caps, suggested)),
		ai.WithMessages(history...),
		ai.WithMaxTurns(c.maxToolRounds),
	}
	if c.modelConfig != nil {
		opts = append(opts, ai.WithConfig(c.modelConfig))
	}
	if len(refs) > 0 {
		opts = append(opts, ai.WithTools(refs...))
	}
	if cb != nil {
		opts = append(opts, ai.WithStreaming(func(sctx context.Context, chunk *ai.ModelResponseChunk) error {
			for _, p := range chunk.Content {
				if p.IsText() && p.Text != "" {
					if err := rec.TextDelta(p.Text); err != nil {
						return err
					}
				}
			}
			return nil
		}))
	}

	if err := c.circuitBreaker.Allow(); err != nil {
		c.logger.Warn("model calls suspended", "state", c.circuitBreaker.State().String())
		return nil, fmt.Errorf("service unavailable: %w", err)
	}

	gctx := bridge.WithObserver(ctx, rec)
	resp, genErr := c.generateWithRetry(gctx, rec.HasOutput, opts)
	if genErr != nil {
		c.circuitBreaker.Failure()
		rec.Error(genErr)
		result := c.persistTurn(ctx, sess, req.Text, rec.Message())
		return result, genErr
	}
	c.circuitBreaker.Success()

	rec.FinishText(resp.Text())
	result := c.persistTurn(ctx, sess, req.Text, rec.Message())
	rec.Done(sess.ID)
	if rec.cbErr != nil {
		return result, rec.cbErr
	}
	return result, nil
}

func (c *Chat) loadSession(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		return session.New(), nil
	}
	return c.sessions.Get(ctx, id)
}

// persistTurn appends the user message and the assistant delta, titles
// a fresh session, and saves. A save failure is logged, not returned:
// the user already saw the response.
func (c *Chat) persistTurn(ctx context.Context, sess *session.Session, userText string, assistant session.Message) *TurnResult {
	sess.Messages = append(sess.Messages,
		session.Message{Role: session.RoleUser, Parts: []session.Part{session.NewTextPart(userText)}},
		assistant,
	)
	if sess.Title == "" {
		sess.Retitle()
	}
	if err := c.sessions.Save(ctx, sess); err != nil {
		c.logger.Error("failed to save session", "session_id", sess.ID, "error", err)
	}
	return &TurnResult{Session: sess, Assistant: assistant}
}

// historyMessages converts stored messages to model history. Tool
// notices are display artifacts; only text reaches the model.
func historyMessages(sess *session.Session) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(sess.Messages)+1)
	for _, m := range sess.Messages {
		text := m.Text()
		if text == "" {
			continue
		}
		switch m.Role {
		case session.RoleUser:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(text)))
		case session.RoleAssistant:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(text)))
		}
	}
	return msgs
}

// turnRecorder accumulates the assistant message parts and forwards
// events to the caller. Stream chunks and tool notifications arrive
// from the generate call; the mutex keeps part order coherent if the
// runtime ever overlaps them.
type turnRecorder struct {
	mu    sync.Mutex
	ctx   context.Context
	cb    Callback
	parts []session.Part
	text  strings.Builder
	cbErr error
}

func (r *turnRecorder) emit(ev Event) error {
	if r.cb == nil {
		return nil
	}
	if err := r.cb(r.ctx, ev); err != nil {
		r.cbErr = err
		return err
	}
	return nil
}

// TextDelta records and forwards one streamed text fragment.
func (r *turnRecorder) TextDelta(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text.WriteString(text)
	return r.emit(Event{Kind: EventTextDelta, Text: text})
}

// ToolStart implements bridge.Observer.
func (r *turnRecorder) ToolStart(name string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushTextLocked()
	r.parts = append(r.parts, session.NewToolStartPart(name))
	_ = r.emit(Event{Kind: EventToolStart, Tool: name})
}

// ToolResult implements bridge.Observer.
func (r *turnRecorder) ToolResult(name string, payload any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var raw json.RawMessage
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"error": err.Error()})
	} else if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	r.parts = append(r.parts, session.NewToolResultPart(name, raw))
	_ = r.emit(Event{Kind: EventToolResult, Tool: name, Payload: raw})
}

// FinishText reconciles accumulated text with the final response. In
// non-streaming mode nothing accumulated, so the full text lands here.
func (r *turnRecorder) FinishText(finalText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.text.Len() == 0 && !r.hasTextPartLocked() {
		if finalText == "" && len(r.parts) == 0 {
			// Empty text alongside tool parts is valid agentic
			// output; fully empty responses get the fallback.
			finalText = FallbackResponse
		}
		r.text.WriteString(finalText)
	}
	r.flushTextLocked()
}

// Error emits the terminal error event. Parts already recorded stand.
func (r *turnRecorder) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushTextLocked()
	_ = r.emit(Event{Kind: EventError, Err: err.Error()})
}

// Done emits the stream-end marker.
func (r *turnRecorder) Done(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.emit(Event{Kind: EventDone, SessionID: sessionID})
}

// HasOutput reports whether anything reached the caller yet.
func (r *turnRecorder) HasOutput() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.parts) > 0 || r.text.Len() > 0
}

// Message returns the assistant message assembled so far.
func (r *turnRecorder) Message() session.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushTextLocked()
	parts := make([]session.Part, len(r.parts))
	copy(parts, r.parts)
	return session.Message{Role: session.RoleAssistant, Parts: parts}
}

func (r *turnRecorder) flushTextLocked() {
	if r.text.Len() == 0 {
		return
	}
	r.parts = append(r.parts, session.NewTextPart(r.text.String()))
	r.text.Reset()
}

func (r *turnRecorder) hasTextPartLocked() bool {
	for _, p := range r.parts {
		if p.Kind == session.PartText {
			return true
		}
	}
	return false
}
