package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/surgutroads/roadwatch/internal/log"
	"github.com/surgutroads/roadwatch/internal/provider"
)

// Capability is one remote tool after schema validation.
type Capability struct {
	Name        string
	Description string
	Schema      Schema
}

// Bridge turns the provider's tool listing into model-callable tools.
type Bridge struct {
	manager *provider.Manager
	logger  log.Logger
}

// Config holds the bridge dependencies.
type Config struct {
	Manager *provider.Manager
	Logger  log.Logger
}

func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Bridge{manager: cfg.Manager, logger: logger}
}

// Discover lists the server's tools and validates their schemas.
// Discovery failure is not fatal: the turn proceeds with an empty
// capability set and the model answers from its own knowledge.
func (b *Bridge) Discover(ctx context.Context) []Capability {
	tools, err := b.manager.ListTools(ctx)
	if err != nil {
		b.logger.Warn("capability discovery failed, continuing without tools", "error", err)
		return nil
	}

	caps := make([]Capability, 0, len(tools))
	for _, t := range tools {
		caps = append(caps, Capability{
			Name:        t.Name,
			Description: t.Description,
			Schema:      ParseSchema(t.InputSchema),
		})
	}
	return caps
}

// Register makes each capability available to the model under its
// remote name. Registration is idempotent per Genkit instance: a name
// already registered is looked up instead of redefined, so repeated
// turns reuse the same tool. Handlers resolve the connection at call
// time, never at registration time.
func (b *Bridge) Register(g *genkit.Genkit, caps []Capability) []ai.ToolRef {
	refs := make([]ai.ToolRef, 0, len(caps))
	for _, c := range caps {
		if existing := genkit.LookupTool(g, c.Name); existing != nil {
			refs = append(refs, existing)
			continue
		}

		name := c.Name
		tool := genkit.DefineToolWithInputSchema(g, name, c.Description, c.Schema.JSONSchema(),
			func(tctx *ai.ToolContext, input any) (any, error) {
				return b.invoke(tctx, name, input)
			})
		refs = append(refs, tool)
	}
	return refs
}

// invoke forwards one model tool call to the remote server. Transport
// and server-side failures are returned to the model as the result of
// that invocation, not as an error, so one bad call never aborts the
// turn. The manager has already reset the connection by the time the
// error surfaces here.
func (b *Bridge) invoke(ctx context.Context, name string, input any) (any, error) {
	args, _ := input.(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	obs := observerFrom(ctx)
	if obs != nil {
		obs.ToolStart(name, args)
	}

	out, callErr := b.call(ctx, name, args)
	if obs != nil {
		obs.ToolResult(name, out, callErr)
	}
	if callErr != nil {
		return map[string]any{"error": callErr.Error()}, nil
	}
	return out, nil
}

func (b *Bridge) call(ctx context.Context, name string, args map[string]any) (any, error) {
	res, err := b.manager.CallTool(ctx, name, args)
	if err != nil {
		b.logger.Warn("tool invocation failed", "tool", name, "error", err)
		return nil, err
	}

	text := resultText(res.Content)
	if res.IsError {
		b.logger.Warn("tool reported error", "tool", name)
		return nil, errors.New(text)
	}

	// Structured payloads pass through as JSON, everything else as text.
	var structured any
	if err := json.Unmarshal([]byte(text), &structured); err == nil {
		switch structured.(type) {
		case map[string]any, []any:
			return structured, nil
		}
	}
	return text, nil
}

func resultText(content []mcp.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if t, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}
