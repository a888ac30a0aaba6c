// Package app assembles the application from its components.
//
// Setup wires configuration into the concrete object graph: Genkit
// with the selected AI provider, the session store, the capability
// server connection, the bridge, the orchestrator, and the outer
// surfaces (export, mail, artifact proxy). Commands consume App and
// never construct components themselves.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"google.golang.org/genai"

	"github.com/surgutroads/roadwatch/internal/artifact"
	"github.com/surgutroads/roadwatch/internal/bridge"
	"github.com/surgutroads/roadwatch/internal/chat"
	"github.com/surgutroads/roadwatch/internal/config"
	"github.com/surgutroads/roadwatch/internal/export"
	"github.com/surgutroads/roadwatch/internal/log"
	"github.com/surgutroads/roadwatch/internal/notify"
	"github.com/surgutroads/roadwatch/internal/observability"
	"github.com/surgutroads/roadwatch/internal/provider"
	"github.com/surgutroads/roadwatch/internal/session"
)

// App is the assembled application.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit    *genkit.Genkit
	Store     *session.Store
	Manager   *provider.Manager
	Bridge    *bridge.Bridge
	Chat      *chat.Chat
	Artifacts *artifact.Client
	Exporter  *export.Exporter
	Mailer    *notify.Mailer

	traceShutdown func(context.Context) error
}

// Setup builds the full object graph. Tracing comes first so Genkit's
// tracer provider is already wired when the first span starts.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.Tracing.Enabled {
		shutdown, err := observability.Setup(ctx, cfg.Tracing, logger)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		a.traceShutdown = shutdown
	}

	g, err := initGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	store, err := session.Open(cfg.StoragePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	a.Store = store

	a.Manager = provider.New(provider.Config{
		MCP:    cfg.MCP,
		Logger: logger,
	})
	a.Bridge = bridge.New(bridge.Config{
		Manager: a.Manager,
		Logger:  logger,
	})

	c, err := chat.New(chat.Config{
		Genkit:        g,
		Bridge:        a.Bridge,
		Sessions:      store,
		Logger:        logger,
		ModelName:     qualifiedModelName(cfg),
		MaxToolRounds: cfg.MaxToolRounds,
		ModelConfig:   modelConfig(cfg),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Chat = c

	a.Artifacts = artifact.NewClient(cfg.PlotsBase(), logger)
	a.Exporter = export.New(a.Artifacts, logger)
	a.Mailer = notify.New(cfg.SMTP, logger)

	logger.Info("application ready",
		"provider", cfg.Provider,
		"model", cfg.ModelName,
		"capability_server", cfg.MCP.Endpoint,
	)
	return a, nil
}

// Close releases resources in reverse construction order.
func (a *App) Close() error {
	var errs []error
	if a.Manager != nil {
		if err := a.Manager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing capability connection: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session store: %w", err))
		}
	}
	if a.traceShutdown != nil {
		if err := a.traceShutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("flushing traces: %w", err))
		}
	}
	return errors.Join(errs...)
}

// initGenkit starts Genkit with the configured provider plugin.
// Credentials come from the provider's standard environment variables
// (OPENAI_API_KEY, GEMINI_API_KEY).
func initGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit
	switch cfg.Provider {
	case config.ProviderGoogleAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	default:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
	}
	if g == nil {
		return nil, fmt.Errorf("initializing genkit with %s provider", cfg.Provider)
	}
	logger.Debug("genkit initialized", "provider", cfg.Provider)
	return g, nil
}

// qualifiedModelName prefixes the configured model with its plugin
// namespace when the config carries a bare name.
func qualifiedModelName(cfg *config.Config) string {
	if strings.Contains(cfg.ModelName, "/") {
		return cfg.ModelName
	}
	switch cfg.Provider {
	case config.ProviderGoogleAI:
		return "googleai/" + cfg.ModelName
	default:
		return "openai/" + cfg.ModelName
	}
}

// modelConfig returns provider-native generation settings. Factual
// road reports want low temperature; the rest stays at provider
// defaults.
func modelConfig(cfg *config.Config) any {
	switch cfg.Provider {
	case config.ProviderGoogleAI:
		return &genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](0.2),
		}
	default:
		return nil
	}
}
