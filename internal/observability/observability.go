// Package observability wires OTLP trace export into Genkit's tracer.
//
// Traces are shipped to a local collector agent over OTLP HTTP. The
// agent buffers and forwards them, so the application never needs
// backend credentials. Export is best-effort: if the exporter cannot
// be constructed, tracing is disabled and the application runs on.
package observability

import (
	"context"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/surgutroads/roadwatch/internal/config"
	"github.com/surgutroads/roadwatch/internal/log"
)

// DefaultAgentHost is the default local OTLP HTTP endpoint.
const DefaultAgentHost = "localhost:4318"

// Setup registers an OTLP span processor with Genkit's TracerProvider
// and returns a shutdown function that flushes pending spans. When the
// exporter cannot be created the returned shutdown is a no-op and err
// is nil; a degraded trace pipeline must not take the service down.
func Setup(ctx context.Context, cfg config.TracingConfig, logger log.Logger) (func(context.Context) error, error) {
	agentHost := cfg.AgentHost
	if agentHost == "" {
		agentHost = DefaultAgentHost
	}

	// Genkit builds the TracerProvider resource from the OTEL
	// environment, so identity has to go in before the first span.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(agentHost),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("trace exporter unavailable, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled",
		"agent", agentHost,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return tracing.TracerProvider().Shutdown, nil
}
