package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/surgutroads/roadwatch/internal/app"
	"github.com/surgutroads/roadwatch/internal/config"
	"github.com/surgutroads/roadwatch/internal/web"
)

var serveAddrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddrFlag, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	srv := web.NewServer(web.Config{
		Chat:        a.Chat,
		Store:       a.Store,
		Artifacts:   a.Artifacts,
		Exporter:    a.Exporter,
		Mailer:      a.Mailer,
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	addr := serveAddrFlag
	if addr == "" {
		addr = cfg.Server.Addr
	}

	logger.Info("starting HTTP server", "version", AppVersion, "addr", addr)
	return srv.Run(ctx, addr)
}
