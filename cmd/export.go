package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/surgutroads/roadwatch/internal/artifact"
	"github.com/surgutroads/roadwatch/internal/config"
	"github.com/surgutroads/roadwatch/internal/export"
	"github.com/surgutroads/roadwatch/internal/log"
	"github.com/surgutroads/roadwatch/internal/session"
)

var (
	exportFormatFlag string
	exportOutputFlag string
)

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a conversation to PDF or plain text",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFormatFlag, "format", "pdf", "export format: pdf or text")
	exportCmd.Flags().StringVarP(&exportOutputFlag, "output", "o", "", "output file (default <session-id>.<ext>)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := session.Open(cfg.StoragePath, log.NewNop())
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	var data []byte
	var ext string
	switch exportFormatFlag {
	case "pdf":
		exporter := export.New(artifact.NewClient(cfg.PlotsBase(), logger), logger)
		data, err = exporter.RenderPDF(ctx, sess)
		if err != nil {
			return fmt.Errorf("rendering PDF: %w", err)
		}
		ext = "pdf"
	case "text":
		data = []byte(export.Transcript(sess))
		ext = "txt"
	default:
		return fmt.Errorf("unknown format %q (expected pdf or text)", exportFormatFlag)
	}

	out := exportOutputFlag
	if out == "" {
		out = fmt.Sprintf("%s.%s", sess.ID, ext)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Экспортировано в %s\n", out)
	return nil
}
