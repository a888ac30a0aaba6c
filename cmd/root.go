// Package cmd implements the roadwatch command line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/surgutroads/roadwatch/internal/log"
)

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:   "roadwatch",
	Short: "Дорожный ассистент Сургута",
	Long: `roadwatch обслуживает чат-ассистента по дорожной обстановке Сургута:
HTTP API с потоковыми ответами, подключение к серверу дорожных данных,
локальное хранилище диалогов и экспорт в PDF.

Запуск без аргументов поднимает HTTP-сервер.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
}

// newLogger builds the process logger. Debug level comes from the
// --debug flag or the DEBUG environment variable.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if debugFlag || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}
