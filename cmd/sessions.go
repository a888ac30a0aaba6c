package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/surgutroads/roadwatch/internal/config"
	"github.com/surgutroads/roadwatch/internal/log"
	"github.com/surgutroads/roadwatch/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored conversations",
}

func init() {
	sessionsCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored conversations",
			RunE:  withStore(runSessionsList),
		},
		&cobra.Command{
			Use:   "show <session-id>",
			Short: "Print one conversation",
			Args:  cobra.ExactArgs(1),
			RunE:  withStore(runSessionsShow),
		},
		&cobra.Command{
			Use:   "delete <session-id>",
			Short: "Delete one conversation",
			Args:  cobra.ExactArgs(1),
			RunE:  withStore(runSessionsDelete),
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete all conversations",
			RunE:  withStore(runSessionsClear),
		},
	)
	rootCmd.AddCommand(sessionsCmd)
}

// withStore opens the session store for one command invocation.
// Commands operating on stored history never touch the AI provider or
// the capability server.
func withStore(run func(*cobra.Command, []string, *session.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		store, err := session.Open(cfg.StoragePath, log.NewNop())
		if err != nil {
			return fmt.Errorf("opening session store: %w", err)
		}
		defer store.Close()
		return run(cmd, args, store)
	}
}

func runSessionsList(cmd *cobra.Command, _ []string, store *session.Store) error {
	sessions, err := store.List(context.Background())
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Нет сохранённых диалогов.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tЗАГОЛОВОК\tСООБЩЕНИЙ\tСОЗДАН")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			s.ID, s.Title, len(s.Messages), s.CreatedAt.Format(time.DateTime))
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string, store *session.Store) error {
	sess, err := store.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "ID: %s\n", sess.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "Заголовок: %s\n", sess.Title)
	fmt.Fprintf(cmd.OutOrStdout(), "Создан: %s\n", sess.CreatedAt.Format(time.DateTime))
	fmt.Fprintf(cmd.OutOrStdout(), "Сообщений: %d\n\n", len(sess.Messages))

	for _, m := range sess.Messages {
		label := "Ассистент"
		if m.Role == session.RoleUser {
			label = "Вы"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n\n", label, m.Text())
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string, store *session.Store) error {
	if err := store.Delete(context.Background(), args[0]); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Диалог %s удалён.\n", args[0])
	return nil
}

func runSessionsClear(cmd *cobra.Command, _ []string, store *session.Store) error {
	if err := store.ClearAll(context.Background()); err != nil {
		return fmt.Errorf("clearing sessions: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Все диалоги удалены.")
	return nil
}
