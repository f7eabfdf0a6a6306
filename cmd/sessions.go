package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/uzhavan/uzhavan/internal/config"
	"github.com/uzhavan/uzhavan/internal/log"
	"github.com/uzhavan/uzhavan/internal/session"
)

const sessionsListLimit = 100

var sessionsUser string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage stored chat sessions",
}

func init() {
	sessionsCmd.PersistentFlags().StringVar(&sessionsUser, "user", "", "owner email address (required)")
	_ = sessionsCmd.MarkPersistentFlagRequired("user")

	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the owner's sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(runSessionsList)
		},
	})
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(func(ctx context.Context, store *session.Store, owner string) error {
				return runSessionsShow(ctx, store, owner, args[0])
			})
		},
	})
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(func(ctx context.Context, store *session.Store, owner string) error {
				return runSessionsDelete(ctx, store, owner, args[0])
			})
		},
	})
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete all of the owner's sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(runSessionsClear)
		},
	})

	rootCmd.AddCommand(sessionsCmd)
}

// withSessionStore opens a database pool, builds a session store, and runs
// fn with the validated owner identity.
func withSessionStore(fn func(ctx context.Context, store *session.Store, owner string) error) error {
	if _, err := mail.ParseAddress(sessionsUser); err != nil {
		return fmt.Errorf("invalid --user email address: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	store := session.NewStore(pool, log.NewNop())
	return fn(ctx, store, sessionsUser)
}

func runSessionsList(ctx context.Context, store *session.Store, owner string) error {
	summaries, err := store.ListByOwner(ctx, owner, sessionsListLimit)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	if len(summaries) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	for _, s := range summaries {
		fmt.Printf("%s  %-50s  %3d messages  updated %s\n",
			s.ID, s.Title, s.MessageCount, formatTime(s.UpdatedAt))
	}
	return nil
}

func runSessionsShow(ctx context.Context, store *session.Store, owner, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid session ID: %s", rawID)
	}

	sess, err := store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("session %s not found", id)
		}
		return fmt.Errorf("loading session: %w", err)
	}
	if sess.OwnerID != owner {
		return fmt.Errorf("session %s belongs to another user", id)
	}

	msgs, err := store.Messages(ctx, id)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	fmt.Printf("Session: %s\n", sess.ID)
	fmt.Printf("Title:   %s\n", sess.Title)
	fmt.Printf("Created: %s\n", formatTime(sess.CreatedAt))
	fmt.Printf("Updated: %s\n", formatTime(sess.UpdatedAt))
	fmt.Printf("Messages: %d\n\n", len(msgs))

	for _, m := range msgs {
		label := "You"
		if m.Sender == session.SenderAI {
			label = "Uzhavan"
		}
		fmt.Printf("%s> %s\n\n", label, m.Content)
	}
	return nil
}

func runSessionsDelete(ctx context.Context, store *session.Store, owner, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid session ID: %s", rawID)
	}

	switch err := store.Delete(ctx, id, owner); {
	case err == nil:
		fmt.Printf("Deleted session %s\n", id)
		return nil
	case errors.Is(err, session.ErrNotFound):
		return fmt.Errorf("session %s not found", id)
	case errors.Is(err, session.ErrUnauthorized):
		return fmt.Errorf("session %s belongs to another user", id)
	default:
		return fmt.Errorf("deleting session: %w", err)
	}
}

func runSessionsClear(ctx context.Context, store *session.Store, owner string) error {
	deleted, err := store.ClearForOwner(ctx, owner)
	if err != nil {
		return fmt.Errorf("clearing sessions: %w", err)
	}
	fmt.Printf("Deleted %d sessions\n", deleted)
	return nil
}

// formatTime renders a timestamp relative to now for recent times.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02 15:04")
	}
}
