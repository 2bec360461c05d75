package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"leetpanel/internal/backend"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// SESSION COMMANDS
// =============================================================================

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the chat session",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create [username]",
	Short: "Start a chat session and register the current problem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			bootstrapQuietly(ctx, a)
			if err := a.machine.CreateSession(ctx, args[0]); err != nil {
				return userError(err)
			}
			printState(os.Stdout, a.machine.Snapshot())
			return nil
		})
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the chat session (locally even if the backend is unreachable)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			bootstrapQuietly(ctx, a)
			if err := a.machine.ResetSession(ctx); err != nil {
				logger.Warn("Remote delete failed", zap.Error(err))
			}
			fmt.Println(a.machine.Snapshot().Status)
			return nil
		})
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored session and its registered problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			sess, err := a.sessions.Load(ctx)
			if err != nil {
				return err
			}
			if sess == nil {
				fmt.Println("No session. Run 'leetpanel session create <username>'.")
				return nil
			}
			fmt.Printf("Session:  %s\n", sess.SessionID)
			fmt.Printf("Username: %s\n", sess.Username)

			m, err := a.sessions.Initialized(ctx)
			if err != nil {
				return err
			}
			numbers := make([]int, 0, len(m[sess.SessionID]))
			for n := range m[sess.SessionID] {
				numbers = append(numbers, n)
			}
			sort.Ints(numbers)
			if len(numbers) == 0 {
				fmt.Println("Problems: none registered")
				return nil
			}
			parts := make([]string, len(numbers))
			for i, n := range numbers {
				parts[i] = fmt.Sprintf("%d (%s)", n, m[sess.SessionID][n].Format("2006-01-02 15:04"))
			}
			fmt.Printf("Problems: %s\n", strings.Join(parts, ", "))
			return nil
		})
	},
}

// bootstrapQuietly loads the session and detects the question. A detection
// failure is not fatal for session commands.
func bootstrapQuietly(ctx context.Context, a *app) {
	if err := a.machine.Bootstrap(ctx); err != nil {
		logger.Debug("Detection failed", zap.Error(err))
	}
}

// userError replaces backend errors with their status text.
func userError(err error) error {
	var rej *backend.RejectionError
	var netErr *backend.NetworkError
	if errors.Is(err, backend.ErrAuthMissing) || errors.As(err, &rej) || errors.As(err, &netErr) {
		return errors.New(backend.UserMessage(err))
	}
	return err
}
