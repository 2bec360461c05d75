package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"leetpanel/internal/reconcile"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// statusCmd detects once and prints the state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Detect the problem on the active tab and print the panel state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.machine.Bootstrap(ctx); err != nil {
				logger.Debug("Bootstrap finished with error", zap.Error(err))
			}
			printState(os.Stdout, a.machine.Snapshot())
			return nil
		})
	},
}

// watchCmd runs detection headless until interrupted
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the active tab and log every state change",
	Long: `Runs the same detection loop as the panel without a UI. Every committed
change is logged; press Ctrl+C to stop.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	var last reconcile.State
	a.machine.Subscribe(func(s reconcile.State) {
		if s.Phase() != last.Phase() || s.Question != last.Question || pendingNumber(s) != pendingNumber(last) {
			logger.Info("State changed",
				zap.Stringer("phase", s.Phase()),
				zap.String("question", s.Question.Label()),
				zap.Int("pending", pendingNumber(s)),
				zap.String("status", s.Status))
		}
		last = s
	})

	if err := a.machine.Bootstrap(ctx); err != nil {
		logger.Info("Initial detection failed", zap.Error(err))
	}

	poller := reconcile.NewPoller(a.machine, a.observer, cfg.GetPollInterval())
	logger.Info("Watching", zap.Duration("interval", cfg.GetPollInterval()))
	return poller.Run(ctx)
}

func pendingNumber(s reconcile.State) int {
	if s.Pending == nil {
		return 0
	}
	return s.Pending.Number
}

// printState writes a human-readable summary of s.
func printState(w io.Writer, s reconcile.State) {
	fmt.Fprintf(w, "Phase:    %s\n", s.Phase())
	if s.TabURL != "" {
		fmt.Fprintf(w, "Tab:      %s\n", s.TabURL)
	}
	fmt.Fprintf(w, "Question: %s\n", s.Question.Label())
	if s.Pending != nil {
		fmt.Fprintf(w, "Pending:  %d. %s (run 'leetpanel reload' to switch)\n", s.Pending.Number, s.Pending.Title)
	}
	if s.Session != nil {
		fmt.Fprintf(w, "Session:  %s (%s)\n", s.Session.SessionID, s.Session.Username)
	} else {
		fmt.Fprintln(w, "Session:  none")
	}
	if s.Status != "" {
		fmt.Fprintf(w, "Status:   %s\n", s.Status)
	}
}
