package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"leetpanel/cmd/leetpanel/ui"
	"leetpanel/internal/config"
	"leetpanel/internal/logging"
	"leetpanel/internal/reconcile"

	"github.com/spf13/cobra"
)

// runPanel starts the interactive panel (the root command).
func runPanel(cmd *cobra.Command, args []string) error {
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

	// Log level follows edits to the config file while the panel runs.
	go func() {
		err := config.Watch(ctx, configPath, func(c *config.Config) {
			logging.SetLevel(c.Logging.Level)
			logging.Boot("Config reloaded (log level %s)", c.Logging.Level)
		})
		if err != nil {
			logging.BootWarn("Config watch stopped: %v", err)
		}
	}()

	poller := reconcile.NewPoller(a.machine, a.observer, cfg.GetPollInterval())
	return ui.Run(ctx, a.machine, a.transcript, poller, ui.Config{
		Theme:    cfg.UI.Theme,
		WordWrap: cfg.UI.WordWrap,
		Username: cfg.UI.Username,
	})
}
