package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/bodega/internal/credential"
	"github.com/felixgeelhaar/bodega/internal/poller"
	"github.com/felixgeelhaar/bodega/internal/tui"
)

func newUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Open the interactive terminal UI",
		Long: `Open the full-screen client. It starts on the loading screen while the
stored credential is checked, then shows the view your role allows: the
landing screen with login and registration when logged out, the inventory
view for users and admins, or the metrics dashboard for super admins.

Logs go to the configured log file (~/.bodega/bodega.log by default) while
the UI owns the terminal. A login or logout in another terminal is picked up
immediately when the credential lives in a file.`,
		Args: cobra.NoArgs,
		RunE: withRuntime(runtimeOptions{logToFile: true}, runUI),
	}
}

func runUI(cmd *cobra.Command, args []string, cc *CommandContext, rt *runtime) error {
	ctx, cancel := context.WithCancel(rt.ctx)
	defer cancel()

	if w, ok := rt.store.(credential.Watcher); ok {
		if err := rt.session.Watch(ctx, w); err != nil {
			rt.logger.WithError(err).Warn("Not watching the credential store for changes")
		}
	}

	return tui.Run(ctx, tui.Options{
		Session: rt.session,
		NewPoller: func(onUpdate func(poller.Update)) (*poller.Poller, error) {
			return poller.New(rt.client,
				poller.WithInterval(rt.cfg.PollInterval),
				poller.WithLogger(rt.logger),
				poller.WithMetrics(rt.metrics),
				poller.OnUpdate(onUpdate),
			)
		},
		Logger:  rt.logger,
		BaseURL: rt.client.BaseURL(),
	})
}
