package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/bodega/internal/api"
	"github.com/felixgeelhaar/bodega/internal/errors"
	"github.com/felixgeelhaar/bodega/internal/poller"
	"github.com/felixgeelhaar/bodega/internal/router"
	"github.com/felixgeelhaar/bodega/internal/ux"
)

func newMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show the admin metrics snapshot",
		Long: `Fetch the metrics the backend aggregates for super admins.

The aggregation runs asynchronously on the server. While it is still
computing, bodega retries at the configured poll_interval (30s by default)
until a complete snapshot is available.

With --watch the snapshot is refreshed every poll_interval until
interrupted.

Examples:
  bodega metrics
  bodega metrics --format json
  bodega metrics --watch`,
		Args: cobra.NoArgs,
		RunE: withRuntime(runtimeOptions{}, runMetrics),
	}

	cmd.Flags().Bool("watch", false, "keep refreshing until interrupted")
	return cmd
}

type metricsReport struct {
	AsOfDate   string             `json:"as_of_date,omitempty" yaml:"as_of_date,omitempty"`
	Aggregates map[string]float64 `json:"aggregates" yaml:"aggregates"`
	Fetches    int                `json:"fetches" yaml:"fetches"`
	FetchedAt  time.Time          `json:"fetched_at" yaml:"fetched_at"`
}

func newMetricsReport(u poller.Update, at time.Time) ux.Report {
	r := metricsReport{
		Aggregates: map[string]float64{},
		Fetches:    u.Fetches,
		FetchedAt:  at,
	}
	var fields ux.Fields
	if snap := u.Snapshot; snap != nil {
		r.AsOfDate = snap.AsOfDate
		r.Aggregates = snap.Aggregates
		if snap.AsOfDate != "" {
			fields = append(fields, ux.Field{Label: "As of", Value: snap.AsOfDate})
		}
		for _, name := range snap.Names() {
			fields = append(fields, ux.Field{Label: name, Value: api.FormatAggregate(snap.Aggregates[name])})
		}
	}

	report := ux.Report{Data: r, Text: fields}
	if len(fields) == 0 {
		report.Message = "The backend has no metrics yet."
	}
	return report
}

// requireDashboard mounts the session and checks it may see the metrics
func requireDashboard(rt *runtime) error {
	if err := rt.session.Mount(rt.ctx); err != nil {
		return err
	}

	snap := rt.session.Snapshot()
	switch router.Route(snap) {
	case router.ViewAdminDashboard:
		return nil
	case router.ViewLanding:
		return errors.NewNotAuthenticatedError()
	default:
		return errors.NewValidationError(http.StatusForbidden,
			fmt.Sprintf("the metrics dashboard needs the SuperAdmin role; this session is %s", snap.Role))
	}
}

func runMetrics(cmd *cobra.Command, args []string, cc *CommandContext, rt *runtime) error {
	if err := requireDashboard(rt); err != nil {
		return err
	}
	watch, _ := cmd.Flags().GetBool("watch")

	progress := cmd.ErrOrStderr()
	p, err := poller.New(rt.client,
		poller.WithInterval(rt.cfg.PollInterval),
		poller.WithLogger(rt.logger),
		poller.WithMetrics(rt.metrics),
		poller.OnUpdate(func(u poller.Update) {
			if u.State == poller.StateAwaitingRetry {
				fmt.Fprintf(progress, "Metrics are still being computed, checking again in %s\n", rt.cfg.PollInterval)
			}
		}),
	)
	if err != nil {
		return err
	}
	defer p.Stop()

	p.Start(rt.ctx)
	for {
		u, err := p.Wait(rt.ctx)
		if err != nil {
			if watch && rt.ctx.Err() != nil {
				return nil
			}
			return err
		}

		if u.State == poller.StateError {
			if !watch || errors.CodeOf(u.Err) == errors.ErrCodeAuthExpired {
				return u.Err
			}
			fmt.Fprintln(progress, ux.Render(u.Err, cc.NoColor))
		} else if err := cc.Output(cmd, newMetricsReport(u, time.Now())); err != nil {
			return err
		}

		if !watch {
			return nil
		}

		t := time.NewTimer(rt.cfg.PollInterval)
		select {
		case <-rt.ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		p.Refresh()
	}
}
