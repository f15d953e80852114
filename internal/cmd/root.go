package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/bodega/internal/config"
	"github.com/felixgeelhaar/bodega/internal/version"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bodega",
		Short: "Terminal client for the Bodega inventory backend",
		Long: `bodega is a terminal client for the Bodega inventory backend.

It keeps your session between runs, shows the view your role allows
(inventory for users and admins, the metrics dashboard for super admins)
and gives scripted access to every backend endpoint.

Configuration is read from ~/.bodega/config.yaml, then BODEGA_* environment
variables, then the flags below.`,
		Version:       version.GetInfo().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default "+config.DefaultPath()+")")
	flags.String("api-url", "", "backend base URL (overrides api_url)")
	flags.StringP("format", "f", "text", "output format: text, json or yaml")
	flags.BoolP("verbose", "v", false, "log debug output to stderr")
	flags.Bool("no-color", false, "disable colored output")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.Bool("ephemeral", false, "keep the credential in memory only")

	root.AddCommand(
		newAuthCmd(),
		newMetricsCmd(),
		newAPICmd(),
		newUICmd(),
		newDoctorCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which is cancelled on
// interrupt
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
