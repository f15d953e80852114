package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/bodega/internal/ux"
	"github.com/felixgeelhaar/bodega/internal/version"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print version information including version number, git commit,
build date, Go version, and platform.`,
		Args: cobra.NoArgs,
		RunE: runVersion,
	}
	cmd.Flags().Bool("short", false, "print the version number only")
	return cmd
}

func runVersion(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	info := version.GetInfo()

	if short, _ := cmd.Flags().GetBool("short"); short && cc.Format == "text" {
		return cc.Output(cmd, info.Version)
	}

	return cc.Output(cmd, ux.Report{
		Data: info,
		Text: ux.Fields{
			{Label: "Version", Value: info.Version},
			{Label: "Commit", Value: info.Commit},
			{Label: "Built", Value: info.Date},
			{Label: "Go", Value: info.GoVersion},
			{Label: "Platform", Value: info.Platform},
		},
	})
}
