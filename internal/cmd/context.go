package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/bodega/internal/ux"
)

// CommandContext holds the persistent flags of one invocation. Commands
// build it in RunE instead of reading package globals, so tests can run
// commands side by side.
type CommandContext struct {
	// Output control
	Verbose bool
	Format  string
	NoColor bool

	// Configuration overrides
	ConfigPath string
	APIURL     string
	LogLevel   string
	Ephemeral  bool
}

// NewCommandContext extracts command context from cobra.Command flags
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	flags := cmd.Flags()

	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return nil, err
	}
	format, err := flags.GetString("format")
	if err != nil {
		return nil, err
	}
	noColor, err := flags.GetBool("no-color")
	if err != nil {
		return nil, err
	}
	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	apiURL, err := flags.GetString("api-url")
	if err != nil {
		return nil, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return nil, err
	}
	ephemeral, err := flags.GetBool("ephemeral")
	if err != nil {
		return nil, err
	}

	if !slices.Contains(ux.Formats, format) {
		return nil, fmt.Errorf("invalid argument %q for --format: must be one of %s", format, strings.Join(ux.Formats, ", "))
	}

	return &CommandContext{
		Verbose:    verbose,
		Format:     format,
		NoColor:    noColor,
		ConfigPath: configPath,
		APIURL:     apiURL,
		LogLevel:   logLevel,
		Ephemeral:  ephemeral,
	}, nil
}

// Output writes v to the command's stdout in the selected format
func (c *CommandContext) Output(cmd *cobra.Command, v interface{}) error {
	formatter, err := ux.NewFormatter(c.Format, &ux.FormatterOptions{
		Writer:  cmd.OutOrStdout(),
		NoColor: c.NoColor,
	})
	if err != nil {
		return err
	}
	return formatter.Format(v)
}
