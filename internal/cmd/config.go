package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/bodega/internal/config"
	"github.com/felixgeelhaar/bodega/internal/ux"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or edit bodega configuration",
		Long: `Manage the configuration stored at ~/.bodega/config.yaml

Values are resolved in order: built-in defaults, the config file, BODEGA_*
environment variables, then command-line flags. The sealed credential key
is read from BODEGA_CREDENTIAL_KEY only and never written to the file.

Examples:
  # View the effective configuration
  bodega config view

  # Get a specific value
  bodega config get credentials.backend

  # Write the defaults to the config file
  bodega config init

  # Edit configuration in $EDITOR
  bodega config edit

  # Show configuration file path
  bodega config path
`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "view",
			Short: "Display the effective configuration",
			Args:  cobra.NoArgs,
			RunE:  runConfigView,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show configuration file path",
			Args:  cobra.NoArgs,
			RunE:  runConfigPath,
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Get a specific configuration value",
			Long:  `Retrieve one value using dot notation (e.g. credentials.backend, log.level).`,
			Args:  cobra.ExactArgs(1),
			RunE:  runConfigGet,
		},
		&cobra.Command{
			Use:   "edit",
			Short: "Edit configuration in $EDITOR",
			Args:  cobra.NoArgs,
			RunE:  runConfigEdit,
		},
		newConfigInitCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func configPath(cc *CommandContext) string {
	if cc.ConfigPath != "" {
		return cc.ConfigPath
	}
	return config.DefaultPath()
}

// configDocument renders cfg as the generic document users write, so
// durations read "30s" in every output format
func configDocument(cfg *config.Config) (map[string]interface{}, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to read back config: %w", err)
	}
	return doc, nil
}

func runConfigView(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cc)
	if err != nil {
		return err
	}

	doc, err := configDocument(cfg)
	if err != nil {
		return err
	}
	if cc.Format != "text" {
		return cc.Output(cmd, doc)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	return cc.Output(cmd, ux.Report{
		Data:    map[string]string{"path": configPath(cc)},
		Message: configPath(cc),
	})
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cc)
	if err != nil {
		return err
	}

	doc, err := configDocument(cfg)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	value := gjson.GetBytes(data, args[0])
	if !value.Exists() {
		return fmt.Errorf("invalid argument: unknown configuration key %q", args[0])
	}
	if cc.Format == "text" && !value.IsObject() && !value.IsArray() {
		return cc.Output(cmd, value.String())
	}
	return cc.Output(cmd, json.RawMessage(value.Raw))
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	path := configPath(cc)

	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return ux.NewErrorWithSuggestion(
			fmt.Errorf("%s already exists", path),
			"Use --force to overwrite it, or 'bodega config edit' to change it",
		)
	}

	if err := config.Default().Save(path); err != nil {
		return err
	}
	return cc.Output(cmd, ux.Report{
		Data:    map[string]string{"path": path},
		Message: "✓ Wrote " + path,
	})
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	path := configPath(cc)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Default().Save(path); err != nil {
			return err
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	editorCmd := exec.CommandContext(cmd.Context(), editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("failed to run editor: %w", err)
	}

	if _, err := loadConfig(cc); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: the configuration contains errors; please fix the file.")
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration updated successfully")
	return nil
}
