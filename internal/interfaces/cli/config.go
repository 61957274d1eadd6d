package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kilometers.ai/pluginhost/internal/interfaces/di"
)

// NewConfigCommand creates the config command
func NewConfigCommand(container *CLIContainer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the host configuration file",
	}

	cmd.AddCommand(newConfigInitCommand(container))
	return cmd
}

func newConfigInitCommand(container *CLIContainer) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write the effective configuration to a YAML file",
		Long: `Write the configuration the host would run with (defaults, --config file,
PLUGINHOST_* environment variables and command-line flags) to a YAML file.

Examples:
  km-pluginhost config init pluginhost.yaml
  km-pluginhost config init pluginhost.yaml --plugins-url https://grafana.example.com/public`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			config, err := di.LoadConfig(container.Options)
			if err != nil {
				return err
			}
			if err := config.SaveToFile(path); err != nil {
				return err
			}

			if container.Output == outputJSON {
				return writeJSON(container.Out, map[string]string{"path": path})
			}
			fmt.Fprintf(container.Out, "%s Configuration written to %s\n", okStyle.Render("✓"), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
