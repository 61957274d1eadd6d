package cli

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"kilometers.ai/pluginhost/internal/core/domain"
)

// PreloadFlags holds command-line flags for the preload command
type PreloadFlags struct {
	Policy      string
	FailOnError bool
}

// NewPreloadCommand creates the preload command
func NewPreloadCommand(container *CLIContainer) *cobra.Command {
	flags := &PreloadFlags{}

	cmd := &cobra.Command{
		Use:   "preload",
		Short: "Preload the app plugins flagged for preloading",
		Long: `Fetch every app plugin of the catalog that has preload set and list the
extensions each one declares.

A plugin that fails to load is reported next to the others; it does not stop
the remaining plugins from loading.

Examples:
  km-pluginhost preload --catalog catalog.yaml --plugins-dir ./plugins
  km-pluginhost preload --plugins-url https://grafana.example.com/public -o json
  km-pluginhost preload --fail-on-error`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreload(cmd, container, flags)
		},
	}

	cmd.Flags().StringVar(&flags.Policy, "policy", "", "Failure policy (isolate-per-item, abort-on-first-error)")
	cmd.Flags().BoolVar(&flags.FailOnError, "fail-on-error", false, "Exit with an error if any plugin failed to preload")

	return cmd
}

func runPreload(cmd *cobra.Command, container *CLIContainer, flags *PreloadFlags) error {
	if flags.Policy != "" {
		if _, err := domain.ParseFailurePolicy(flags.Policy); err != nil {
			return err
		}
		container.Options.PreloadPolicy = flags.Policy
	}

	c, err := container.Container()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	catalog, err := c.Catalog.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	results, err := c.Preloader.Preload(ctx, catalog.Apps)
	if err != nil {
		return fmt.Errorf("preload aborted: %w", err)
	}

	if container.Output == outputJSON {
		if err := writeJSON(container.Out, results); err != nil {
			return err
		}
	} else {
		renderPreloadResults(container.Out, results)
	}

	failed := lo.Filter(results, func(r domain.PluginPreloadResult, _ int) bool { return r.Failed() })
	if flags.FailOnError && len(failed) > 0 {
		return fmt.Errorf("%d of %d plugins failed to preload", len(failed), len(results))
	}
	return nil
}
