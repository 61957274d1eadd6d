package cli

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"kilometers.ai/pluginhost/internal/core/domain"
	"kilometers.ai/pluginhost/internal/interfaces/httpapi"
)

// NewTransformersCommand creates the transformers command
func NewTransformersCommand(container *CLIContainer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transformers",
		Short: "Load transformer plugins",
	}

	cmd.AddCommand(newTransformersLoadCommand(container))
	return cmd
}

// transformerLoadOutput is the JSON output of transformers load
type transformerLoadOutput struct {
	Loaded       []string                  `json:"loaded"`
	Registered   int                       `json:"registered"`
	Failed       map[string]string         `json:"failed,omitempty"`
	Transformers []httpapi.TransformerView `json:"transformers"`
}

func newTransformersLoadCommand(container *CLIContainer) *cobra.Command {
	var policy string

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load the catalog's transformer plugins and list what they register",
		Long: `Fetch every transformer plugin of the catalog and register the transformers
they export into the transformer registry.

With the default abort-on-first-error policy a single failing plugin fails the
command and nothing is registered. With isolate-per-item the plugins that load
are registered and the failures are listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if policy != "" {
				if _, err := domain.ParseFailurePolicy(policy); err != nil {
					return err
				}
				container.Options.TransformerPolicy = policy
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

			summary, err := c.TransformerLoader.Load(ctx, catalog.Transformers, c.Registry)
			if err != nil {
				return fmt.Errorf("transformer plugin load failed: %w", err)
			}

			views := lo.Map(c.Registry.List(), func(item domain.TransformerRegistryItem, _ int) httpapi.TransformerView {
				return httpapi.NewTransformerView(item)
			})

			if container.Output == outputJSON {
				return writeJSON(container.Out, transformerLoadOutput{
					Loaded:       summary.Loaded,
					Registered:   summary.Registered,
					Failed:       lo.MapValues(summary.Failed, func(err error, _ string) string { return err.Error() }),
					Transformers: views,
				})
			}

			renderTransformers(container.Out, views)
			renderFailures(container.Out, summary.Failed)
			return nil
		},
	}

	cmd.Flags().StringVar(&policy, "policy", "", "Failure policy (abort-on-first-error, isolate-per-item)")
	return cmd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
