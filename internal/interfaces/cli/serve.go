package cli

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"kilometers.ai/pluginhost/internal/interfaces/httpapi"
)

// NewServeCommand creates the serve command
func NewServeCommand(container *CLIContainer) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load plugins and serve their state over HTTP",
		Long: `Load the catalog's plugins and keep them available over HTTP.

Endpoints:
  GET  /api/plugins/preload   preload results of the latest load
  GET  /api/transformers      registered transformers
  GET  /api/status            host snapshot
  POST /api/reload            reload the catalog and load new plugins
  GET  /metrics               Prometheus metrics
  GET  /live, /ready          health checks

When catalog.watch is enabled the catalog file is reloaded whenever it changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := container.Container()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = c.Config.Server.Addr
			}

			ctx := cmd.Context()
			if _, err := c.Host.Reload(ctx); err != nil {
				// /ready reports the failure until a reload succeeds
				c.Logger.LogError(err, "[Serve] Initial plugin load failed", nil)
			}

			watcher, err := c.NewCatalogWatcher()
			if err != nil {
				return err
			}

			server := httpapi.NewServer(addr, httpapi.NewHandler(c.Host, c.Metrics, c.Logger), c.Logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.Run(gctx)
			})
			if watcher != nil {
				g.Go(func() error {
					defer watcher.Stop()
					watcher.Run(gctx, func(ctx context.Context) {
						if _, err := c.Host.Reload(ctx); err != nil {
							c.Logger.LogError(err, "[Serve] Catalog reload failed", nil)
						}
					})
					return nil
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	return cmd
}
