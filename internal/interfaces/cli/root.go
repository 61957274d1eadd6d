package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"kilometers.ai/pluginhost/internal/interfaces/di"
)

var (
	Version   = "dev"     // Overridden by ldflags
	BuildTime = "unknown" // Overridden by ldflags
)

// CLIContainer holds the dependencies shared by CLI commands. The DI
// container is built lazily so that global flags apply to it.
type CLIContainer struct {
	Options di.Options
	Output  string
	Out     io.Writer

	container *di.Container
	build     func(di.Options) (*di.Container, error)
}

// NewCLIContainer creates a CLI container writing to out
func NewCLIContainer(out io.Writer) *CLIContainer {
	return &CLIContainer{Out: out, Output: outputText, build: di.NewContainer}
}

// Container returns the DI container, building it on first use
func (c *CLIContainer) Container() (*di.Container, error) {
	if c.container != nil {
		return c.container, nil
	}
	container, err := c.build(c.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	c.container = container
	return container, nil
}

// Shutdown releases the DI container if it was built
func (c *CLIContainer) Shutdown(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	return c.container.Shutdown(ctx)
}

// NewRootCommand RootCommand represents the base command when called without any subcommands
func NewRootCommand(container *CLIContainer) *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:   "km-pluginhost",
		Short: "Plugin preload and transformer registration host",
		Long: `km-pluginhost loads the plugins listed in a plugin catalog.

App plugins flagged for preloading are fetched concurrently and the extensions
they declare are collected; a plugin that fails to load never fails the batch.
Transformer plugins are fetched and their transformers registered into the
process-wide transformer registry.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validateOutput(container.Output)
		},
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}}\nBuild time: %s\nGo version: %s\nPlatform: %s/%s\n",
		BuildTime, goVersion(), runtime.GOOS, runtime.GOARCH))
	rootCmd.SetOut(container.Out)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&container.Options.ConfigPath, "config", "", "Config file path (YAML)")
	flags.StringVar(&container.Options.PluginsBaseURL, "plugins-url", "", "Plugin server base URL")
	flags.StringVar(&container.Options.PluginsDir, "plugins-dir", "", "Local plugins directory")
	flags.StringVar(&container.Options.CatalogPath, "catalog", "", "Plugin catalog file (YAML or JSON)")
	flags.StringVar(&container.Options.CatalogURL, "catalog-url", "", "Plugin catalog URL")
	flags.StringVar(&container.Options.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVarP(&container.Output, "output", "o", outputText, "Output format (text, json)")

	rootCmd.AddCommand(NewPreloadCommand(container))
	rootCmd.AddCommand(NewTransformersCommand(container))
	rootCmd.AddCommand(NewServeCommand(container))
	rootCmd.AddCommand(NewDashboardCommand(container))
	rootCmd.AddCommand(NewConfigCommand(container))
	rootCmd.AddCommand(NewVersionCommand(container))

	return rootCmd
}

// goVersion returns the Go version used to build the binary
func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}

// NewVersionCommand creates the version command
func NewVersionCommand(container *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{
				"version":    Version,
				"build_time": BuildTime,
				"go_version": goVersion(),
				"platform":   runtime.GOOS + "/" + runtime.GOARCH,
			}
			if container.Output == outputJSON {
				return writeJSON(container.Out, info)
			}
			fmt.Fprintf(container.Out, "km-pluginhost version %s\nBuild time: %s\nGo version: %s\nPlatform: %s\n",
				info["version"], info["build_time"], info["go_version"], info["platform"])
			return nil
		},
	}
}

// Execute adds all child commands to the root command and runs it
func Execute(ctx context.Context, args []string) int {
	container := NewCLIContainer(os.Stdout)
	defer container.Shutdown(context.Background())

	rootCmd := NewRootCommand(container)
	rootCmd.SetArgs(args)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
