// Package commands implements the specgate CLI.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/specgate/internal/config"
	"github.com/HendryAvila/specgate/internal/printer"
	"github.com/HendryAvila/specgate/internal/server"
)

var (
	version string
	commit  string
	date    string

	configPath string
	jsonOutput bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "specgate",
	Short: "specgate - specification governance for AI-assisted planning",
	Long: `specgate registers technical specifications as immutable versions,
compiles approved versions into an authority of scope and invariants, and
validates every generated planning artifact against the exact version a
human accepted.

Run "specgate serve" to expose the same operations as MCP tools over stdio.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	server.Version = v
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("Config file (default $%s or ~/.specgate/config.yaml)", config.EnvPath))
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

// out returns the printer bound to cmd's streams.
func out(cmd *cobra.Command) *printer.Printer {
	return printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), jsonOutput)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, out(cmd).Error("Invalid configuration", err.Error())
	}
	return cfg, nil
}

// newLogger logs to stderr so stdout stays free for results and for the
// MCP stdio transport.
func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// withApp loads the configuration, builds the components and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *server.App, p *printer.Printer) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	slog.SetDefault(log)

	app, cleanup, err := server.Build(cfg, log)
	defer cleanup()
	if err != nil {
		return out(cmd).Error("Failed to start specgate", err.Error())
	}
	return fn(cmd.Context(), app, out(cmd))
}
