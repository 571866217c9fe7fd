package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/HendryAvila/specgate/internal/metrics"
	"github.com/HendryAvila/specgate/internal/printer"
	"github.com/HendryAvila/specgate/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio transport)",
	Long: `Start the specgate MCP server on stdin/stdout.

Logs go to stderr. When metrics.addr (or --metrics-addr) is set, Prometheus metrics are
served on http://<addr>/metrics for the lifetime of the server.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var metricsAddr string

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *server.App, p *printer.Printer) error {
		cfg := app.Config
		if metricsAddr != "" {
			cfg.Metrics.Addr = metricsAddr
		}
		if cfg.Metrics.Addr != "" {
			ms := startMetrics(cfg.Metrics.Addr, app.Metrics)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = ms.Shutdown(shutdownCtx)
			}()
		}

		slog.Info("Serving MCP over stdio", "version", server.Version, "data_dir", cfg.DataDir)
		return mcpserver.ServeStdio(app.MCP)
	})
}

// startMetrics serves m in the background.
func startMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	return srv
}
