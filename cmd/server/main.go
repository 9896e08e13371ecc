// Package main is the entry point for the snippet-keeper server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
//  1. Read configuration (environment and .env)
//  2. Create process-wide dependencies (logger, tracer)
//  3. Start the application
//
// All actual logic lives in imported packages (internal/server,
// internal/handler, etc.).
//
// COMMANDS:
//
//	snippet-keeper serve                  run the HTTP server (default)
//	snippet-keeper migrate up|down|status manage the database schema
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/snippet-keeper/internal/config"
	"github.com/sakif/snippet-keeper/internal/server"
	"github.com/sakif/snippet-keeper/internal/telemetry"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	serve := newServeCommand()
	cmd := &cobra.Command{
		Use:           "snippet-keeper",
		Short:         "Accounts and code snippets over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	cmd.AddCommand(serve)
	cmd.AddCommand(newMigrateCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	// === 2. SET UP LOGGING ===
	// LOG_FORMAT=json for production log shippers, text for a terminal.
	// slog.SetDefault makes the package-level slog functions (used by the
	// JSON response helpers) go through the same handler.
	logger, err := telemetry.NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// === 3. TRACING ===
	// Only enabled when OTEL_EXPORTER_OTLP_ENDPOINT is set.
	shutdownTracing, err := telemetry.InitTracing(ctx, "snippet-keeper", cfg.OTel.Endpoint, cfg.OTel.Insecure)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("flushing traces", slog.String("error", err.Error()))
		}
	}()

	// === 4. DATABASE DIRECTORY ===
	// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
	if err := ensureDir(cfg.DBPath); err != nil {
		return err
	}

	// === 5. CREATE AND START THE SERVER ===
	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	return srv.Start()
}

// ensureDir creates the directory holding a file-based database. DSNs with
// a file: prefix (in-memory databases, mostly) are left alone.
func ensureDir(dbPath string) error {
	if strings.HasPrefix(dbPath, "file:") {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	return nil
}
