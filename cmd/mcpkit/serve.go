package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	goutils "github.com/jkaninda/go-utils"
	"github.com/spf13/cobra"

	"github.com/jkaninda/mcpkit/internal/config"
)

var (
	serveConfigPath string
	serveTransport  string
	serveWorkspace  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tools over MCP (stdio, http or sse)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `mcpkit --config path` and `mcpkit serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", "", "path to a YAML or JSON config file")
		cmd.Flags().StringVar(&serveTransport, "transport", "", "override the transport (stdio, http, sse)")
		cmd.Flags().StringVar(&serveWorkspace, "workspace", "", "override the workspace directory")
	}
}

// loadConfig loads the config file and applies CLI overrides. MCPKIT_CONFIG
// names the file only when no path was given on the command line.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = goutils.Env("MCPKIT_CONFIG", "")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if serveTransport != "" {
		cfg.Transport = serveTransport
	}
	if serveWorkspace != "" {
		cfg.Workspace = serveWorkspace
	}
	if cfg.Version == "" || cfg.Version == config.Default().Version {
		cfg.Version = version
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}

	app, err := initApp(cfg)
	if err != nil {
		return err
	}
	defer app.Cleanup()
	logger := app.Logger

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Monitor.Start(); err != nil {
		logger.Warn("health monitor disabled", slog.String("schedule", cfg.HealthSchedule), slog.Any("error", err))
	} else {
		defer app.Monitor.Stop()
	}

	logger.Info("starting mcpkit",
		slog.String("server", cfg.ServerName),
		slog.String("version", cfg.Version),
		slog.String("transport", cfg.Transport),
		slog.String("workspace", app.Workspace.Root),
		slog.Any("tools", app.Registry.List()),
	)

	if err := app.Server.Serve(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
