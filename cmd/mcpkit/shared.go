package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/jkaninda/mcpkit/internal/config"
	"github.com/jkaninda/mcpkit/internal/observability"
	"github.com/jkaninda/mcpkit/internal/sandbox"
	"github.com/jkaninda/mcpkit/internal/server"
	"github.com/jkaninda/mcpkit/internal/tools"
	"github.com/jkaninda/mcpkit/internal/tools/custom"
	"github.com/jkaninda/mcpkit/internal/tools/echo"
	"github.com/jkaninda/mcpkit/internal/tools/file"
	"github.com/jkaninda/mcpkit/internal/tools/info"
	"github.com/jkaninda/mcpkit/internal/tools/shell"
	"github.com/jkaninda/mcpkit/internal/workspace"
)

// App holds the components wired together for serve mode.
type App struct {
	Config    *config.Config
	Infra     *observability.Infrastructure
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Sandbox   sandbox.Sandbox
	Registry  *tools.Registry
	Monitor   *observability.HealthMonitor
	Server    *server.Server

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (a *App) Cleanup() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

func (a *App) addCleanup(fn func()) {
	a.cleanups = append(a.cleanups, fn)
}

// initApp builds every component from cfg. Callers must call app.Cleanup() when done.
func initApp(cfg *config.Config, opts ...observability.Option) (*App, error) {
	infra := observability.New(cfg, opts...)
	infra.Ensure()
	logger := infra.Logger()

	app := &App{Config: cfg, Infra: infra, Logger: logger}
	app.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := infra.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability shutdown", slog.Any("error", err))
		}
	})
	logger.Debug("observability initialized", slog.Any("features", infra.Features()))

	// Workspace.
	ws, err := workspace.New(cfg.Workspace)
	if err != nil {
		app.Cleanup()
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	app.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Sandbox.
	sbx, err := initSandbox(cfg, logger)
	if err != nil {
		app.Cleanup()
		return nil, err
	}
	app.Sandbox = observability.NewInstrumentedSandbox(sbx, cfg.Sandbox.Type, infra)

	// Readiness checks.
	infra.Health().AddCheck("workspace", func(context.Context) error {
		fi, err := os.Stat(ws.Root)
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return fmt.Errorf("%s is not a directory", ws.Root)
		}
		return nil
	})
	infra.Health().AddCheck("sandbox", func(context.Context) error {
		_, err := exec.LookPath(sandboxBinary(cfg))
		return err
	})

	// Health monitor.
	app.Monitor = observability.NewHealthMonitor(
		observability.MonitorConfig{Schedule: cfg.HealthSchedule},
		infra.Requests(), infra.Metrics(), logger,
	)

	// Tools.
	fcfg := file.Config{MaxFileSize: cfg.MaxFileSize}
	reader := file.NewReadTool(ws, fcfg, logger)
	reg := tools.NewRegistry(infra)
	reg.Register(echo.New())
	reg.Register(file.NewListTool(ws, logger))
	reg.Register(reader)
	reg.Register(file.NewWriteTool(ws, fcfg, logger))
	reg.Register(shell.NewTool(ws, app.Sandbox, cfg.CommandTimeoutDuration(), logger))
	reg.Register(info.NewHealthTool(infra, reg, app.Monitor))
	reg.Register(info.NewServerInfoTool(infra, reg))
	registerCustomTools(cfg, reg, ws, app.Sandbox, logger)
	app.Registry = reg
	logger.Debug("tools registered", slog.Any("tools", reg.List()))

	app.Server = server.New(cfg, infra, reg, reader)
	return app, nil
}

// registerCustomTools adds the config-declared tools. A tool whose name is
// already taken is skipped with a warning so a bad entry cannot stop startup.
func registerCustomTools(cfg *config.Config, reg *tools.Registry, ws *workspace.Workspace, sbx sandbox.Sandbox, logger *slog.Logger) {
	loaded := 0
	for _, def := range cfg.CustomTools {
		if reg.Get(def.Name) != nil {
			logger.Warn("custom tool skipped: name already registered", slog.String("tool", def.Name))
			continue
		}
		reg.Register(custom.New(def, ws, sbx, cfg.CommandTimeoutDuration(), logger))
		loaded++
		logger.Info("custom tool registered", slog.String("tool", def.Name))
	}
	if len(cfg.CustomTools) > 0 {
		logger.Info("custom tools loaded", slog.Int("loaded", loaded), slog.Int("configured", len(cfg.CustomTools)))
	}
}

// initSandbox creates the appropriate sandbox based on config type.
func initSandbox(cfg *config.Config, logger *slog.Logger) (sandbox.Sandbox, error) {
	switch cfg.Sandbox.Type {
	case "docker":
		if cfg.Sandbox.Image == "" {
			return nil, fmt.Errorf("sandbox image is required when type is \"docker\"")
		}
		return sandbox.NewDockerSandbox(sandbox.DockerConfig{
			Image:          cfg.Sandbox.Image,
			DefaultTimeout: cfg.CommandTimeoutDuration(),
			NetworkAllowed: cfg.Sandbox.NetworkAllowed,
		}, logger), nil
	case "process", "":
		return sandbox.NewProcessSandbox(sandbox.ProcessConfig{
			DefaultTimeout: cfg.CommandTimeoutDuration(),
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown sandbox type: %q (supported: process, docker)", cfg.Sandbox.Type)
	}
}

func sandboxBinary(cfg *config.Config) string {
	if cfg.Sandbox.Type == "docker" {
		return "docker"
	}
	return "sh"
}
