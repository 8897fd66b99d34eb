package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/barrersoftware/copilot-plugin-system/internal/telemetry"
	"github.com/barrersoftware/copilot-plugin-system/pkg/pluginhost"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin engine and its HTTP bridge until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	logger := a.logger

	if a.cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(a.cfg.Telemetry.ServiceName, os.Stderr, logger)
		if err != nil {
			return fmt.Errorf("initialize tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	eng, err := pluginhost.New(
		pluginhost.WithFileConfig(a.configPath),
		pluginhost.WithEventsConfig(a.cfg.Events),
		pluginhost.WithPluginDir(a.pluginDir),
		pluginhost.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping plugin engine")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return eng.Shutdown(shutdownCtx)
}
