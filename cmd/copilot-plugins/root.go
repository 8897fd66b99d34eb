package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/barrersoftware/copilot-plugin-system/internal/pkg/config"
	"github.com/barrersoftware/copilot-plugin-system/internal/registration"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	pluginDir  string
	envFile    string

	cfg    *config.Config
	logger *slog.Logger
}

func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "copilot-plugins",
		Short:         "Host and inspect copilot plugins",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "config.yaml", "Config file path; a missing file means defaults")
	cmd.PersistentFlags().StringVar(&a.pluginDir, "plugins-dir", "", "Plugin directory (overrides plugins.dir)")
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before config")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newCheckCmd(a))
	cmd.AddCommand(newKeygenCmd())
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.pluginDir != "" {
		cfg.Plugins.Dir = a.pluginDir
	}

	logger, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger

	// Built-in modules must be in the catalog before discovery.
	registration.RegisterBuiltins()
	return nil
}
