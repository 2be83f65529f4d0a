package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/devdash"
)

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Listen   string
	BasePath string
	NoSeed   bool
	TLSDir   string
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the devdash API server",
		Long: `Start the devdash API server. Settings come from the optional TOML file
and DEVDASH_* environment variables; flags override both.

On SIGINT or SIGTERM the server stops accepting requests and every running
script is asked to terminate.

Examples:
  devdash serve
  devdash serve devdash.toml
  devdash serve --listen=127.0.0.1:4000 --no-seed
  devdash serve --tls-dir=.devdash/tls`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath, serveFlags)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "listen address (overrides server.listen)")
	cmd.Flags().StringVar(&serveFlags.BasePath, "base-path", "", "mount the API under this path (overrides server.base_path)")
	cmd.Flags().BoolVar(&serveFlags.NoSeed, "no-seed", false, "start with empty stores")
	cmd.Flags().StringVar(&serveFlags.TLSDir, "tls-dir", "", "serve https with a certificate from this dir, generated when missing")
	return cmd
}

func runServe(ctx context.Context, configPath string, flags *ServeFlags) error {
	cfg, err := devdash.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}
	if flags.BasePath != "" {
		cfg.Server.BasePath = flags.BasePath
	}
	if flags.NoSeed {
		cfg.SeedMockData = false
	}
	if flags.TLSDir != "" {
		cfg.Server.TLS.Enabled = true
		cfg.Server.TLS.Dir = flags.TLSDir
		cfg.Server.TLS.AutoGenerate = true
	}

	app, err := devdash.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	app.Logger().Info("devdash starting", "listen", cfg.Server.Listen, "base_path", cfg.Server.BasePath, "tls", cfg.Server.TLS.Enabled)
	if err := app.Run(ctx); err != nil {
		return err
	}
	app.Logger().Info("devdash stopped")
	return nil
}
