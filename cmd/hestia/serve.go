package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pegacorn/hestia/internal/app"
)

type serveFlags struct {
	httpAddr string
	grpcAddr string
	noGRPC   bool
}

func newServeCmd(root *rootFlags) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		Long: `Start the HTTP API, the gRPC record service and, when export.schedule is
set, the periodic export. The process runs until SIGINT or SIGTERM and then
drains in-flight requests before closing the store.

Examples:
  # Start with defaults (HTTP :8080, gRPC :9090, ./data/hestia)
  hestia serve

  # Start with a config file and a different HTTP address
  hestia serve --config /etc/hestia/config.yaml --http-addr :18080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if flags.httpAddr != "" {
				cfg.HTTP.Addr = flags.httpAddr
			}
			if flags.grpcAddr != "" {
				cfg.GRPC.Addr = flags.grpcAddr
			}
			if flags.noGRPC {
				cfg.GRPC.Enabled = false
			}

			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			slog.Info("starting hestia",
				"version", Version,
				"data_dir", cfg.DataDir,
				"store", cfg.Store.Type,
				"export", cfg.Export.Storage,
			)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := a.Start(ctx); err != nil {
				return err
			}
			if err := a.WaitForShutdown(ctx); err != nil {
				slog.Warn("shutdown error", "error", err)
			}
			return a.Stop(context.Background())
		},
	}

	cmd.Flags().StringVar(&flags.httpAddr, "http-addr", "", "override HTTP listen address")
	cmd.Flags().StringVar(&flags.grpcAddr, "grpc-addr", "", "override gRPC listen address")
	cmd.Flags().BoolVar(&flags.noGRPC, "no-grpc", false, "do not start the gRPC server")
	return cmd
}
