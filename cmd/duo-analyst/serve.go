package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Protocol-Lattice/duo-analyst/internal/httpapi"
	"github.com/Protocol-Lattice/duo-analyst/internal/runner"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /api/ and GET /health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger, closeLog, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			defer closeLog()
			slog.SetDefault(logger)

			ctx := cmd.Context()
			comp, err := runner.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer comp.Close()

			srv, err := httpapi.New(httpapi.Options{
				Runner:         comp.Runner,
				WorkDir:        cfg.Server.WorkDir,
				KeepSandboxes:  cfg.Server.KeepSandboxes,
				MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
				CORSOrigins:    cfg.Server.CORSOrigins,
				RateLimiter:    httpapi.NewRateLimiter(cfg.Server.RateLimitRPM, cfg.Server.RateLimitBurst),
				RequestTimeout: cfg.Server.RequestTimeout,
				Logger:         logger,
			})
			if err != nil {
				return err
			}
			logger.Info("starting duo-analyst",
				"addr", cfg.Server.Addr,
				"planner", cfg.Planner.Provider+"/"+cfg.Planner.Model,
				"worker", cfg.Worker.Provider+"/"+cfg.Worker.Model,
				"max_iterations", cfg.Conversation.MaxIterations,
			)
			return srv.ListenAndServe(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr and PORT)")
	return cmd
}
