package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/internal/runner"
	"github.com/Protocol-Lattice/duo-analyst/pkg/response"
	"github.com/Protocol-Lattice/duo-analyst/pkg/sandbox"
)

func runCmd() *cobra.Command {
	var (
		uploads  string
		outputs  string
		logFile  string
		asJSON   bool
		maxIters int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Answer the questions.txt in an uploads directory once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if maxIters > 0 {
				cfg.Conversation.MaxIterations = maxIters
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

			if outputs == "" {
				if outputs, err = os.MkdirTemp("", "duo-outputs-*"); err != nil {
					return err
				}
				logger.Info("writing outputs", "dir", outputs)
			}
			sb, err := sandbox.New(uploads, outputs)
			if err != nil {
				return err
			}

			res, err := comp.Runner.Run(ctx, sb)
			if err != nil {
				return err
			}
			if logFile != "" {
				if err := writeRunLog(logFile, res.Log); err != nil {
					logger.Warn("write run log", "error", err)
				}
			}

			resp := response.FromResult(res, sb)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(resp); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, resp.FinalAnswer)
				for _, f := range resp.Files {
					if f.Error != "" {
						fmt.Fprintf(out, "%s: %s\n", f.Filename, f.Error)
						continue
					}
					fmt.Fprintf(out, "%s: attached\n", f.Filename)
				}
			}
			if !res.OK() {
				return fmt.Errorf("run ended without a final answer: %s", res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&uploads, "uploads", "", "directory holding questions.txt and data files")
	cmd.Flags().StringVar(&outputs, "outputs", "", "directory for generated files (default: a new temp dir)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write the run's event log as JSON to this file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the API response document")
	cmd.Flags().IntVar(&maxIters, "max-iterations", 0, "override conversation.max_iterations")
	_ = cmd.MarkFlagRequired("uploads")
	return cmd
}

func writeRunLog(path string, log *analyst.RunLog) error {
	if log == nil {
		return errors.New("run produced no log")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := log.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
