// Command duo-analyst answers data-analysis questions with a planner model
// directing a tool-using worker model.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Protocol-Lattice/duo-analyst/internal/config"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "duo-analyst",
		Short:        "Planner/worker data analyst",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $DUO_CONFIG or "+config.DefaultPath+")")
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(runCmd())
	cmd.AddCommand(toolsCmd())
	cmd.AddCommand(courseCmd())
	cmd.AddCommand(configCmd())
	return cmd
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.ResolvePath(cfgFile))
}
