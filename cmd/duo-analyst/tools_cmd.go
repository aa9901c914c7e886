package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/tools"
)

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the worker's tools",
	}
	cmd.AddCommand(toolsListCmd())
	cmd.AddCommand(toolsSchemaCmd())
	return cmd
}

func toolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tool descriptors advertised to the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var specs []analyst.ToolSpec
			if cfg.Tools.SchemaDir != "" {
				specs, err = analyst.LoadToolSpecsDir(cfg.Tools.SchemaDir)
			} else {
				specs, err = analyst.BuiltinToolSpecs()
			}
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDESCRIPTION")
			for _, spec := range specs {
				fmt.Fprintf(tw, "%s\t%s\n", spec.Name, firstLine(spec.Description))
			}
			return tw.Flush()
		},
	}
}

func toolsSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print descriptors reflected from the tools' argument types",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tools.Specs())
		},
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
