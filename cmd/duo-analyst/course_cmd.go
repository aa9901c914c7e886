package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Protocol-Lattice/duo-analyst/internal/runner"
	"github.com/Protocol-Lattice/duo-analyst/pkg/course"
)

func courseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "course",
		Short: "Manage the course material index",
	}
	cmd.AddCommand(courseIngestCmd())
	cmd.AddCommand(courseSearchCmd())
	return cmd
}

func courseIngestCmd() *cobra.Command {
	var chunkWords int
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Chunk, embed and store course material",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if chunkWords > 0 {
				cfg.Course.ChunkWords = chunkWords
			}
			ctx := cmd.Context()
			comp, err := runner.BuildCourse(ctx, cfg)
			if err != nil {
				return err
			}
			defer comp.Close()

			out := cmd.OutOrStdout()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				source := course.SourceName(path)
				n, err := course.Ingest(ctx, comp.Embedder, comp.Store, source, string(data), cfg.Course.ChunkWords)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d chunks\n", source, n)
			}
			total, err := comp.Store.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "index holds %d chunks\n", total)
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkWords, "chunk-words", 0, "words per chunk (overrides course.chunk_words)")
	return cmd
}

func courseSearchCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Show the course tips a query would retrieve",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			comp, err := runner.BuildCourse(ctx, cfg)
			if err != nil {
				return err
			}
			defer comp.Close()

			retriever, err := course.NewRetriever(comp.Embedder, comp.Store)
			if err != nil {
				return err
			}
			matches, err := retriever.TopK(ctx, strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), course.FormatTips(matches))
			return nil
		},
	}
	cmd.Flags().IntVar(&k, "k", course.DefaultTopK, "number of tips")
	return cmd
}
