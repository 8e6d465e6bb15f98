package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/use-agent/padcrawl/checkpoint"
	"github.com/use-agent/padcrawl/config"
	"github.com/use-agent/padcrawl/merge"
	"github.com/use-agent/padcrawl/records"
	"github.com/use-agent/padcrawl/store"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge crawl results into the project table",
	Long: "Folds result files (oldest first) and stored batches into one status per project and writes the " +
		"project table with an appended Has_PAD_Documents column. Later sources win.",
	RunE: runMerge,
}

var (
	mergeInput    string
	mergeResults  []string
	mergeDB       string
	mergeOut      string
	mergeLinksOut string
)

func init() {
	f := mergeCmd.Flags()
	f.StringVarP(&mergeInput, "input", "i", "", "Project table, .csv or .xlsx (required)")
	f.StringArrayVarP(&mergeResults, "results", "r", nil, "Result or checkpoint file; repeat, oldest first")
	f.StringVar(&mergeDB, "db", "", "SQLite database whose batches are merged after the files")
	f.StringVarP(&mergeOut, "out", "o", "", "Output table, .csv or .xlsx (required)")
	f.StringVar(&mergeLinksOut, "links-out", "", "Write the deduplicated document links to this JSON file")

	for _, name := range []string{"input", "out"} {
		if err := mergeCmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("failed to mark %s flag as required: %v", name, err))
		}
	}

	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath, func(c *config.Config) {
		if cmd.Flags().Changed("db") {
			c.Store.Path = mergeDB
		}
	})
	if err != nil {
		return err
	}
	initLogger(cfg.Log)

	table, err := records.ReadTable(mergeInput)
	if err != nil {
		return err
	}
	original, err := table.AllRecords()
	if err != nil {
		return err
	}

	var sources []merge.Source
	for _, path := range mergeResults {
		results, err := checkpoint.LoadResults(path)
		if err != nil {
			return err
		}
		slog.Info("result file loaded", "path", path, "results", len(results))
		sources = append(sources, merge.Source{ID: filepath.Base(path), Results: results})
	}

	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		stored, err := st.Sources(cmd.Context())
		if err != nil {
			return err
		}
		slog.Info("stored batches loaded", "path", cfg.Store.Path, "batches", len(stored))
		sources = append(sources, stored...)
	}

	if len(sources) == 0 {
		slog.Warn("no result sources given, every project will be Unknown")
	}

	canon := merge.Merge(original, sources)
	if err := records.WriteCanonical(mergeOut, table, canon); err != nil {
		return err
	}

	if mergeLinksOut != "" {
		links := merge.Links(sources)
		if err := checkpoint.WriteJSON(mergeLinksOut, links); err != nil {
			return err
		}
		slog.Info("document links written", "path", mergeLinksOut, "links", len(links))
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Sources merged: %d\n", len(sources))
	merge.Distribute(canon).Print(w)
	fmt.Fprintf(w, "\nMerged table saved to: %s\n", mergeOut)
	return nil
}
