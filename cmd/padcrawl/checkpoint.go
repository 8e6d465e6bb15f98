package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/padcrawl/checkpoint"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect checkpoint files",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show FILE",
	Short: "Print the progress recorded in a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointShow,
}

func init() {
	checkpointCmd.AddCommand(checkpointShowCmd)
	rootCmd.AddCommand(checkpointCmd)
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	snap, err := checkpoint.LoadSnapshot(args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Batch:      %s\n", snap.BatchID)
	if snap.Mode != "" {
		fmt.Fprintf(w, "Mode:       %s\n", snap.Mode)
	}
	fmt.Fprintf(w, "Range:      %d-%d\n", snap.StartIndex+1, snap.EndIndex)
	fmt.Fprintf(w, "Next index: %d (%d of %d done)\n",
		snap.NextIndex, snap.NextIndex-snap.StartIndex, snap.EndIndex-snap.StartIndex)
	if !snap.SavedAt.IsZero() {
		fmt.Fprintf(w, "Saved at:   %s\n", snap.SavedAt.Format(time.RFC3339))
	}
	s := snap.Summary
	fmt.Fprintf(w, "Results:    %d (with PAD %d, no PAD %d, errors %d)\n", s.Total, s.Positive, s.Negative, s.Errored)
	if snap.NextIndex < snap.EndIndex {
		fmt.Fprintf(w, "Resume with: padcrawl crawl --resume %s --input <table>\n", args[0])
	}
	return nil
}
