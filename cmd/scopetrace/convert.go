package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scopetrace/internal/report"
	"scopetrace/internal/trace"
)

var (
	convertOutput   string
	convertCategory string
)

func init() {
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "-", "output file, - for stdout")
	convertCmd.Flags().StringVar(&convertCategory, "category", "", `"cat" of every event (default: cpu or gpu)`)
}

var convertCmd = &cobra.Command{
	Use:   "convert <snapshot.msgpack>",
	Short: "Convert a saved snapshot to Chrome trace JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := readSnapshot(args[0])
		if err != nil {
			return err
		}
		opts := report.Options{Category: convertCategory}
		if convertOutput == "-" {
			return report.Write(cmd.OutOrStdout(), snap, opts)
		}
		return writeReport(convertOutput, snap, opts)
	},
}

func readSnapshot(path string) (trace.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return trace.Snapshot{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	snap, err := report.DecodeSnapshot(f)
	if err != nil {
		return trace.Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}
