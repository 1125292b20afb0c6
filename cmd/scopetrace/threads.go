package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"scopetrace/internal/trace"
)

var threadsCmd = &cobra.Command{
	Use:   "threads <snapshot.msgpack>",
	Short: "List the threads of a saved snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyColor(cmd); err != nil {
			return err
		}
		snap, err := readSnapshot(args[0])
		if err != nil {
			return err
		}
		return printThreads(cmd.OutOrStdout(), snap)
	},
}

func printThreads(out io.Writer, snap trace.Snapshot) error {
	nameWidth := len("thread")
	for _, th := range snap.Threads {
		nameWidth = max(nameWidth, runewidth.StringWidth(th.Name))
	}

	header := color.New(color.Bold)
	if _, err := header.Fprintf(out, "%s  %-4s %8s %12s\n", runewidth.FillRight("thread", nameWidth), "kind", "spans", "window ms"); err != nil {
		return err
	}
	for _, th := range snap.Threads {
		kind := "cpu"
		if th.IsGPU {
			kind = "gpu"
		}
		if _, err := fmt.Fprintf(out, "%s  %-4s %8d %12.3f\n",
			runewidth.FillRight(th.Name, nameWidth), kind, len(th.Timeline), window(th.Timeline)*1000); err != nil {
			return err
		}
	}
	return nil
}

// window is the time between the first beginning and the last end.
func window(entries []trace.Entry) float64 {
	if len(entries) == 0 {
		return 0
	}
	last := entries[0].End
	for _, e := range entries[1:] {
		last = max(last, e.End)
	}
	return max(last-entries[0].Beginning, 0)
}
