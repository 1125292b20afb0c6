package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"scopetrace/internal/report"
	"scopetrace/internal/trace"
)

var (
	reportDuration float64
	reportOutput   string
	reportSnapshot string
	reportWorkload workloadFlags
)

func init() {
	reportCmd.Flags().Float64Var(&reportDuration, "duration", 0, "seconds to record (default: report.duration_seconds)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "output file, - for stdout (default: next numbered file in report.dir)")
	reportCmd.Flags().StringVar(&reportSnapshot, "snapshot", "", "also save the raw snapshot to this msgpack file")
	reportWorkload.register(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Record the simulated frame loop and export a Chrome trace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, cleanup, err := setupSession(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		duration := reportDuration
		if duration <= 0 {
			duration = sess.cfg.Report.DurationSeconds
		}

		wl := sess.workload(reportWorkload)
		defer wl.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(duration*float64(time.Second)))
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return wl.Run(gctx) })
		if err := g.Wait(); err != nil {
			return err
		}

		snap := sess.reg.SnapshotForExport(duration)
		if reportSnapshot != "" {
			if err := writeSnapshot(reportSnapshot, snap); err != nil {
				return err
			}
			sess.status(cmd.ErrOrStderr(), "snapshot written to %s", reportSnapshot)
		}

		switch reportOutput {
		case "-":
			return report.Write(cmd.OutOrStdout(), snap, sess.reportOptions())
		case "":
			path, err := report.WriteFile(sess.cfg.Report.Dir, sess.cfg.Report.FilePattern, snap, sess.reportOptions())
			if err != nil {
				return err
			}
			sess.status(cmd.ErrOrStderr(), "report written to %s", path)
			return nil
		default:
			if err := writeReport(reportOutput, snap, sess.reportOptions()); err != nil {
				return err
			}
			sess.status(cmd.ErrOrStderr(), "report written to %s", reportOutput)
			return nil
		}
	},
}

func writeSnapshot(path string, snap trace.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := report.EncodeSnapshot(f, snap); err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

func writeReport(path string, snap trace.Snapshot, opts report.Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := report.Write(f, snap, opts); err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
