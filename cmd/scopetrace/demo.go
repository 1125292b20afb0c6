package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"scopetrace/internal/calltree"
	"scopetrace/internal/report"
	"scopetrace/internal/ui"
	"scopetrace/internal/viewswap"
)

var (
	demoDuration    float64
	demoSource      string
	demoUI          string
	demoWriteReport bool
	demoWorkload    workloadFlags
)

func init() {
	demoCmd.Flags().Float64Var(&demoDuration, "duration", 0, "seconds to run, 0 runs until quit or interrupt")
	demoCmd.Flags().StringVar(&demoSource, "source", "", "buffer name or prefix to display (default: Main)")
	demoCmd.Flags().StringVar(&demoUI, "ui", "auto", "interactive tree view (auto|on|off)")
	demoCmd.Flags().BoolVar(&demoWriteReport, "report", false, "write a Chrome trace report on exit")
	demoWorkload.register(demoCmd)
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the simulated frame loop and show its live call tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		uiMode, err := readMode("ui", demoUI)
		if err != nil {
			return err
		}

		sess, cleanup, err := setupSession(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		if demoDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(demoDuration*float64(time.Second)))
			defer cancel()
		}
		ctx, quit := context.WithCancel(ctx)
		defer quit()

		wl := sess.workload(demoWorkload)
		defer wl.Close()
		sw := sess.swapper(demoSource)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return wl.Run(gctx) })
		g.Go(func() error { return sw.Run(gctx, framePeriod(demoWorkload.frameRate)) })
		if uiMode.enabled(os.Stdout) {
			g.Go(func() error {
				defer quit()
				return ui.Run(gctx, sw)
			})
		} else {
			interval := time.Duration(sess.cfg.View.UpdateIntervalSeconds * float64(time.Second))
			g.Go(func() error { return printLoop(gctx, cmd.OutOrStdout(), sw, interval) })
		}

		if err := g.Wait(); err != nil {
			return err
		}
		sess.log.Debug("demo stopped", zap.Uint64("swaps", sw.Stats().Swaps))

		if !demoWriteReport {
			return nil
		}
		snap := sess.reg.SnapshotForExport(sess.cfg.Report.DurationSeconds)
		path, err := report.WriteFile(sess.cfg.Report.Dir, sess.cfg.Report.FilePattern, snap, sess.reportOptions())
		if err != nil {
			return err
		}
		sess.status(cmd.ErrOrStderr(), "report written to %s", path)
		return nil
	},
}

// printLoop renders the displaying view once per interval until ctx is done.
func printLoop(ctx context.Context, out io.Writer, sw *viewswap.Swapper, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			var err error
			sw.Display(func(v *calltree.View) {
				err = ui.RenderText(out, v, textWidth())
			})
			if err != nil {
				return err
			}
			if _, err := io.WriteString(out, "\n"); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func textWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 120
}
