package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"scopetrace/internal/metrics"
	"scopetrace/internal/server"
)

var (
	serveAddr     string
	serveSource   string
	serveWorkload workloadFlags
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
	serveCmd.Flags().StringVar(&serveSource, "source", "", "buffer name or prefix to display (default: Main)")
	serveWorkload.register(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulated frame loop behind an HTTP API with metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, cleanup, err := setupSession(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		addr := serveAddr
		if addr == "" {
			addr = sess.cfg.Server.Addr
		}
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}

		wl := sess.workload(serveWorkload)
		defer wl.Close()
		sw := sess.swapper(serveSource)
		srv := server.New(sess.reg, sw, metrics.New(sess.reg, sw), server.Options{
			ReportDuration: sess.cfg.Report.DurationSeconds,
			Report:         sess.reportOptions(),
			Logger:         sess.log,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		sess.status(cmd.ErrOrStderr(), "serving on http://%s", l.Addr())
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return wl.Run(gctx) })
		g.Go(func() error { return sw.Run(gctx, framePeriod(serveWorkload.frameRate)) })
		g.Go(func() error { return srv.Serve(gctx, l) })
		return g.Wait()
	},
}
