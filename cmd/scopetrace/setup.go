package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scopetrace/internal/calltree"
	"scopetrace/internal/config"
	"scopetrace/internal/logging"
	"scopetrace/internal/prof"
	"scopetrace/internal/report"
	"scopetrace/internal/trace"
	"scopetrace/internal/viewswap"
	"scopetrace/internal/workload"
)

type mode string

const (
	modeAuto mode = "auto"
	modeOn   mode = "on"
	modeOff  mode = "off"
)

func readMode(flag, value string) (mode, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return modeAuto, nil
	case "on":
		return modeOn, nil
	case "off":
		return modeOff, nil
	default:
		return "", fmt.Errorf("invalid --%s value %q (expected auto|on|off)", flag, value)
	}
}

func (m mode) enabled(f *os.File) bool {
	switch m {
	case modeOn:
		return true
	case modeOff:
		return false
	default:
		return isTerminal(f)
	}
}

// session is what every command that records spans needs.
type session struct {
	cfg   config.Config
	log   *zap.Logger
	reg   *trace.Registry
	quiet bool
}

// setupSession reads the persistent flags, loads the configuration and
// initializes the logger and the process-wide registry. The returned cleanup
// tears both down.
func setupSession(cmd *cobra.Command) (*session, func(), error) {
	root := cmd.Root()

	configPath, err := root.PersistentFlags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := root.PersistentFlags().GetString("log-level")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	quiet, err := root.PersistentFlags().GetBool("quiet")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}
	if err := applyColor(cmd); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		return nil, nil, err
	}

	profiles, err := setupProfiling(cmd)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}

	reg := trace.Init(trace.Options{
		MaxCaptureDuration: cfg.Tracer.MaxCaptureSeconds,
		FlushThreshold:     cfg.Tracer.FlushThreshold,
		FlushInterval:      cfg.Tracer.FlushIntervalSeconds,
		Logger:             log,
	})

	cleanup := func() {
		trace.Teardown()
		if err := profiles.Stop(); err != nil {
			log.Warn("failed to write profiles", zap.Error(err))
		}
		_ = log.Sync()
	}
	return &session{cfg: cfg, log: log, reg: reg, quiet: quiet}, cleanup, nil
}

// setupProfiling starts the profilers named by the persistent flags.
func setupProfiling(cmd *cobra.Command) (*prof.Session, error) {
	root := cmd.Root()

	cpuProfile, err := root.PersistentFlags().GetString("cpu-profile")
	if err != nil {
		return nil, fmt.Errorf("failed to get cpu-profile flag: %w", err)
	}
	memProfile, err := root.PersistentFlags().GetString("mem-profile")
	if err != nil {
		return nil, fmt.Errorf("failed to get mem-profile flag: %w", err)
	}
	tracePath, err := root.PersistentFlags().GetString("runtime-trace")
	if err != nil {
		return nil, fmt.Errorf("failed to get runtime-trace flag: %w", err)
	}

	return prof.Start(prof.Config{
		CPUProfile:   cpuProfile,
		MemProfile:   memProfile,
		RuntimeTrace: tracePath,
	})
}

// applyColor sets the global color mode from --color.
func applyColor(cmd *cobra.Command) error {
	value, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return fmt.Errorf("failed to get color flag: %w", err)
	}
	m, err := readMode("color", value)
	if err != nil {
		return err
	}
	color.NoColor = !m.enabled(os.Stdout)
	return nil
}

// workloadFlags are shared by the commands that run the simulated frame loop.
type workloadFlags struct {
	workers   int
	frameRate float64
	scale     float64
	seed      uint64
}

func (f *workloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.workers, "workers", 3, "number of worker threads")
	cmd.Flags().Float64Var(&f.frameRate, "frame-rate", 60, "simulated frames per second")
	cmd.Flags().Float64Var(&f.scale, "scale", 1, "multiplier for every simulated duration")
	cmd.Flags().Uint64Var(&f.seed, "seed", 1, "random seed for the simulated durations")
}

func (s *session) workload(f workloadFlags) *workload.Workload {
	return workload.New(s.reg, workload.Config{
		Workers:   f.workers,
		FrameRate: f.frameRate,
		Scale:     f.scale,
		Seed:      f.seed,
		Logger:    s.log,
	})
}

func (s *session) swapper(source string) *viewswap.Swapper {
	if source == "" {
		source = s.cfg.View.DefaultSource
	}
	return viewswap.New(s.reg, viewswap.Options{
		Interval:      s.cfg.View.UpdateIntervalSeconds,
		DefaultSource: source,
		View: calltree.Options{
			KeepAlive: s.cfg.View.KeepAliveCycles,
			PoolLimit: s.cfg.View.NodePoolLimit,
		},
		Logger: s.log,
	})
}

func (s *session) reportOptions() report.Options {
	return report.Options{Category: s.cfg.Report.Category}
}

// status prints a colored status line unless --quiet is set.
func (s *session) status(out io.Writer, format string, args ...any) {
	if s.quiet {
		return
	}
	color.New(color.FgGreen).Fprintf(out, format+"\n", args...)
}

func framePeriod(frameRate float64) time.Duration {
	if frameRate <= 0 {
		frameRate = 60
	}
	return time.Duration(float64(time.Second) / frameRate)
}
