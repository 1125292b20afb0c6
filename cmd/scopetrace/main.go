package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"scopetrace/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "scopetrace",
	Short: "Scope tracer with a live call-tree view and Chrome trace export",
	Long: `scopetrace records nested scopes from a simulated frame loop, aggregates
them into a live call tree and exports them as Chrome Trace Event JSON.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = version.Version()

	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(threadsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("config", "", "path to scopetrace.toml (default: search from the working directory)")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")
	rootCmd.PersistentFlags().String("cpu-profile", "", "write a CPU profile of scopetrace itself to file")
	rootCmd.PersistentFlags().String("mem-profile", "", "write a heap profile on exit to file")
	rootCmd.PersistentFlags().String("runtime-trace", "", "write a Go runtime trace to file")
}

// main executes the root command and exits with status 1 on error.
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// isTerminal reports whether f is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
