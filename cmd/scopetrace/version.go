package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"scopetrace/internal/version"
)

// versionPayload is the --json form of the version command.
type versionPayload struct {
	Tool       string `json:"tool"`
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit,omitempty"`
	GitMessage string `json:"git_message,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
}

var (
	versionJSON bool
	versionFull bool
)

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print as JSON")
	versionCmd.Flags().BoolVar(&versionFull, "full", false, "include commit and build date")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show scopetrace build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := versionPayload{Tool: "scopetrace", Version: version.Version()}
		if versionFull {
			p.GitCommit = orUnknown(version.GitCommit)
			p.GitMessage = orUnknown(version.GitMessage)
			p.BuildDate = orUnknown(version.BuildDate)
		}
		if versionJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		}

		if err := applyColor(cmd); err != nil {
			return err
		}
		return printVersion(cmd.OutOrStdout(), p)
	},
}

func printVersion(out io.Writer, p versionPayload) error {
	if _, err := fmt.Fprintf(out, "%s %s\n", p.Tool, version.Colored()); err != nil {
		return err
	}
	if !versionFull {
		return nil
	}
	_, err := fmt.Fprintf(out, "commit:  %s\nmessage: %s\nbuilt:   %s\n", p.GitCommit, p.GitMessage, p.BuildDate)
	return err
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
