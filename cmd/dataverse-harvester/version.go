package main

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dataverse-harvester build version",
	Long: `Version prints the version stamped at build time (see "mage build"),
the Go toolchain, and the VCS revision when the binary carries one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := buildInfo()
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return writeJSON(cmd.OutOrStdout(), info)
		}
		printVersion(cmd.OutOrStdout(), info)
		return nil
	},
}

type versionInfo struct {
	Version  string `json:"version"`
	Go       string `json:"go"`
	Revision string `json:"revision,omitempty"`
	Modified bool   `json:"modified,omitempty"`
}

func buildInfo() versionInfo {
	info := versionInfo{Version: version, Go: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Revision = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func printVersion(w io.Writer, info versionInfo) {
	fmt.Fprintf(w, "dataverse-harvester %s (%s)\n", info.Version, info.Go)
	if info.Revision != "" {
		rev := info.Revision
		if info.Modified {
			rev += "+dirty"
		}
		fmt.Fprintf(w, "revision %s\n", rev)
	}
}

func init() {
	versionCmd.Flags().Bool("json", false, "print version details as JSON")
	rootCmd.AddCommand(versionCmd)
}
