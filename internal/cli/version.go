package cli

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/xpeteliu/cis545-group-project/internal/policy"
)

// Build metadata, set at build time via ldflags.
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and the enforced policy",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout(), commit())
	},
}

func printVersion(out io.Writer, rev string) {
	fmt.Fprintf(out, "guardctl version %s (commit %s, built %s, %s, %s/%s)\n",
		Version, rev, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(out, "Enforces EMR block public access with permitted ports %s\n", policy.Default().PortList())
}

// commit falls back to the VCS revision embedded by the Go toolchain.
func commit() string {
	if Commit != "" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				return s.Value[:7]
			}
		}
	}
	return "none"
}
