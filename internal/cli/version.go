package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is set via -ldflags on release builds; plain `go build`
// binaries fall back to the VCS metadata the toolchain embeds.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("capsa " + VersionString())
	},
}

// VersionString returns the version with a short revision suffix, for
// the version command and the health endpoint.
func VersionString() string {
	rev := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 8 {
				rev = s.Value[:8]
			}
		}
	}
	return fmt.Sprintf("%s (%s)", Version, rev)
}
