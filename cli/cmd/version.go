package cmd

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventfeed/cli/pkg/output"
)

// Version is set at build time with -ldflags "-X .../cli/cmd.Version=...".
var Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the feedctl version",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := map[string]string{"version": Version, "go": runtime.Version()}
		return output.Print(outputFormat(cmd), info, func() *output.Table {
			t := output.NewTable("Version", "Go")
			t.AddRow(Version, runtime.Version())
			return t
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
