package cmd

import (
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return printJSON(map[string]string{
				"version":   versionInfo.Version,
				"commit":    versionInfo.Commit,
				"buildDate": versionInfo.BuildDate,
				"goVersion": runtime.Version(),
			})
		}
		name := "topichub"
		if id := GetAppIdentity(); id != nil {
			name = id.BinaryName
		}
		printf("%s %s (commit %s, built %s, %s)\n", name, versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate, runtime.Version())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("json", false, "Output as JSON")
}
