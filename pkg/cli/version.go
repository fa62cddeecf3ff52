package cli

import "github.com/spf13/cobra"

func initVersionCmd(info BuildInfo) {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("restd %s (commit %s, built %s)\n", info.Version, info.Commit, info.BuildDate)
		},
	}
	rootCmd.AddCommand(versionCmd)
}
