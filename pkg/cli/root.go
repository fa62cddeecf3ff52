// Package cli implements the restd command line interface.
package cli

import "github.com/spf13/cobra"

// BuildInfo carries version metadata injected at build time via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var rootCmd = &cobra.Command{
	Use:   "restd",
	Short: "Config-driven REST resource server",
	Long: `restd serves a CRUD REST API over named resources with pluggable storage,
JSON Schema request validation, request/response interceptors, and
etag-based optimistic concurrency. Point it at a config file, or start it
bare and it serves any resource from memory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute wires up the commands and runs the CLI.
func Execute(info BuildInfo) error {
	initServeCmd()
	initValidateCmd()
	initVersionCmd(info)
	return rootCmd.Execute()
}
