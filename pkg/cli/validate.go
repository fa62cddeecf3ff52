package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getrestd/restd/pkg/config"
	"github.com/getrestd/restd/pkg/interceptor"
	"github.com/getrestd/restd/pkg/schema"
)

var validateConfigFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file without starting the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if validateConfigFile == "" {
			return fmt.Errorf("--config is required")
		}
		cfg, err := config.LoadFromFile(validateConfigFile)
		if err != nil {
			return err
		}
		// Compile everything the server would compile at startup so schema
		// and interceptor mistakes surface here too.
		if _, err := schema.Compile(cfg.Schemas); err != nil {
			return err
		}
		if _, err := interceptor.CompileChain(cfg.Interceptors); err != nil {
			return err
		}
		cmd.Printf("%s: OK\n", validateConfigFile)
		return nil
	},
}

func initValidateCmd() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&validateConfigFile, "config", "c", "", "Path to configuration file (YAML or JSON)")
}
