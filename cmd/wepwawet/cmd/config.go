package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wepwawet/wepwawet/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration file",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate the config file",
	Long:  "Parse the config file named by --config-file and validate it. Exits 0 if valid, 1 otherwise.",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if _, err := config.ParseConfig(cfgFile); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: invalid: %v\n", cfgFile, err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", cfgFile)
	return nil
}
