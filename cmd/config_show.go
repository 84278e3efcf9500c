package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Copy so the credential scrub never touches the live config.
		c := *cfg
		if c.NuvemFiscal.ClientSecret != "" {
			c.NuvemFiscal.ClientSecret = "***"
		}
		if c.Store.DatabaseURL != "" {
			c.Store.DatabaseURL = "***"
		}

		out, err := yaml.Marshal(c)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
