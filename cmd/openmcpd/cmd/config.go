package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openmcpd/openmcpd/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration as YAML, after defaults and
environment variable overrides are applied.

Useful for checking what the server would actually run with:
  openmcpd config
  OPENMCPD_SERVER_ADDR=:9090 openmcpd config`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigRaw()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if file := config.ConfigFileUsed(); file != "" {
			fmt.Printf("# config file: %s\n", file)
		} else {
			fmt.Println("# no config file found (defaults + environment)")
		}

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
