// Package cmd provides the CLI commands for openmcpd.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openmcpd/openmcpd/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "openmcpd",
	Short: "openmcpd - MCP server runtime",
	Long: `openmcpd is a transport and session runtime for Model Context Protocol
(MCP) servers.

It serves MCP over streamable HTTP (POST dispatch plus an SSE event stream
with replay) or over stdio, with session management, a middleware pipeline,
authentication, CEL authorization policies, and a request audit trail.

Quick start:
  1. Create a config file: openmcpd.yaml
  2. Run: openmcpd run

Configuration:
  Config is loaded from openmcpd.yaml in the current directory,
  $HOME/.openmcpd/, or /etc/openmcpd/.

  Environment variables can override config values with the OPENMCPD_ prefix.
  Example: OPENMCPD_SERVER_ADDR=:9090

Commands:
  run         Start the server
  config      Print the effective configuration
  hash-key    Generate a hash for an API key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./openmcpd.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
