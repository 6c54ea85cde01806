package main

import (
	"fmt"
	"os"

	config "github.com/hanpama/restygraph/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "restygraphctl",
	Short: "Development tools for the restygraph task bridge",
	Long: `restygraphctl drives the same bridge the nginx module loads, with an
in-memory task queue instead of lua-resty-ffi.

  restygraphctl serve   # HTTP front door
  restygraphctl check   # compile a schema configuration and print its SDL
  restygraphctl replay  # feed NDJSON envelopes through the bridge`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "bridge config file (JSON or YAML)")
}

// loadConfig reads the bridge configuration named by --config, or the
// defaults when none is given.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Load(nil)
	}
	return config.LoadFile(cfgFile)
}
