package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "odatagate",
	Short: "Serve an entity data model through convention-bound OData routes",
	Long: `odatagate reads an entity data model, binds default controllers to
OData routes by convention, and serves them over HTTP backed by SQLite.

Quick start:
  odatagate validate   # Check configuration and model
  odatagate routes     # Print the bound route table
  odatagate serve      # Start the server`,
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
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "odatagate.yaml", "config file path (.yaml or .toml)")
}
