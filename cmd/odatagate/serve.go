package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/odatagate/bootstrap"
	"github.com/artpar/odatagate/config"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the OData server",
	Long: `Start the odatagate server.

The server will:
  - Load configuration from odatagate.yaml (or --config)
  - Or load configuration from ODATAGATE_* environment variables
  - Parse the model and create its tables
  - Bind the default controllers and publish the route table
  - Rebuild the route table when the config file changes or on SIGHUP

Environment variables (for Docker deployments):
  ODATAGATE_MODEL_PATH      - Entity data model file (required)
  ODATAGATE_DATABASE_DSN    - SQLite path (default: odatagate.db)
  ODATAGATE_SERVER_PORT     - Server port (default: 8080)
  ODATAGATE_ROUTING_PREFIX  - Route prefix
  ODATAGATE_LOG_LEVEL       - Log level: debug, info, warn, error

Examples:
  odatagate serve
  odatagate serve --config /etc/odatagate/odatagate.toml
  odatagate serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "rebuild routes when the configuration changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	if !hasConfigFile && !config.HasEnvConfig() {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "No configuration found.")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Option 1: Create %s with at least model.path\n", cfgFile)
		fmt.Fprintf(out, "Option 2: Set %sMODEL_PATH\n", config.EnvPrefix)
		return nil
	}

	var app *bootstrap.App
	var err error

	if hasConfigFile && hotReload {
		app, err = bootstrap.NewWithHotReload(cfgFile)
	} else {
		cfg, loadErr := config.LoadWithFallback(cfgFile)
		if loadErr != nil {
			return fmt.Errorf("error loading config: %w", loadErr)
		}
		app, err = bootstrap.New(cfg)
	}
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run(context.Background())
}
