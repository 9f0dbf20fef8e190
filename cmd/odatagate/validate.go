package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/odatagate/bootstrap"
	"github.com/artpar/odatagate/config"
	"github.com/artpar/odatagate/core/controller"
	"github.com/artpar/odatagate/core/edm"
	"github.com/artpar/odatagate/core/serializer"
	"github.com/artpar/odatagate/core/storage"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and model before deployment",
	Long: `Validate the odatagate configuration file and the model it names.

Checks:
  - Config syntax is valid and required fields are present
  - Model parses and every reference resolves
  - Default controllers bind without route conflicts
  - Database is writable and tables can be created (optional)

Examples:
  odatagate validate
  odatagate validate --config /etc/odatagate/odatagate.toml --check-database`,
	RunE: runValidate,
}

var validateCheckDatabase bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check that the database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	model, err := edm.ParseFile(cfg.Model.Path)
	if err != nil {
		fmt.Fprintf(out, "  %s Model valid\n", crossMark)
		return fmt.Errorf("model error: %w", err)
	}
	fmt.Fprintf(out, "  %s Model %s: %d entity sets, %d singletons, %d operations\n",
		checkMark, model.Namespace, len(model.EntitySets), len(model.Singletons), len(model.Operations))

	table, err := bootstrap.Routes(cfg)
	if err != nil {
		fmt.Fprintf(out, "  %s Routes bind\n", crossMark)
		return err
	}
	fmt.Fprintf(out, "  %s Routes bound: %d\n", checkMark, table.Len())

	if validateCheckDatabase {
		if err := checkDatabaseWritable(cfg.Database.DSN, model); err != nil {
			fmt.Fprintf(out, "  %s Database writable\n", crossMark)
			return fmt.Errorf("database error: %w", err)
		}
		fmt.Fprintf(out, "  %s Database writable\n", checkMark)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func checkDatabaseWritable(dsn string, model *edm.Model) error {
	store, err := storage.NewSQLiteStore(dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	return controller.New(model, store, serializer.New(serializer.Config{})).EnsureTables(context.Background())
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
