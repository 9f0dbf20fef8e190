package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/artpar/odatagate/bootstrap"
	"github.com/artpar/odatagate/config"
	"github.com/artpar/odatagate/core/convention"
	"github.com/artpar/odatagate/core/formatter"
)

var (
	routesFormat   string
	routesNoHeader bool
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the bound route table",
	Long: `Bind the default controllers of the configured model and print the
resulting route table without opening the database.

Examples:
  odatagate routes
  odatagate routes --format json
  odatagate routes --format yaml`,
	RunE: runRoutes,
}

func init() {
	rootCmd.AddCommand(routesCmd)

	routesCmd.Flags().StringVarP(&routesFormat, "format", "o", "table",
		"output format: "+strings.Join(formatter.List(), ", "))
	routesCmd.Flags().BoolVar(&routesNoHeader, "no-header", false, "omit the table header")
}

func runRoutes(cmd *cobra.Command, args []string) error {
	f, ok := formatter.Get(routesFormat)
	if !ok {
		return fmt.Errorf("unknown format %q (available: %s)", routesFormat, strings.Join(formatter.List(), ", "))
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	table, err := bootstrap.Routes(cfg)
	if err != nil {
		return err
	}

	return f.FormatList(cmd.OutOrStdout(), describe(table), formatter.FormatOptions{NoHeader: routesNoHeader})
}

func describe(table *convention.Table) formatter.Listing {
	endpoints := table.Endpoints()
	list := formatter.Listing{
		Kind:    "routes",
		Columns: []string{"method", "route", "controller", "action", "parameters"},
		Rows:    make([]map[string]any, 0, len(endpoints)),
	}
	for _, ep := range endpoints {
		params := make([]string, 0, len(ep.Parameters))
		for _, p := range ep.Parameters {
			if p.Type != nil {
				params = append(params, p.Name+" "+p.Type.String())
			} else {
				params = append(params, p.Name)
			}
		}
		list.Rows = append(list.Rows, map[string]any{
			"method":     ep.Method,
			"route":      "/" + ep.Route,
			"controller": ep.Controller,
			"action":     ep.Action,
			"parameters": params,
		})
	}
	return list
}
