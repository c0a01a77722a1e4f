package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which fields resolve against each table, without writing scripts",
	Long: `Reads the column names of the annual and quarterly tables and prints the
field lists that would be used in each query. Fields missing from a table are
listed as A:/Q: lines; quarterly lines include columns sharing the field's
prefix, to help extend fields.quarterly_lookup.`,
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.pipeline.Plan(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%d): %s\n", cfg.Data.AnnualTable, len(rec.Annual), strings.Join(rec.AnnualColumns(), ","))
	fmt.Fprintf(out, "%s (%d): %s\n", cfg.Data.QuarterlyTable, len(rec.Quarterly), strings.Join(rec.QuarterlyColumns(), ","))
	for _, m := range rec.Quarterly {
		if m.Aliased() {
			fmt.Fprintf(out, "  %s -> %s\n", m.Canonical, m.Column)
		}
	}
	for _, w := range rec.Unresolved {
		fmt.Fprintln(out, w.String())
	}
	return nil
}
