package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	historyTable string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent SAS job runs",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyTable, "table", "", "Only runs of this table")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.History.DBPath == "" {
		return fmt.Errorf("history.db_path is not configured")
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.runs.Recent(cmd.Context(), historyTable, historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, r := range records {
		fmt.Fprintf(out, "%4d  %s  %-8s %-9s exit=%-3d %s\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Table, r.Status, r.ExitCode,
			r.Duration.Round(time.Second))
	}
	return nil
}
