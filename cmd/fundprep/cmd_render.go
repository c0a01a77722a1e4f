package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var renderAll bool

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Write both SAS scripts without running SAS",
	RunE:  runRender,
}

func init() {
	renderCmd.Flags().BoolVarP(&renderAll, "all", "c", false, "Get all fields (SELECT *)")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.pipeline.WriteScripts(cmd.Context(), renderAll)
	if err != nil {
		return err
	}
	for _, script := range report.Scripts {
		fmt.Fprintln(cmd.OutOrStdout(), script.Job.ScriptPath)
	}
	return nil
}
