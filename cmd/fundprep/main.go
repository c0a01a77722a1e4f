package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FundPrep/internal/service"
	"FundPrep/pkg/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// 全局参数
	configPath string
	debug      bool

	// 覆盖配置文件的参数
	dataPath  string
	format    string
	scriptDir string
	timeout   time.Duration

	// 作业选择
	doAnnual    bool
	doQuarterly bool
	allFields   bool
	failFast    bool
)

var rootCmd = &cobra.Command{
	Use:   "fundprep",
	Short: "Generate and run SAS scripts that extract Compustat FUNDA/FUNDQ",
	Long: `fundprep inspects the annual (funda) and quarterly (fundq) Compustat tables,
keeps only the requested fields that each table actually has, writes one SAS
script per table and runs them with the SAS interpreter.

Without --annual or --quarter nothing is run and this help is printed.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE: runJobs,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "INI config file")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")
	pf.StringVar(&dataPath, "data", "", "Data directory (database file for sqlite/duckdb)")
	pf.StringVar(&format, "format", "", "Data format: sas7bdat, parquet, csv, sqlite, duckdb")
	pf.StringVar(&scriptDir, "script-dir", "", "Directory for the generated .sas files")
	pf.DurationVar(&timeout, "timeout", 0, "Timeout for each SAS job")

	f := rootCmd.Flags()
	f.BoolVarP(&doAnnual, "annual", "a", false, "Create annual FUNDA file")
	f.BoolVarP(&doQuarterly, "quarter", "q", false, "Create quarterly FUNDQ file")
	f.BoolVarP(&allFields, "all", "c", false, "Get all fields (SELECT *)")
	f.BoolVar(&failFast, "fail-fast", false, "Do not run the quarterly job if the annual job fails")

	rootCmd.AddCommand(planCmd, renderCmd, historyCmd, serveCmd)
}

func main() {
	// 中断时取消上下文，正在运行的SAS进程组随之被杀掉
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func setupLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// loadConfig 读取配置文件并应用命令行覆盖
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("data") {
		cfg.Data.Path = dataPath
	}
	if flags.Changed("format") {
		cfg.Data.Format = format
	}
	if flags.Changed("script-dir") {
		cfg.SAS.ScriptDir = scriptDir
	}
	if flags.Changed("timeout") {
		cfg.SAS.Timeout = timeout
	}
	return cfg, cfg.Validate()
}

// runJobs 根命令：写出两个脚本并执行选中的作业
func runJobs(cmd *cobra.Command, args []string) error {
	if !doAnnual && !doQuarterly {
		return cmd.Help()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.pipeline.Run(cmd.Context(), service.RunOptions{
		Annual:    doAnnual,
		Quarterly: doQuarterly,
		AllFields: allFields,
		FailFast:  failFast,
	})
	if report != nil {
		for _, run := range report.Runs {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %-9s exit=%d %s\n",
				run.Table, run.Status, run.ExitCode, run.Duration.Round(time.Millisecond))
		}
	}
	return err
}
