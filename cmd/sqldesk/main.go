package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sqldesk/sqldesk/pkg/config"
	"github.com/sqldesk/sqldesk/pkg/logx"
)

var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "sqldesk",
		Short:         "sqldesk: ask your database questions in plain language",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "sqldesk.yaml", "path to config file")

	root.AddCommand(
		newServeCmd(),
		newHistoryCmd(),
		newTrainCmd(),
		newTrainingCmd(),
		newCacheCmd(),
		newUsageCmd(),
		newBudgetCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and sets up logging for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logx.Init(logx.Opts{Environment: logx.ParseEnvironment(cfg.Environment)})
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sqldesk version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
