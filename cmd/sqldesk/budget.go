package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sqldesk/sqldesk/pkg/budget"
	"github.com/sqldesk/sqldesk/pkg/usage"
)

func newBudgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect per-user token budgets",
	}

	var user string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show budget usage vs limits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Budget.Enabled {
				fmt.Println("Budget enforcement is disabled.")
				return nil
			}

			tr, err := usage.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			statuses, err := budget.New(cfg.Budget.Policies, tr).Status(context.Background(), user)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Println("No budget policies apply to this user.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "POLICY\tPERIOD\tMAX TOKENS\tUSED\tREMAINING")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
					s.Policy.Username, s.Policy.Period, s.Policy.MaxTokens, s.Used, s.Remaining)
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().StringVar(&user, "user", "anonymous", "user to report on")

	cmd.AddCommand(statusCmd)
	return cmd
}
