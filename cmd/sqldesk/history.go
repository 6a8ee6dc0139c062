package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or clear question history",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's questions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			hist, err := openHistory(cfg)
			if err != nil {
				return err
			}
			defer hist.Close()

			ctx := context.Background()
			recs, err := hist.ListHistory(ctx, user)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No questions found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tFOLLOW-UPS\tQUESTION")
			for _, r := range recs {
				ups, err := hist.ListFollowUps(ctx, r.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.ID, r.Timestamp.Format("2006-01-02T15:04:05"), len(ups), r.Question)
			}
			return w.Flush()
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all questions of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			hist, err := openHistory(cfg)
			if err != nil {
				return err
			}
			defer hist.Close()

			n, err := hist.ClearHistory(context.Background(), user)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d questions for %s.\n", n, user)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&user, "user", "anonymous", "username or email the history belongs to")
	cmd.AddCommand(listCmd, clearCmd)
	return cmd
}
