package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sqldesk/sqldesk/pkg/config"
	"github.com/sqldesk/sqldesk/pkg/llmcache"
)

func openReplyCache(cfg *config.Config) (*llmcache.Cache, error) {
	c, err := llmcache.New(cfg.DBPath, llmcache.Policy{
		Default:    cfg.PromptCache.TTL,
		Operations: cfg.PromptCache.Operations,
	})
	if err != nil {
		return nil, fmt.Errorf("init reply cache: %w", err)
	}
	return c, nil
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the LLM reply cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cached replies per operation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := openReplyCache(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			stats, err := c.Stats(context.Background())
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				fmt.Println("No cached replies.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OPERATION\tENTRIES\tEXPIRED\tHITS\tLAST HIT")
			for _, s := range stats {
				last := "-"
				if !s.LastHit.IsZero() {
					last = s.LastHit.Format("2006-01-02T15:04:05")
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", s.Operation, s.Entries, s.Expired, s.Hits, last)
			}
			return w.Flush()
		},
	}

	var filter llmcache.Filter
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached replies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := openReplyCache(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			n, err := c.Purge(context.Background(), filter)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d cached replies.\n", n)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&filter.ExpiredOnly, "expired", false, "only remove expired replies")
	clearCmd.Flags().StringVar(&filter.Operation, "operation", "", "only remove replies of this operation (e.g. generate_sql)")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
