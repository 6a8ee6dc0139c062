package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sqldesk/sqldesk/pkg/assistant"
	"github.com/sqldesk/sqldesk/pkg/models"
)

func newTrainCmd() *cobra.Command {
	var req models.TrainingRequest
	var file string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Add training data: a question with its SQL, DDL, or documentation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				if strings.HasSuffix(strings.ToLower(file), ".sql") {
					req.DDL = string(data)
				} else {
					req.Documentation = string(data)
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := assistant.OpenStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			// Train only touches the store, the LLM is never called.
			a, err := assistant.New(assistant.Options{Completer: offline{}, Store: store})
			if err != nil {
				return err
			}
			id, err := a.Train(context.Background(), req)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Question, "question", "", "example question (requires --sql)")
	cmd.Flags().StringVar(&req.SQL, "sql", "", "SQL answering --question")
	cmd.Flags().StringVar(&req.DDL, "ddl", "", "CREATE TABLE statement")
	cmd.Flags().StringVar(&req.Documentation, "doc", "", "business documentation")
	cmd.Flags().StringVar(&file, "file", "", "read DDL (.sql) or documentation from a file")
	return cmd
}

func newTrainingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "training",
		Short: "List or remove training data",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored training data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := assistant.OpenStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			items, err := store.ListTraining(context.Background())
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("No training data found.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tQUESTION\tCONTENT")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.ID, it.Type, it.Question, oneLine(it.Content, 60))
			}
			return w.Flush()
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove one training item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := assistant.OpenStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ok, err := store.RemoveTraining(context.Background(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no training data with id %s", args[0])
			}
			fmt.Println("Removed.")
			return nil
		},
	}

	cmd.AddCommand(listCmd, removeCmd)
	return cmd
}

// offline is a completer for commands that must not reach an LLM.
type offline struct{}

func (offline) Complete(context.Context, string, []models.ChatMessage) (string, error) {
	return "", fmt.Errorf("no LLM available in this command")
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
