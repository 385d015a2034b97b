package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/artouc/ego-graphica/internal/knowledge"
	"github.com/artouc/ego-graphica/internal/store"
	"github.com/spf13/cobra"
)

var work store.Work

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Manage a tenant's works",
}

var workAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a work and index it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *App) error {
			w := work
			if err := a.Knowledge.CreateWork(ctx, tenantID, &w); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Work created: %s\n", w.ID)
			return nil
		})
	},
}

var workListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the newest works",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *App) error {
			return listWorks(ctx, a, tenantID, cmd.OutOrStdout())
		})
	},
}

func init() {
	RootCmd.AddCommand(workCmd)
	workCmd.AddCommand(workAddCmd)
	workCmd.AddCommand(workListCmd)
	addTenantFlag(workAddCmd)
	addTenantFlag(workListCmd)

	f := workAddCmd.Flags()
	f.StringVar(&work.Title, "title", "", "Title")
	f.StringVar(&work.Description, "description", "", "Description")
	f.StringVar(&work.Searchable, "searchable", "", "Free text used for the summary and retrieval")
	f.StringVar(&work.URL, "url", "", "Shop or detail page")
	f.BoolVar(&work.Sold, "sold", false, "Mark as sold")
	_ = workAddCmd.MarkFlagRequired("title")
}

func listWorks(ctx context.Context, a *App, tenant string, out io.Writer) error {
	works, err := a.Store.ListWorks(ctx, tenant, knowledge.SummaryWorks)
	if err != nil {
		return err
	}
	if len(works) == 0 {
		fmt.Fprintln(out, "(no works)")
		return nil
	}
	for _, w := range works {
		sold := ""
		if w.Sold {
			sold = " [sold]"
		}
		fmt.Fprintf(out, "%s  %s%s\n", w.ID, w.Title, sold)
	}
	return nil
}
