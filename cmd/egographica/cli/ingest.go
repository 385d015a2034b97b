package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/artouc/ego-graphica/internal/knowledge"
	"github.com/spf13/cobra"
)

var (
	ingestTitle    string
	ingestTextFile string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add reference material to a tenant's knowledge",
}

var ingestFileCmd = &cobra.Command{
	Use:   "file [path]",
	Short: "Ingest a plain-text file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		ct := mime.TypeByExtension(filepath.Ext(args[0]))
		if ct == "" {
			ct = "text/plain"
		}
		return withApp(cmd, func(ctx context.Context, a *App) error {
			f, err := a.Knowledge.IngestFile(ctx, tenantID, knowledge.FileInput{
				Filename:    filepath.Base(args[0]),
				Title:       ingestTitle,
				ContentType: ct,
				Data:        data,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "File ingested: %s (%s)\n", f.ID, f.TextPath)
			return nil
		})
	},
}

var ingestURLCmd = &cobra.Command{
	Use:   "url [url]",
	Short: "Ingest a web page from text extracted beforehand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var text string
		if ingestTextFile != "" {
			data, err := os.ReadFile(ingestTextFile)
			if err != nil {
				return err
			}
			text = string(data)
		}
		return withApp(cmd, func(ctx context.Context, a *App) error {
			u, err := a.Knowledge.IngestURL(ctx, tenantID, knowledge.URLInput{URL: args[0], Title: ingestTitle, Text: text})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "URL ingested: %s\n", u.ID)
			return nil
		})
	},
}

func init() {
	RootCmd.AddCommand(ingestCmd)
	ingestCmd.AddCommand(ingestFileCmd)
	ingestCmd.AddCommand(ingestURLCmd)
	for _, c := range []*cobra.Command{ingestFileCmd, ingestURLCmd} {
		addTenantFlag(c)
		c.Flags().StringVar(&ingestTitle, "title", "", "Display title")
	}
	ingestURLCmd.Flags().StringVar(&ingestTextFile, "text-file", "", "File holding the page's extracted text")
}
