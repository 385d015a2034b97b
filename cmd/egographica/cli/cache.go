package cli

import (
	"context"
	"fmt"

	"github.com/artouc/ego-graphica/internal/cache"
	"github.com/spf13/cobra"
)

var signalName string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and invalidate the cache tiers",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Invalidate a tenant's cached context",
	RunE: func(cmd *cobra.Command, args []string) error {
		signal, ok := cache.ParseSignal(signalName)
		if !ok {
			return fmt.Errorf("unknown signal %q (full, persona, summary)", signalName)
		}
		return withApp(cmd, func(ctx context.Context, a *App) error {
			a.Contexts.Invalidate(ctx, tenantID, signal)
			fmt.Fprintf(cmd.OutOrStdout(), "Context invalidated for %s (%s)\n", tenantID, signal)
			return nil
		})
	},
}

var cacheVectorsCmd = &cobra.Command{
	Use:   "invalidate-vectors",
	Short: "Drop a tenant's cached similarity results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *App) error {
			n := a.Vectors.Invalidate(ctx, tenantID)
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d vector cache entries for %s\n", n, tenantID)
			return nil
		})
	},
}

var cacheEmbeddingsCmd = &cobra.Command{
	Use:   "clear-embeddings",
	Short: "Drop every cached embedding",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *App) error {
			n := a.Embeddings.Clear(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d embedding cache entries\n", n)
			return nil
		})
	},
}

var cacheContextsCmd = &cobra.Command{
	Use:   "clear-contexts",
	Short: "Drop every tenant's cached context",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *App) error {
			n := a.Contexts.Clear(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d context cache entries\n", n)
			return nil
		})
	},
}

func init() {
	RootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd, cacheVectorsCmd, cacheEmbeddingsCmd, cacheContextsCmd)
	addTenantFlag(cacheInvalidateCmd)
	addTenantFlag(cacheVectorsCmd)
	cacheInvalidateCmd.Flags().StringVar(&signalName, "signal", "full", "full, persona or summary")
}
