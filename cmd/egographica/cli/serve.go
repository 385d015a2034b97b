package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *App) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			a.Obs.Log().Info().Str("provider", a.Generator.Name()).Str("cache", a.Config.Cache.Backend).
				Str("index", a.Config.Index.Backend).Msg("starting egographica")
			return a.Server().Run(ctx, a.Config.Listen)
		})
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
}
