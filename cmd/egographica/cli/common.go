package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// withApp loads the configuration, wires the app and runs fn with it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	obs := newObserver()
	defer obs.Close()

	a, err := newApp(cmd.Context(), cfg, obs)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}
