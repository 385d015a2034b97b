package cli

import (
	"fmt"
	"os"

	"github.com/artouc/ego-graphica/internal/config"
	"github.com/artouc/ego-graphica/internal/observe"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	jsonLogs   bool
	tenantID   string
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "egographica",
	Short: "Conversational storefront for artists",
	Long: `egographica answers customers in an artist's own voice. It serves a streaming
chat endpoint backed by cached persona and knowledge context, real-time retrieval
and a bounded tool-calling loop.`,
	SilenceUsage: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.egographica/config.yaml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "Log as JSON")
}

func addTenantFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant (artist) id")
	_ = cmd.MarkFlagRequired("tenant")
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

func newObserver() *observe.Observer {
	if jsonLogs {
		return observe.NewJSON(os.Stderr, verbose)
	}
	return observe.New(os.Stderr, verbose)
}
