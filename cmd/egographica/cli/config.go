package cli

import (
	"fmt"

	"github.com/artouc/ego-graphica/internal/credential"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage stored settings such as provider API keys",
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vault, closeStore, err := openVault()
		if err != nil {
			return err
		}
		defer closeStore()

		if err := vault.Set(args[0], args[1]); err != nil {
			return fmt.Errorf("failed to set config: %w", err)
		}
		note := ""
		if credential.IsSecretKey(args[0]) {
			note = " (encrypted)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s%s\n", args[0], note)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vault, closeStore, err := openVault()
		if err != nil {
			return err
		}
		defer closeStore()

		val, err := vault.Display(args[0])
		if err != nil {
			return err
		}
		if val == "" {
			val = "(not set)"
		}
		fmt.Fprintln(cmd.OutOrStdout(), val)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
}

func openVault() (*credential.Vault, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	s, vault, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return vault, func() { s.Close() }, nil
}
