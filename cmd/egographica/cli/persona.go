package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/artouc/ego-graphica/internal/persona"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Manage a tenant's persona",
}

var personaImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Validate and store a persona from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *App) error {
			return importPersona(ctx, a, tenantID, args[0], cmd.OutOrStdout())
		})
	},
}

var personaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored persona",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *App) error {
			return showPersona(ctx, a, tenantID, cmd.OutOrStdout())
		})
	},
}

func init() {
	RootCmd.AddCommand(personaCmd)
	personaCmd.AddCommand(personaImportCmd)
	personaCmd.AddCommand(personaShowCmd)
	addTenantFlag(personaImportCmd)
	addTenantFlag(personaShowCmd)
}

func importPersona(ctx context.Context, a *App, tenant, path string, out io.Writer) error {
	p, err := persona.LoadFile(path)
	if err != nil {
		return err
	}
	result := persona.Validate(*p)
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if err := a.Knowledge.PutPersona(ctx, tenant, p); err != nil {
		return err
	}
	fmt.Fprintf(out, "Persona stored for %s (motif: %s, tone: %s)\n", tenant, p.Motif, p.Tone)
	return nil
}

func showPersona(ctx context.Context, a *App, tenant string, out io.Writer) error {
	p, err := a.Store.GetPersona(ctx, tenant)
	if err != nil {
		return err
	}
	if p == nil {
		fmt.Fprintln(out, "(not configured)")
		return nil
	}
	enc := yaml.NewEncoder(out)
	defer enc.Close()
	return enc.Encode(p)
}
