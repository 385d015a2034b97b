package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/artouc/ego-graphica/internal/runtime"
	"github.com/artouc/ego-graphica/internal/ui"
	"github.com/artouc/ego-graphica/internal/ui/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	sessionID   string
	interactive bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to a tenant's persona in the terminal",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		if !interactive && strings.TrimSpace(message) == "" {
			return fmt.Errorf("a message is required unless --interactive is set")
		}
		return withApp(cmd, func(ctx context.Context, a *App) error {
			if interactive {
				return runInteractive(ctx, a, tenantID, sessionID)
			}
			_, err := runTurn(ctx, a, tenantID, sessionID, message, ui.NewPrinter(cmd.OutOrStdout(), verbose))
			return err
		})
	},
}

func init() {
	RootCmd.AddCommand(chatCmd)
	addTenantFlag(chatCmd)
	chatCmd.Flags().StringVarP(&sessionID, "session", "s", "", "Continue an existing session")
	chatCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Start interactive TUI")
}

// runTurn runs one conversation turn and returns the session it ran in.
func runTurn(ctx context.Context, a *App, tenant, session, message string, u ui.UI) (string, error) {
	sink := ui.Sink(u)
	err := a.Conversation.Handle(ctx, runtime.Turn{Tenant: tenant, SessionID: session, Message: message}, func(ev runtime.Event) {
		if ev.Type == runtime.EventSession {
			session = ev.SessionID
		}
		sink(ev)
	})
	return session, err
}

func runInteractive(ctx context.Context, a *App, tenant, session string) error {
	var u ui.UI = ui.SilentUI{}
	submit := func(message string) {
		id, err := runTurn(ctx, a, tenant, session, message, u)
		if err == nil || session == "" {
			session = id
		}
	}

	model := tui.NewModel("ego Graphica: "+tenant, a.Guard.Policy().MaxSteps, submit)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	u = tui.NewTUI(program)

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("terminal UI: %w", err)
	}
	return nil
}
