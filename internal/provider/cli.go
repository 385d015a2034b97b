package provider

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// CLIProvider runs a local agent binary (claude, gemini, codex ...) and
// streams its stdout line by line. It cannot call tools.
type CLIProvider struct {
	binaryPath string
	args       []string
}

func NewCLIProvider(binaryPath string, args []string) (*CLIProvider, error) {
	if binaryPath == "" {
		return nil, fmt.Errorf("binary path is required for CLI provider")
	}
	return &CLIProvider{
		binaryPath: binaryPath,
		args:       args,
	}, nil
}

func (p *CLIProvider) Name() string {
	return "cli-" + filepath.Base(p.binaryPath)
}

// renderPrompt folds the system prompt and the conversation into one text.
func renderPrompt(req Request) string {
	var b strings.Builder
	if req.System != "" {
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	for _, m := range FlattenToolTurns(req.Messages) {
		label := "顧客"
		if m.Role == RoleAssistant {
			label = "あなた"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, m.Content)
	}
	b.WriteString("あなた:")
	return b.String()
}

func (p *CLIProvider) Stream(ctx context.Context, req Request, fn Handler) error {
	fullArgs := append(append([]string{}, p.args...), renderPrompt(req))
	cmd := exec.CommandContext(ctx, p.binaryPath, fullArgs...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("cli agent pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("cli agent failed to start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	first := true
	var words int
	for scanner.Scan() {
		line := scanner.Text()
		if !first {
			line = "\n" + line
		}
		first = false
		words += len(strings.Fields(line))
		if err := fn(Event{Type: EventText, Text: line}); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return err
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("cli agent interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("cli agent failed: %w\nOutput: %s", err, stderr.String())
	}

	return fn(Event{Type: EventDone, Usage: Usage{CompletionTokens: words, TotalTokens: words}})
}
