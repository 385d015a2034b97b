// Package tui is the interactive terminal chat view.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUI forwards conversation progress into a running program.
type TUI struct {
	program *tea.Program
}

func NewTUI(p *tea.Program) *TUI {
	return &TUI{program: p}
}

func (t *TUI) UpdateStatus(status string) {
	t.program.Send(StatusMsg(status))
}

func (t *TUI) Delta(text string) {
	t.program.Send(DeltaMsg(text))
}

func (t *TUI) Complete(message string) {
	t.program.Send(CompleteMsg(message))
}

func (t *TUI) Log(msg string) {
	t.program.Send(LogMsg(msg))
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))
)

type (
	StatusMsg   string
	DeltaMsg    string
	CompleteMsg string
	LogMsg      string
	// TurnDoneMsg is returned by the submit command once the turn ends.
	TurnDoneMsg struct{}
)

// SubmitFunc runs one turn for message and returns when it has ended.
type SubmitFunc func(message string)

type Model struct {
	Title      string
	Status     string
	Step       int
	MaxSteps   int
	Transcript []string
	Pending    string
	Busy       bool
	Input      textinput.Model
	Progress   progress.Model
	Viewport   viewport.Model
	Quitting   bool
	Ready      bool
	Width      int
	Height     int

	submit SubmitFunc
}

func NewModel(title string, maxSteps int, submit SubmitFunc) Model {
	in := textinput.New()
	in.Placeholder = "メッセージを入力"
	in.Focus()
	return Model{
		Title:    title,
		Status:   "ready",
		MaxSteps: maxSteps,
		Input:    in,
		Progress: progress.New(progress.WithDefaultGradient()),
		submit:   submit,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.Quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.Input.Value())
			if text == "" || m.Busy {
				return m, nil
			}
			m.Input.SetValue("")
			m.Busy = true
			m.Step = 0
			m.Transcript = append(m.Transcript, userStyle.Render("あなた: ")+text)
			m.refresh()
			submit := m.submit
			return m, func() tea.Msg {
				if submit != nil {
					submit(text)
				}
				return TurnDoneMsg{}
			}
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		if !m.Ready {
			m.Viewport = viewport.New(msg.Width, msg.Height-8)
			m.Ready = true
		} else {
			m.Viewport.Width = msg.Width
			m.Viewport.Height = msg.Height - 8
		}
		m.Progress.Width = msg.Width - 4
		m.refresh()

	case DeltaMsg:
		m.Pending += string(msg)
		m.refresh()

	case CompleteMsg:
		m.Pending = ""
		m.Step++
		m.Transcript = append(m.Transcript, string(msg))
		m.refresh()

	case LogMsg:
		m.Transcript = append(m.Transcript, dimStyle.Render("  "+string(msg)))
		m.refresh()

	case StatusMsg:
		m.Status = string(msg)

	case TurnDoneMsg:
		m.Busy = false
		m.Pending = ""
		m.refresh()
	}

	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	cmds = append(cmds, cmd)
	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) refresh() {
	lines := m.Transcript
	if m.Pending != "" {
		lines = append(lines[:len(lines):len(lines)], m.Pending)
	}
	m.Viewport.SetContent(strings.Join(lines, "\n"))
	m.Viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.Ready {
		return "\n  Initializing..."
	}

	header := titleStyle.Render(" " + m.Title + " ")
	status := infoStyle.Render(fmt.Sprintf(" %s ", m.Status))
	steps := fmt.Sprintf(" Step: %d/%d ", m.Step, m.MaxSteps)

	ratio := 0.0
	if m.MaxSteps > 0 {
		ratio = min(float64(m.Step)/float64(m.MaxSteps), 1)
	}

	view := fmt.Sprintf("%s%s%s\n\n%s\n\n%s\n%s",
		header, status, steps,
		m.Viewport.View(),
		m.Progress.ViewAs(ratio),
		m.Input.View())

	if m.Quitting {
		return view + "\n  Quitting...\n"
	}
	return view
}
