// Package ui renders conversation events for a terminal user.
package ui

import (
	"fmt"
	"io"

	"github.com/artouc/ego-graphica/internal/runtime"
)

// UI receives a turn's progress.
type UI interface {
	UpdateStatus(status string)
	Delta(text string)
	Complete(message string)
	Log(msg string)
}

type SilentUI struct{}

func (SilentUI) UpdateStatus(status string) {}
func (SilentUI) Delta(text string)          {}
func (SilentUI) Complete(message string)    {}
func (SilentUI) Log(msg string)             {}

// Printer streams replies to a writer as plain text. Status lines and logs are
// written only when verbose.
type Printer struct {
	w       io.Writer
	verbose bool
}

func NewPrinter(w io.Writer, verbose bool) *Printer {
	return &Printer{w: w, verbose: verbose}
}

func (p *Printer) UpdateStatus(status string) {
	if p.verbose {
		fmt.Fprintf(p.w, "[%s]\n", status)
	}
}

func (p *Printer) Delta(text string) {
	fmt.Fprint(p.w, text)
}

func (p *Printer) Complete(message string) {
	fmt.Fprintln(p.w)
}

func (p *Printer) Log(msg string) {
	if p.verbose {
		fmt.Fprintf(p.w, "  %s\n", msg)
	}
}

// Sink adapts a UI to the conversation's event handler.
func Sink(u UI) runtime.EventHandler {
	return func(ev runtime.Event) {
		switch ev.Type {
		case runtime.EventSession:
			u.UpdateStatus("session " + ev.SessionID)
		case runtime.EventTiming:
			u.Log(fmt.Sprintf("%s %dms", ev.Category, ev.DurationMs))
		case runtime.EventTextDelta:
			u.Delta(ev.Text)
		case runtime.EventMessageComplete:
			u.Complete(ev.Text)
		case runtime.EventToolCall:
			u.Log("tool " + ev.Name)
		case runtime.EventDone:
			u.UpdateStatus(fmt.Sprintf("done, %d messages in session", ev.MessageCount))
		case runtime.EventError:
			u.UpdateStatus("error: " + ev.Message)
		}
	}
}
