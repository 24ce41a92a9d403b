// Package ui holds the lipgloss styles for CLI output.
package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Styles groups the output styles used across commands.
type Styles struct {
	Error   lipgloss.Style
	Warning lipgloss.Style
	Success lipgloss.Style
	Muted   lipgloss.Style
	Bold    lipgloss.Style
}

// NewStyles builds styles for the given output stream. Colour is
// disabled when the stream is not a terminal.
func NewStyles(w io.Writer) Styles {
	plain := true
	if f, ok := w.(*os.File); ok {
		plain = !term.IsTerminal(int(f.Fd()))
	}
	if plain {
		s := lipgloss.NewStyle()
		return Styles{Error: s, Warning: s, Success: s, Muted: s, Bold: s}
	}
	return Styles{
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Bold:    lipgloss.NewStyle().Bold(true),
	}
}

// Errorf prints a styled error line to stderr.
func Errorf(format string, args ...any) {
	styles := NewStyles(os.Stderr)
	fmt.Fprintln(os.Stderr, styles.Error.Render("error: "+fmt.Sprintf(format, args...)))
}

// spinnerFrames are the device-flow spinner glyphs.
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner renders an animated frame sequence on stderr until Stop.
type Spinner struct {
	message string
	done    chan struct{}
	stopped chan struct{}
}

// NewSpinner starts a spinner with the given message.
func NewSpinner(message string) *Spinner {
	s := &Spinner{
		message: message,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Spinner) run() {
	defer close(s.stopped)
	ticker := time.NewTicker(120 * time.Millisecond)
	defer ticker.Stop()
	frame := 0
	for {
		select {
		case <-s.done:
			fmt.Fprint(os.Stderr, "\r\033[K")
			return
		case <-ticker.C:
			fmt.Fprintf(os.Stderr, "\r%s %s", spinnerFrames[frame%len(spinnerFrames)], s.message)
			frame++
		}
	}
}

// Stop clears the spinner line.
func (s *Spinner) Stop() {
	close(s.done)
	<-s.stopped
}
