package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Terminal prints notifications as single styled lines.
type Terminal struct {
	mu      sync.Mutex
	out     io.Writer
	success lipgloss.Style
	failure lipgloss.Style
}

// NewTerminal renders to out. Colors are used only when out is a terminal
// that supports them.
func NewTerminal(out io.Writer) *Terminal {
	renderer := lipgloss.NewRenderer(out)
	return &Terminal{
		out:     out,
		success: renderer.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		failure: renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
}

func (t *Terminal) Success(message string) {
	t.print(t.success.Render("✓"), message)
}

func (t *Terminal) Failure(err error) {
	t.print(t.failure.Render("✗"), err.Error())
}

func (t *Terminal) print(mark, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s %s\n", mark, message)
}
