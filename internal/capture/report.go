package capture

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// ConsoleReporter prints the capture narrative to a terminal: one
// throughput line per interval and a summary at the end. Styling is only
// applied when the writer is a terminal.
type ConsoleReporter struct {
	w      io.Writer
	styled bool

	label lipgloss.Style
	good  lipgloss.Style
	bad   lipgloss.Style
}

func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd())
	}
	return &ConsoleReporter{
		w:      w,
		styled: styled,
		label:  lipgloss.NewStyle().Bold(true),
		good:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		bad:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
}

func (c *ConsoleReporter) render(style lipgloss.Style, s string) string {
	if !c.styled {
		return s
	}
	return style.Render(s)
}

func (c *ConsoleReporter) Started(id, path string) {
	fmt.Fprintf(c.w, "%s %s (session %s)\n", c.render(c.label, "Capturing to"), path, id)
	fmt.Fprintln(c.w, "Stop with Ctrl-C")
}

func (c *ConsoleReporter) Progress(p Progress) {
	fmt.Fprintf(c.w, "%4.3f MiB / %4.3f sec = %4.3f MiB/second\n", p.MiB(), p.Interval.Seconds(), p.Rate())
}

func (c *ConsoleReporter) Finished(r *Result) {
	switch {
	case r.Err != nil:
		fmt.Fprintf(c.w, "%s %v\n", c.render(c.bad, "Error:"), r.Err)
	case r.Reason == StopInterrupted:
		fmt.Fprintln(c.w, "User cancel, exiting...")
	case r.Reason == StopBudget:
		fmt.Fprintln(c.w, c.render(c.good, "Requested number of samples captured"))
	case r.Reason == StopStreamEnded:
		fmt.Fprintln(c.w, "Device stopped streaming")
	}

	if r.Reason == StopConfigFailed || r.Duration == 0 {
		return
	}
	fmt.Fprintf(c.w, "%s %.4f s\n", c.render(c.label, "Total time:"), r.Duration.Seconds())
	fmt.Fprintf(c.w, "%s %d bytes to %s\n", c.render(c.label, "Wrote"), r.Bytes, r.Path)
	if r.Oversized {
		fmt.Fprintln(c.w, c.render(c.bad, "Warning: capture exceeds 4 GiB, WAV size fields are saturated"))
	}
}
