package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// Printer writes status lines, colored when the writer is a terminal.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter creates a printer for w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: isTerminal(w)}
}

// Colorize returns text wrapped in color when coloring is enabled.
func (p *Printer) Colorize(text, color string) string {
	if !p.color {
		return text
	}
	return color + text + ColorReset
}

func (p *Printer) line(symbol, color, message string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Colorize(symbol, color), message)
}

// Success prints a success message
func (p *Printer) Success(message string) { p.line("✓", ColorGreen, message) }

// Error prints an error message
func (p *Printer) Error(message string) { p.line("✗", ColorRed, message) }

// Warning prints a warning message
func (p *Printer) Warning(message string) { p.line("⚠", ColorYellow, message) }

// Info prints an info message
func (p *Printer) Info(message string) { p.line("ℹ", ColorBlue, message) }

// Field prints an aligned key/value pair.
func (p *Printer) Field(key string, value any) {
	fmt.Fprintf(p.w, "  %-16s %v\n", p.Colorize(key, ColorBold), value)
}

// Spinner animates while a long call is in progress. It only draws on a
// terminal.
type Spinner struct {
	frames  []string
	current int
	prefix  string
	mu      sync.Mutex
	printer *Printer
	active  bool
	done    chan struct{}
}

// NewSpinner creates a stopped spinner.
func NewSpinner(p *Printer, prefix string) *Spinner {
	return &Spinner{
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		prefix:  prefix,
		printer: p,
		done:    make(chan struct{}),
	}
}

// Start starts the spinner
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active || !s.printer.color {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				if !s.active {
					s.mu.Unlock()
					return
				}
				frame := s.printer.Colorize(s.frames[s.current], ColorCyan)
				fmt.Fprintf(s.printer.w, "\r%s %s", frame, s.prefix)
				s.current = (s.current + 1) % len(s.frames)
				s.mu.Unlock()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop stops the spinner and clears its line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	close(s.done)
	fmt.Fprint(s.printer.w, "\r"+strings.Repeat(" ", 80)+"\r")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
