package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Logger handles formatted output for the CLI
type Logger struct {
	out     io.Writer
	err     io.Writer
	verbose bool
	mu      sync.Mutex
}

// DefaultLogger is the default logger instance
var DefaultLogger = NewLogger(os.Stdout, os.Stderr, false)

// NewLogger creates a new logger
func NewLogger(out, err io.Writer, verbose bool) *Logger {
	return &Logger{
		out:     out,
		err:     err,
		verbose: verbose,
	}
}

// SetVerbose enables or disables verbose output
func (l *Logger) SetVerbose(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = v
}

// faint marks terminal-dim text (DEBUG lines); it's a text attribute, not
// a palette color, so it bypasses the profile-aware PastelColor path.
var faint = color.New(color.Faint).SprintFunc()

// Info prints an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.out, "%s %s\n", SkyBlue.Bold("INFO"), msg)
}

// Success prints a success message
func (l *Logger) Success(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.out, "%s %s\n", Mint.Bold("OK"), msg)
}

// Warn prints a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.out, "%s %s\n", Peach.Bold("WARN"), msg)
}

// Error prints an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.err, "%s %s\n", Rose.Bold("ERROR"), msg)
}

// Debug prints a debug message (only in verbose mode)
func (l *Logger) Debug(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.verbose {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.out, "%s %s\n", faint("DEBUG"), faint(msg))
}

// Output prints command output
func (l *Logger) Output(output string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if output == "" {
		return
	}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for _, line := range lines {
		fmt.Fprintf(l.out, "  %s\n", line)
	}
}

// Header prints a section header
func (l *Logger) Header(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.out, "\n%s\n", Lavender.Bold(msg))
	fmt.Fprintf(l.out, "%s\n", strings.Repeat("-", len(msg)))
}

// Print prints a plain message
func (l *Logger) Print(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, format, args...)
}

// Println prints a plain message with newline
func (l *Logger) Println(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, format+"\n", args...)
}

// Table prints data in a table format
func (l *Logger) Table(headers []string, rows [][]string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Calculate column widths
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	// Print header
	for i, h := range headers {
		fmt.Fprintf(l.out, "%-*s  ", widths[i], Lavender.Bold(h))
	}
	fmt.Fprintln(l.out)

	// Print separator
	for i := range headers {
		fmt.Fprintf(l.out, "%s  ", strings.Repeat("-", widths[i]))
	}
	fmt.Fprintln(l.out)

	// Print rows
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(l.out, "%-*s  ", widths[i], cell)
			}
		}
		fmt.Fprintln(l.out)
	}
}

// Package-level functions for convenience

// Info prints an info message using the default logger
func Info(format string, args ...interface{}) {
	DefaultLogger.Info(format, args...)
}

// Success prints a success message using the default logger
func Success(format string, args ...interface{}) {
	DefaultLogger.Success(format, args...)
}

// Warn prints a warning message using the default logger
func Warn(format string, args ...interface{}) {
	DefaultLogger.Warn(format, args...)
}

// Error prints an error message using the default logger
func Error(format string, args ...interface{}) {
	DefaultLogger.Error(format, args...)
}

// Debug prints a debug message using the default logger
func Debug(format string, args ...interface{}) {
	DefaultLogger.Debug(format, args...)
}

// SetVerbose sets verbose mode on the default logger
func SetVerbose(v bool) {
	DefaultLogger.SetVerbose(v)
}

// Println prints a line using the default logger
func Println(format string, args ...interface{}) {
	DefaultLogger.Println(format, args...)
}
