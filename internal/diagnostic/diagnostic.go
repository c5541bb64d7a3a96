// Package diagnostic is a small logger writing through fmt.Fprintln,
// colorized the way github.com/fatih/color is used elsewhere in the
// retrieval pack (Manu343726/cucaracha's cmd/cpu/debug.go), that separates
// status lines, stage tracing and fatal diagnostics at a verbosity the
// CLI's -d/--debug flag raises.
package diagnostic

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Level is a logging verbosity threshold.
type Level int

const (
	// LevelWarn is the default: status lines ("no changes found",
	// "function X has changed") and genuine warnings are always shown.
	LevelWarn Level = iota
	// LevelInfo additionally shows one line per pipeline stage.
	LevelInfo
	// LevelDebug additionally shows per-entity tracing.
	LevelDebug
)

// Logger writes status lines, stage tracing and fatal diagnostics to the
// given writers, colorized when the writer is a terminal (fatih/color
// degrades to plain text automatically otherwise).
type Logger struct {
	level Level
	out   io.Writer
	err   io.Writer

	warn     *color.Color
	info     *color.Color
	debug    *color.Color
	errColor *color.Color
}

// New returns a Logger gated at level, writing status output to stdout
// and fatal diagnostics to stderr.
func New(level Level) *Logger {
	return &Logger{
		level:    level,
		out:      os.Stdout,
		err:      os.Stderr,
		warn:     color.New(color.FgYellow),
		info:     color.New(color.FgCyan),
		debug:    color.New(color.FgHiBlack),
		errColor: color.New(color.FgRed, color.Bold),
	}
}

// Status reports a warning/informational message that is always shown
// regardless of verbosity, such as "no changes found" and
// "function X has changed" lines.
func (l *Logger) Status(format string, args ...any) {
	fmt.Fprintln(l.out, l.warn.Sprintf(format, args...))
}

// Info reports a per-stage trace, shown at -d and above.
func (l *Logger) Info(format string, args ...any) {
	if l.level < LevelInfo {
		return
	}
	fmt.Fprintln(l.out, l.info.Sprintf(format, args...))
}

// Debug reports a per-entity trace, shown at -dd and above.
func (l *Logger) Debug(format string, args ...any) {
	if l.level < LevelDebug {
		return
	}
	fmt.Fprintln(l.out, l.debug.Sprintf(format, args...))
}

// Error reports a fatal diagnostic (operational failure or unreconcilable
// difference) to stderr. The caller still selects the process exit code.
func (l *Logger) Error(err error) {
	fmt.Fprintln(l.err, l.errColor.Sprintf("%s", err))
}
