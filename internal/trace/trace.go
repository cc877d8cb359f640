// Package trace writes one line per filesystem operation when debugging is on.
package trace

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Octal formats a mode or flag word the way the trace shows it.
type Octal uint32

func (o Octal) String() string {
	return fmt.Sprintf("%#o", uint32(o))
}

// Emitter prints "op(arg, arg, ...)" lines. A nil or disabled Emitter is a no-op.
type Emitter struct {
	logger *zap.Logger
	opName *color.Color
}

// New returns an emitter writing to w, or a disabled one when enabled is false.
// Operation names are coloured only when w is a terminal.
func New(enabled bool, w io.Writer) *Emitter {
	if !enabled {
		return &Emitter{}
	}
	if w == nil {
		w = os.Stderr
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			TimeKey:    "T",
			MessageKey: "M",
			LineEnding: zapcore.DefaultLineEnding,
			EncodeTime: zapcore.TimeEncoderOfLayout("15:04:05.000"),
		}),
		zapcore.Lock(zapcore.AddSync(w)),
		zapcore.DebugLevel,
	)

	opName := color.New(color.FgCyan, color.Bold)
	if !isTerminal(w) {
		opName.DisableColor()
	}
	return &Emitter{logger: zap.New(core), opName: opName}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Enabled reports whether Trace produces output.
func (e *Emitter) Enabled() bool {
	return e != nil && e.logger != nil
}

// Trace emits one line for op with its arguments.
func (e *Emitter) Trace(op string, args ...any) {
	if !e.Enabled() {
		return
	}
	e.logger.Debug(Format(e.opName.Sprint(op), args...))
}

// Format renders op and its arguments without colour.
func Format(op string, args ...any) string {
	var b strings.Builder
	b.WriteString(op)
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprint(&b, a)
	}
	b.WriteByte(')')
	return b.String()
}

// Sync flushes buffered lines.
func (e *Emitter) Sync() error {
	if !e.Enabled() {
		return nil
	}
	return e.logger.Sync()
}
