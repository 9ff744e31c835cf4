package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Logger is a value type; the zero value discards everything.
// Loggers derived from a Service follow its sinks across Apply calls.
type Logger struct {
	svc     *Service
	base    zerolog.Logger
	hasBase bool
	fields  []Field
}

// Nop returns a logger that never writes.
func Nop() Logger { return Logger{base: zerolog.Nop(), hasBase: true} }

// NewConsole builds a standalone console logger for use before the Service exists.
func NewConsole(level string) Logger {
	setGlobals()
	zl := zerolog.New(consoleWriter(os.Stdout)).
		Level(ParseLevel(level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	return Logger{base: zl, hasBase: true}
}

// NewWriter logs JSON lines to w. Handy in tests that assert on output.
func NewWriter(w io.Writer, level string) Logger {
	zl := zerolog.New(w).Level(ParseLevel(level, zerolog.DebugLevel)).With().Timestamp().Logger()
	return Logger{base: zl, hasBase: true}
}

func (l Logger) root() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.hasBase:
		return l.base
	default:
		return zerolog.Nop()
	}
}

func (l Logger) Enabled(level Level) bool { return level >= l.root().GetLevel() }

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	cp := l
	cp.fields = append(append([]Field(nil), l.fields...), fields...)
	return cp
}

func (l Logger) Debug(msg string, fields ...Field) { l.log(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.log(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.log(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.log(zerolog.ErrorLevel, msg, fields) }

func (l Logger) log(level zerolog.Level, msg string, fields []Field) {
	zl := l.root()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if c := caller(3); c != "" {
		e.Str(zerolog.CallerFieldName, c)
	}
	for _, f := range l.fields {
		if f != nil {
			f(e)
		}
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok || file == "" {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// StackTrace renders up to maxFrames frames of the current goroutine, skipping skip callers.
func StackTrace(skip, maxFrames int) string {
	if maxFrames <= 0 {
		maxFrames = 16
	}
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for i := 0; i < maxFrames; {
		fr, more := frames.Next()
		if fr.File != "" {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(fr.Function)
			b.WriteString("\n  ")
			b.WriteString(fr.File)
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(fr.Line))
			i++
		}
		if !more {
			break
		}
	}
	return b.String()
}

func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

func setGlobals() {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
}
