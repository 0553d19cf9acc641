// Package logger provides leveled structured logging.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger provides leveled logging.
type Logger struct {
	level  Level
	format string
	zl     zerolog.Logger
}

var defaultLogger *Logger

func parseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l Level) toZerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the default logger with the specified level and format.
// Format "text" writes human-readable console lines; anything else writes JSON.
func Init(level string, format string) {
	initWith(os.Stderr, level, format)
}

// SetOutput redirects the default logger, keeping its level and format.
func SetOutput(w io.Writer) {
	if defaultLogger == nil {
		initWith(w, "info", "json")
		return
	}
	lvl := "info"
	switch defaultLogger.level {
	case DebugLevel:
		lvl = "debug"
	case WarnLevel:
		lvl = "warn"
	case ErrorLevel:
		lvl = "error"
	}
	initWith(w, lvl, defaultLogger.format)
}

func initWith(w io.Writer, level, format string) {
	l := parseLevel(level)
	format = strings.ToLower(format)

	out := w
	if format == "text" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339Nano, NoColor: true}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zl := zerolog.New(out).Level(l.toZerolog()).With().Timestamp().Logger()
	if format == "text" {
		zl = zl.With().CallerWithSkipFrameCount(4).Logger()
	}

	defaultLogger = &Logger{level: l, format: format, zl: zl}
}

func emit(lvl Level, format string, args ...interface{}) {
	if defaultLogger == nil || defaultLogger.level > lvl {
		return
	}
	var ev *zerolog.Event
	switch lvl {
	case DebugLevel:
		ev = defaultLogger.zl.Debug()
	case WarnLevel:
		ev = defaultLogger.zl.Warn()
	case ErrorLevel:
		ev = defaultLogger.zl.Error()
	default:
		ev = defaultLogger.zl.Info()
	}
	ev.Msg(fmt.Sprintf(format, args...))
}

func Debug(format string, args ...interface{}) {
	emit(DebugLevel, format, args...)
}

func Info(format string, args ...interface{}) {
	emit(InfoLevel, format, args...)
}

func Warn(format string, args ...interface{}) {
	emit(WarnLevel, format, args...)
}

func Error(format string, args ...interface{}) {
	emit(ErrorLevel, format, args...)
}

func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if defaultLogger != nil {
		defaultLogger.zl.WithLevel(zerolog.FatalLevel).Msg(msg)
	} else {
		fmt.Fprintln(os.Stderr, "[FATAL] "+msg)
	}
	os.Exit(1)
}
