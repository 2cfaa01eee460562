// Package logger builds the structured logger shared by every duocam component.
package logger

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is an alias so callers don't need to import logrus for field maps.
type Fields = logrus.Fields

// Options controls where and how verbosely the logger writes.
type Options struct {
	// Level is a logrus level name ("debug", "info", ...). Empty means info.
	Level string
	// Dir receives a rolling daily log file. Empty disables file output.
	Dir string
	// NoColors disables ANSI colors on stderr.
	NoColors bool
}

// New creates a logger writing to stderr and, when Options.Dir is set, a
// rolling file managed by lumberjack.
func New(opts Options) (*logrus.Logger, error) {
	l := logrus.New()

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}
	l.SetLevel(level)

	l.SetFormatter(&formatter.Formatter{
		NoColors:        opts.NoColors,
		TimestampFormat: "02 Jan 06 - 15:04:05.000",
		HideKeys:        false,
		CallerFirst:     true,
		FieldsOrder:     []string{"component", "source", "state"},
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
		},
	})

	writers := []io.Writer{os.Stderr}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, fmt.Sprintf("duocam-%s.log", time.Now().Format("2006-01-02"))),
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}

	l.SetOutput(io.MultiWriter(writers...))
	l.SetReportCaller(true)

	return l, nil
}

// Nop returns a logger that discards everything. Used by tests and as the
// default when a component is constructed without a logger.
func Nop() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return Nop()
	}
	return l
}

// ErrorWithTraceID logs msg at error level with a fresh trace id attached and
// returns that id so it can be correlated with telemetry rows.
func ErrorWithTraceID(l logrus.FieldLogger, fields Fields, msg string) string {
	traceID := "unknown"
	if id, err := uuid.NewRandom(); err == nil {
		traceID = id.String()
	}

	if fields == nil {
		fields = Fields{}
	}
	fields["trace_id"] = traceID
	OrNop(l).WithFields(fields).Error(msg)

	return traceID
}
