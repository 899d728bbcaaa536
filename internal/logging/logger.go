package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

type Logger struct {
	*slog.Logger
	verbose bool
}

// NewLogger creates a logger writing text or JSON records. Timestamps are
// stripped because the scheduler's own log already carries them.
func NewLogger(format string, verbose bool, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	var application string
	if len(os.Args) > 0 {
		application = filepath.Base(os.Args[0])
	}

	return &Logger{
		Logger:  slog.New(handler).With(slog.String("service", application)),
		verbose: verbose,
	}
}

// SetAsDefault routes both slog and the standard log package through this
// logger.
func (l *Logger) SetAsDefault() {
	slog.SetDefault(l.Logger)
	if l.verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		slog.SetLogLoggerLevel(slog.LevelInfo)
	}
}

// Verbose logs a message only if verbose logging is enabled.
func (l *Logger) Verbose(msg string, args ...any) {
	if l.verbose {
		l.Debug(msg, args...)
	}
}

// LogRunStats logs the run statistics in a structured way.
func (l *Logger) LogRunStats(stats map[string]interface{}) {
	attrs := make([]any, 0, len(stats)*2)
	for k, v := range stats {
		attrs = append(attrs, k, v)
	}
	l.Info("run_completed", attrs...)
}

// LogError logs an error with context.
func (l *Logger) LogError(msg string, err error, args ...any) {
	allArgs := append([]any{slog.String("error", err.Error())}, args...)
	l.Error(msg, allArgs...)
}
