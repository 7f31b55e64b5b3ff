package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(textFormatter())
	return l
}

func textFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	}
}

// Init configures level and format of the global logger. An unknown level
// falls back to info; an unknown format falls back to text.
func Init(level string, format string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
		Warn("invalid log level, defaulting to info", "level", level)
	} else {
		logger.SetLevel(lvl)
	}

	switch Format(strings.ToLower(format)) {
	case FormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		logger.SetFormatter(textFormatter())
	}

	Debug("logger initialized", "level", logger.GetLevel().String(), "format", format)
}

func SetLevel(l Level) {
	lvl, err := logrus.ParseLevel(string(l))
	if err != nil {
		return
	}
	logger.SetLevel(lvl)
}

// SetOutput redirects log output; tests use it to capture lines.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Logger exposes the underlying logrus logger, e.g. for cron's adapter.
func Logger() *logrus.Logger {
	return logger
}

func Debug(msg string, kv ...any) {
	logger.WithFields(fields(kv)).Debug(msg)
}

func Info(msg string, kv ...any) {
	logger.WithFields(fields(kv)).Info(msg)
}

func Warn(msg string, kv ...any) {
	logger.WithFields(fields(kv)).Warn(msg)
}

func Error(msg string, err error, kv ...any) {
	logger.WithFields(fields(kv)).WithError(err).Error(msg)
}

// fields turns key, value, key, value ... into logrus fields. Non-string
// keys are skipped and an odd trailing value is ignored.
func fields(kv []any) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = safeValue(kv[i+1])
	}
	return f
}

func safeValue(v any) any {
	switch t := v.(type) {
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}
