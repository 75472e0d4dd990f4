package log

import (
	"context"
	"fmt"
	"os"

	"github.com/getpup/pupsourcing/es"
	"github.com/sirupsen/logrus"
)

// TimestampFormat defines the timestamp format in log output.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

func init() {
	// Log statements emitted before configuration is loaded go to stdout.
	logrus.StandardLogger().Out = os.Stdout
}

// Configure sets the format and level on all loggers.
// An empty format keeps the default formatter; an unparsable level falls back to info.
func Configure(loggers []*logrus.Logger, format string, level string) error {
	var formatter logrus.Formatter
	switch format {
	case "json":
		formatter = &logrus.JSONFormatter{TimestampFormat: TimestampFormat}
	case "text":
		formatter = &logrus.TextFormatter{TimestampFormat: TimestampFormat}
	case "":
	default:
		return fmt.Errorf("invalid logger format %q", format)
	}

	logrusLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logrusLevel = logrus.InfoLevel
	}

	for _, l := range loggers {
		l.SetLevel(logrusLevel)
		if formatter != nil {
			l.Formatter = formatter
		}
	}

	return nil
}

// Logger adapts a logrus entry to es.Logger so it can be handed to every Config.
type Logger struct {
	entry *logrus.Entry
}

var _ es.Logger = (*Logger)(nil)

// New returns a Logger writing through entry.
func New(entry *logrus.Entry) *Logger {
	return &Logger{entry: entry}
}

// Default returns a Logger on the standard logrus logger tagged with component.
func Default(component string) *Logger {
	return New(logrus.StandardLogger().WithField("component", component))
}

// Debug logs at debug level. args are alternating key/value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.with(ctx, args).Debug(msg)
}

// Info logs at info level. args are alternating key/value pairs.
func (l *Logger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.with(ctx, args).Info(msg)
}

// Error logs at error level. args are alternating key/value pairs.
func (l *Logger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.with(ctx, args).Error(msg)
}

func (l *Logger) with(ctx context.Context, args []interface{}) *logrus.Entry {
	return l.entry.WithContext(ctx).WithFields(Fields(args))
}

// Fields converts alternating key/value pairs into logrus fields.
// A trailing key without a value is recorded under "!BADKEY".
func Fields(args []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fields["!BADKEY"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		fields[key] = args[i+1]
	}
	return fields
}
