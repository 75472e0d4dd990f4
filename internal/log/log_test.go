package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	t.Run("json format and debug level", func(t *testing.T) {
		l := logrus.New()

		require.NoError(t, Configure([]*logrus.Logger{l}, "json", "debug"))

		assert.Equal(t, logrus.DebugLevel, l.Level)
		assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)
	})

	t.Run("text format", func(t *testing.T) {
		l := logrus.New()

		require.NoError(t, Configure([]*logrus.Logger{l}, "text", "warn"))

		assert.Equal(t, logrus.WarnLevel, l.Level)
		assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		l := logrus.New()
		l.SetLevel(logrus.TraceLevel)

		require.NoError(t, Configure([]*logrus.Logger{l}, "", "loud"))

		assert.Equal(t, logrus.InfoLevel, l.Level)
	})

	t.Run("invalid format is rejected", func(t *testing.T) {
		err := Configure([]*logrus.Logger{logrus.New()}, "xml", "info")
		assert.Error(t, err)
	})
}

func TestLogger_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.Out = &buf
	l.Formatter = &logrus.JSONFormatter{}
	l.SetLevel(logrus.DebugLevel)

	logger := New(logrus.NewEntry(l))
	logger.Info(context.Background(), "state changed", "table", "orders", "state", "verified")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "state changed", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "orders", entry["table"])
	assert.Equal(t, "verified", entry["state"])
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.Out = &buf
	l.SetLevel(logrus.InfoLevel)

	New(logrus.NewEntry(l)).Debug(context.Background(), "hidden")

	assert.Empty(t, buf.String())
}

func TestFields(t *testing.T) {
	t.Run("pairs", func(t *testing.T) {
		fields := Fields([]interface{}{"a", 1, "b", "two"})
		assert.Equal(t, logrus.Fields{"a": 1, "b": "two"}, fields)
	})

	t.Run("odd trailing key", func(t *testing.T) {
		fields := Fields([]interface{}{"a", 1, "dangling"})
		assert.Equal(t, "dangling", fields["!BADKEY"])
	})

	t.Run("non-string key", func(t *testing.T) {
		fields := Fields([]interface{}{42, "x"})
		assert.Equal(t, "x", fields["42"])
	})
}
