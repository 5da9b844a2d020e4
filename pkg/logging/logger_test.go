package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerWritesEntry(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger()
	l.SetOutput(&buf)

	l.Info("feed started",
		String("exchange", "binance"),
		Int("candles", 5),
		Bool("final", true),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "feed started", entry["message"])
	assert.Equal(t, "binance", entry["exchange"])
	assert.Equal(t, float64(5), entry["candles"])
	assert.Equal(t, true, entry["final"])
	assert.NotEmpty(t, entry["timestamp"])
}

func TestJSONLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger()
	l.SetOutput(&buf)

	l.Debug("below default level")
	assert.Zero(t, buf.Len())

	l.SetLevel(DEBUG)
	l.Debug("now visible")
	assert.Positive(t, buf.Len())
}

func TestJSONLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger()
	l.SetOutput(&buf)

	scoped := l.WithFields(String("pair", "BTC-USDT"))
	scoped.Warn("tick failed", Error(errors.New("boom")))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "BTC-USDT", entry["pair"])
	assert.Equal(t, "boom", entry["error"])
}

func TestFieldConstructors(t *testing.T) {
	assert.Equal(t, Field{Key: "k", Value: "v"}, String("k", "v"))
	assert.Equal(t, Field{Key: "n", Value: 3}, Int("n", 3))
	assert.Equal(t, Field{Key: "n", Value: int64(3)}, Int64("n", 3))
	assert.Equal(t, Field{Key: "d", Value: "1s"}, Duration("d", time.Second))
	assert.Equal(t, "error", Error(errors.New("x")).Key)
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	// Exercises every method; a nop logger must simply not panic.
	l.Debug("a")
	l.Info("b")
	l.Warn("c")
	l.Error("d")
	l.WithFields(String("k", "v")).Info("e")
	l.SetLevel(DEBUG)
	l.SetOutput(&bytes.Buffer{})
}

func TestZapLogger(t *testing.T) {
	l := NewZapLogger(WithLogLevel(DEBUG))
	require.NotNil(t, l)

	scoped := l.WithFields(String("exchange", "okx"))
	scoped.Debug("debug line")
	scoped.Info("info line", Int("n", 1))
	scoped.Warn("warn line")
	scoped.Error("error line", Error(errors.New("boom")))

	zl, ok := scoped.(*ZapLogger)
	require.True(t, ok)
	_ = zl.Close()
}
