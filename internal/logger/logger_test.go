package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructuredLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, WarnLevel)

	l.Info("should be dropped")
	require.Empty(t, buf.String())

	l.Warn("should appear", String("peer", "alice"))
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "WARN", entry["level"])
	require.Equal(t, "alice", entry["peer"])
}

func TestWithFieldsAccumulates(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, DebugLevel).WithFields(String("channel", "ch1"))
	l.Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "ch1", entry["channel"])
}

func TestPandaErrorUnwrap(t *testing.T) {
	cause := NewPandaError(ErrCodeCryptoError, "bad signature", nil)
	wrapped := NewPandaError(ErrCodeInternal, "handshake failed", cause)
	require.ErrorIs(t, wrapped, cause)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, DebugLevel, ParseLevel("debug"))
	require.Equal(t, ErrorLevel, ParseLevel("ERROR"))
	require.Equal(t, InfoLevel, ParseLevel("unknown"))
}
