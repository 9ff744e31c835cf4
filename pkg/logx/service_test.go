package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderLineSortsFieldsAndSkipsEnvelope(t *testing.T) {
	t.Parallel()

	line := []byte(`{"level":"warn","time":"x","message":"timer lost","task_id":"t1","execution_id":"e1"}`)
	got := renderLine(line)

	require.Equal(t, "[WARN] timer lost\n- execution_id=e1\n- task_id=t1", got)
}

func TestRenderLineFallsBackToRawText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "plain text", renderLine([]byte("  plain text \n")))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", truncate("abc", 10))
	require.Equal(t, "abcdefg...", truncate(strings.Repeat("abcdefg", 3)[:7]+"xxxxxxx", 10))
	require.Equal(t, "abc", truncate("abcdef", 3))
}

func TestLoggerWithCarriesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(Task("t1"))
	log.Info("started", Actor("42"))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	require.Equal(t, "t1", m["task_id"])
	require.Equal(t, "42", m["actor_id"])
	require.Equal(t, "started", m["message"])
	require.Contains(t, m["caller"], "service_test.go:")
}

func TestLoggerRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	require.Zero(t, buf.Len())
	require.False(t, log.Enabled(LevelInfo))
	require.True(t, log.Enabled(LevelError))
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var log Logger
	log.Error("nothing happens")
	Nop().With(String("k", "v")).Warn("still nothing")
}
