package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARN, false)

	l.Info("skipped")
	l.Warn("kept", "campaign_id", "c-1")
	l.Error("failed", "error", errors.New("boom"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "c-1", entries[0]["campaign_id"])
	assert.Equal(t, "boom", entries[1]["error"])
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DEBUG, false).With("component", "dispatch")

	l.With("campaign_id", "c-9").Debug("batch", "sent", 3)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "dispatch", entries[0]["component"])
	assert.Equal(t, "c-9", entries[0]["campaign_id"])
	assert.Equal(t, "3", entries[0]["sent"])
}

func TestLoggerRedactsEmails(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO, true)

	l.Info("send failed", "email", "ana.lopez@example.com", "detail", "rejected bob.smith@corp.io by provider")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "an***@example.com", entries[0]["email"])
	assert.Equal(t, "rejected bo***@corp.io by provider", entries[0]["detail"])
}

func TestLoggerOddFieldsIgnored(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO, false)

	l.Info("msg", "dangling")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	_, ok := entries[0]["dangling"]
	assert.False(t, ok)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel(" error "))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "an***@example.com", RedactEmail("ana@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("al@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
	assert.Equal(t, "***@***", RedactEmail("@example.com"))
	assert.Equal(t, "***@***", RedactEmail("a@b@c.com"))
}
