package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ez-Support/swd-ros-controllers/internal/config"
	"github.com/ez-Support/swd-ros-controllers/internal/drive"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal", "audit.jsonl")
	l, err := NewLogger(config.AuditConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1}, nil)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return l, path
}

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e), "line %q", scanner.Text())
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestLogger_WritesJSONLines(t *testing.T) {
	l, path := newTestLogger(t)

	ctx := drive.WithActor(context.Background(), "operator-1")
	l.LogAction(ctx, "setVelocity", "both", "SUCCESS", 1500*time.Microsecond)
	l.LogAction(context.Background(), "watchdogStop", "both", "UNAVAILABLE", 0)
	l.LogAction(context.Background(), "enterOperationEnabled", "left", "WEIRD", 0)
	require.NoError(t, l.Close())

	entries := readEntries(t, path)
	require.Len(t, entries, 3)

	assert.Equal(t, Entry{
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		User:      "operator-1",
		Wheel:     "both",
		Action:    "setVelocity",
		Outcome:   "SUCCESS",
		Code:      "SUCCESS",
		LatencyMs: 1.5,
	}, entries[0])

	assert.Equal(t, drive.SystemActor, entries[1].User)
	assert.Equal(t, "UNAVAILABLE", entries[1].Code)
	assert.Equal(t, "left", entries[2].Wheel)
	assert.Equal(t, "UNKNOWN", entries[2].Code)
}

func TestLogger_DropsAfterClose(t *testing.T) {
	l, path := newTestLogger(t)
	l.LogAction(context.Background(), "softBrake", "both", "SUCCESS", 0)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	l.LogAction(context.Background(), "softBrake", "both", "SUCCESS", 0)
	assert.Len(t, readEntries(t, path), 1)
}

func TestNewLogger_RequiresPath(t *testing.T) {
	_, err := NewLogger(config.AuditConfig{}, nil)
	assert.Error(t, err)
}
