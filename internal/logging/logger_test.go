package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readTrace(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e), "line %q", sc.Text())
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"warn":    slog.LevelWarn,
		"info":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"trace":   LevelTrace,
		"TRACE":   LevelTrace,
		"Debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
	assert.Less(t, LevelTrace, slog.LevelDebug)
}

func TestNewLogger_Filtering(t *testing.T) {
	tests := []struct {
		level string
		shown []slog.Level
		drop  []slog.Level
	}{
		{"warn", []slog.Level{slog.LevelWarn}, []slog.Level{slog.LevelInfo, slog.LevelDebug}},
		{"info", []slog.Level{slog.LevelWarn, slog.LevelInfo}, []slog.Level{slog.LevelDebug, LevelTrace}},
		{"debug", []slog.Level{slog.LevelInfo, slog.LevelDebug}, []slog.Level{LevelTrace}},
		{"trace", []slog.Level{slog.LevelDebug, LevelTrace}, nil},
	}
	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)
			for _, l := range tt.shown {
				buf.Reset()
				logger.Log(ctx, l, "msg")
				assert.Contains(t, buf.String(), "msg=msg", "level %v should be shown", l)
			}
			for _, l := range tt.drop {
				buf.Reset()
				logger.Log(ctx, l, "msg")
				assert.Empty(t, buf.String(), "level %v should be dropped", l)
			}
		})
	}
}

func TestNewLogger_TraceLabel(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("trace", &buf).Log(context.Background(), LevelTrace, "solve", "sample", 3)
	assert.Contains(t, buf.String(), "level=TRACE")
	assert.Contains(t, buf.String(), "sample=3")
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	require.NotNil(t, logger)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelError))
}

func TestNewTraceLogger_DisabledAboveDebug(t *testing.T) {
	for _, level := range []string{"info", "warn", ""} {
		dir := t.TempDir()
		tl := NewTraceLogger(dir, level)
		assert.Nil(t, tl, "level %q", level)
		tl.Log(map[string]any{"sample": 1})
		tl.Close()
		assert.Empty(t, tl.Path())
		assert.NoFileExists(t, filepath.Join(dir, TraceFile))
	}
}

func TestTraceLogger_Writes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", ".pfstudy")
	tl := NewTraceLogger(dir, "debug")
	require.NotNil(t, tl)
	assert.Equal(t, filepath.Join(dir, TraceFile), tl.Path())

	event := map[string]any{"sample": 0, "attempt": 1, "k": 0.87, "converged": false}
	tl.Log(event)
	tl.Log(map[string]any{"sample": 0, "attempt": 2, "k": 1.02, "converged": true})
	tl.Close()
	tl.Log(map[string]any{"dropped": true})

	assert.NotContains(t, event, "time", "caller's map must not be modified")
	assert.NotContains(t, event, "seq")

	entries := readTrace(t, tl.Path())
	require.Len(t, entries, 2)
	assert.Equal(t, 0.87, entries[0]["k"])
	assert.Equal(t, false, entries[0]["converged"])
	assert.Equal(t, float64(1), entries[0]["seq"])
	assert.Equal(t, float64(2), entries[1]["seq"])
	assert.NotEmpty(t, entries[1]["time"])

	info, err := os.Stat(tl.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestTraceLogger_AppendsAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	for range 2 {
		tl := NewTraceLogger(dir, "trace")
		tl.Log(map[string]any{"sample": 0})
		tl.Close()
	}
	assert.Len(t, readTrace(t, filepath.Join(dir, TraceFile)), 2)
}

func TestTraceLogger_NilEventAndConcurrency(t *testing.T) {
	tl := NewTraceLogger(t.TempDir(), "debug")
	defer tl.Close()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i == 0 {
				tl.Log(nil)
				return
			}
			tl.Log(map[string]any{"sample": i})
		}()
	}
	wg.Wait()

	entries := readTrace(t, tl.Path())
	require.Len(t, entries, 16)
	seen := map[float64]bool{}
	for _, e := range entries {
		seen[e["seq"].(float64)] = true
	}
	assert.Len(t, seen, 16, "sequence numbers must be unique")
}
