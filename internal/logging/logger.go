// Package logging sets up pfstudy's two log outputs: a leveled slog.Logger
// on stderr for operational messages and convergence warnings, and a JSONL
// trace of every load-flow attempt in .pfstudy/attempts.jsonl.
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace sits below Debug and enables the attempt trace.
const LevelTrace = slog.LevelDebug - 4

// TraceFile is the attempt trace inside the state directory.
const TraceFile = "attempts.jsonl"

var levels = map[string]slog.Level{
	"warn":  slog.LevelWarn,
	"info":  slog.LevelInfo,
	"debug": slog.LevelDebug,
	"trace": LevelTrace,
}

// ParseLevel maps "warn", "info", "debug" or "trace" (any case) to a
// level. Anything else is info.
func ParseLevel(s string) slog.Level {
	if l, ok := levels[strings.ToLower(s)]; ok {
		return l
	}
	return slog.LevelInfo
}

// NewLogger returns a text logger on w filtered at level.
func NewLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: nameTrace,
	}))
}

// nameTrace prints LevelTrace as TRACE instead of DEBUG-4.
func nameTrace(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// TraceLogger appends one JSON object per solve attempt. Entries get a
// "time" and a per-logger "seq" field. Methods are safe for concurrent use
// and are no-ops on a nil receiver.
type TraceLogger struct {
	mu   sync.Mutex
	path string
	file *os.File
	enc  *json.Encoder
	seq  int64
}

// NewTraceLogger opens dir/attempts.jsonl for appending when level is
// debug or trace. Otherwise, or when the file cannot be opened, it returns
// nil, which traces nothing.
func NewTraceLogger(dir string, level string) *TraceLogger {
	if ParseLevel(level) > slog.LevelDebug {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}
	path := filepath.Join(dir, TraceFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &TraceLogger{path: path, file: f, enc: json.NewEncoder(f)}
}

// Path returns the trace file, or "" for a nil logger.
func (tl *TraceLogger) Path() string {
	if tl == nil {
		return ""
	}
	return tl.path
}

// Log appends event. The caller's map is left untouched; events that do
// not marshal are dropped.
func (tl *TraceLogger) Log(event map[string]any) {
	if tl == nil {
		return
	}
	entry := maps.Clone(event)
	if entry == nil {
		entry = map[string]any{}
	}
	entry["time"] = time.Now().UTC()

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.file == nil {
		return
	}
	tl.seq++
	entry["seq"] = tl.seq
	_ = tl.enc.Encode(entry)
}

// Close closes the trace file. Later Log calls are dropped.
func (tl *TraceLogger) Close() {
	if tl == nil {
		return
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.file != nil {
		tl.file.Close()
		tl.file, tl.enc = nil, nil
	}
}
