package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditFile is the audit log name inside the state directory.
const AuditFile = "audit.jsonl"

// AuditEntry records one MCP tool invocation. It carries metadata only,
// never paths or result data.
type AuditEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Tool       string            `json:"tool"`
	DurationMs int64             `json:"duration_ms"`
	Status     string            `json:"status"` // "success" or "error"
	Error      string            `json:"error,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// AuditLogger appends entries to <dir>/audit.jsonl. It is safe for
// concurrent use, and a nil AuditLogger is a no-op.
type AuditLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewAuditLogger opens the audit log in dir. It returns nil, after printing
// a warning, when the file cannot be opened.
func NewAuditLogger(dir string) *AuditLogger {
	if err := os.MkdirAll(dir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot create audit log directory: %v\n", err)
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, AuditFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot open audit log: %v\n", err)
		return nil
	}
	return &AuditLogger{file: f}
}

// Log appends one entry.
func (a *AuditLogger) Log(entry AuditEntry) {
	if a == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_, _ = a.file.Write(data)
	}
}

// Close closes the log file.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// Parameters whose values are logged as-is. Anything that may hold a path
// or an identifier is logged as "(set)"; unknown keys are dropped.
var (
	auditValueParams = map[string]bool{
		"samples":      true,
		"std_dev":      true,
		"max_attempts": true,
		"policy":       true,
		"load_flow":    true,
		"limit":        true,
		"threshold":    true,
	}
	auditPresenceParams = map[string]bool{
		"seed":        true,
		"output_path": true,
		"csv_path":    true,
		"run_id":      true,
	}
)

// auditParams reduces tool arguments to loggable metadata. Zero values are
// treated as absent.
func auditParams(params map[string]any) map[string]string {
	out := make(map[string]string)
	set := 0
	for key, val := range params {
		if isZero(val) {
			continue
		}
		set++
		switch {
		case auditValueParams[key]:
			out[key] = fmt.Sprint(val)
		case auditPresenceParams[key]:
			out[key] = "(set)"
		}
	}
	out["_param_count"] = fmt.Sprint(set)
	return out
}

func isZero(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case int:
		return x == 0
	case uint64:
		return x == 0
	case float64:
		return x == 0
	case bool:
		return !x
	}
	return false
}

// auditTool logs a finished tool call.
func (s *Server) auditTool(tool string, start time.Time, err error, params map[string]any) {
	entry := AuditEntry{
		Timestamp:  start,
		Tool:       tool,
		DurationMs: time.Since(start).Milliseconds(),
		Status:     "success",
		Params:     auditParams(params),
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	s.audit.Log(entry)
}
