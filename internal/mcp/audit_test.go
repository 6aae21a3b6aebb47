package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestAuditLogger_NilSafety(t *testing.T) {
	var logger *AuditLogger
	logger.Log(AuditEntry{Tool: "test"})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on nil logger returned error: %v", err)
	}
}

func TestAuditLogger_WritesJSONL(t *testing.T) {
	dir := t.TempDir()
	logger := NewAuditLogger(dir)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}

	logger.Log(AuditEntry{
		Timestamp:  time.Now(),
		Tool:       toolMonteCarlo,
		DurationMs: 42,
		Status:     "success",
		Params:     map[string]string{"samples": "100"},
	})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	logger.Log(AuditEntry{Tool: "after-close"})

	path := filepath.Join(dir, AuditFile)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit log: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("audit log mode = %o, want 0600", perm)
	}

	entries := readAudit(t, path)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Tool != toolMonteCarlo || entries[0].DurationMs != 42 {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestAuditLogger_Concurrent(t *testing.T) {
	dir := t.TempDir()
	logger := NewAuditLogger(dir)
	defer logger.Close()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Log(AuditEntry{Tool: toolRuns, DurationMs: int64(i)})
		}()
	}
	wg.Wait()

	if n := len(readAudit(t, filepath.Join(dir, AuditFile))); n != 20 {
		t.Errorf("got %d entries, want 20", n)
	}
}

func TestAuditParams(t *testing.T) {
	got := auditParams(map[string]any{
		"samples":     500,
		"policy":      "skip",
		"output_path": "/home/someone/secret.csv",
		"run_id":      "abc",
		"seed":        uint64(9),
		"unknown":     "dropped",
		"std_dev":     0.0,
	})

	want := map[string]string{
		"samples":      "500",
		"policy":       "skip",
		"output_path":  "(set)",
		"run_id":       "(set)",
		"seed":         "(set)",
		"_param_count": "6",
	}
	if len(got) != len(want) {
		t.Errorf("auditParams() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("auditParams()[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestAuditTool_RecordsCalls(t *testing.T) {
	server, tmpDir := setupTestServer(t)
	ctx := context.Background()

	server.handleRuns(ctx, nil, RunsInput{Limit: 5})
	server.handleDescribe(ctx, nil, DescribeInput{})
	server.audit.Close()

	entries := readAudit(t, filepath.Join(tmpDir, ".pfstudy", AuditFile))
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Tool != toolRuns || entries[0].Status != "success" || entries[0].Params["limit"] != "5" {
		t.Errorf("unexpected runs entry: %+v", entries[0])
	}
	if entries[1].Tool != toolDescribe || entries[1].Status != "error" || entries[1].Error == "" {
		t.Errorf("unexpected describe entry: %+v", entries[1])
	}
}

func readAudit(t *testing.T, path string) []AuditEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("parsing audit entry: %v", err)
		}
		entries = append(entries, e)
	}
	return entries
}
