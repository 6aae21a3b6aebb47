package main

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/nvandessel/pfstudy/internal/results"
)

func init() {
	color.NoColor = true
}

// isolateHome sets HOME to a temp directory to avoid touching real ~/.pfstudy/
// MUST be called for any test that loads config or opens stores
func isolateHome(t *testing.T, tmpDir string) {
	t.Helper()
	tmpHome := filepath.Join(tmpDir, "home")
	if err := os.MkdirAll(tmpHome, 0700); err != nil {
		t.Fatalf("Failed to create temp home: %v", err)
	}
	t.Setenv("HOME", tmpHome)
	t.Setenv("USERPROFILE", tmpHome)
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, "PFSTUDY_") {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

// runCmd executes the root command with args and returns its stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// mustRun is runCmd failing the test on error.
func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCmd(t, args...)
	if err != nil {
		t.Fatalf("pfstudy %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func decodeJSON(t *testing.T, data string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(data), v); err != nil {
		t.Fatalf("invalid JSON output %q: %v", data, err)
	}
}

func setupProject(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	return tmpDir
}

func TestNewVersionCmd(t *testing.T) {
	cmd := newVersionCmd()
	if cmd.Use != "version" {
		t.Errorf("Use = %q, want %q", cmd.Use, "version")
	}

	out := mustRun(t, "version", "--json")
	var v map[string]string
	decodeJSON(t, out, &v)
	if v["version"] != version {
		t.Errorf("version = %q, want %q", v["version"], version)
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	want := []string{"version", "config", "montecarlo", "analyze", "cluster", "emt", "fft",
		"shortcircuit", "runs", "mcp-server", "bridge"}
	root := newRootCmd()
	for _, name := range want {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestMonteCarloCmd(t *testing.T) {
	root := setupProject(t)

	out := mustRun(t, "montecarlo", "--root", root, "--samples", "12", "--seed", "5", "--json")
	var res struct {
		Report struct {
			RunID   string   `json:"run_id"`
			Seed    uint64   `json:"seed"`
			Emitted int      `json:"emitted"`
			Buses   []string `json:"buses"`
		} `json:"report"`
		Output string `json:"output"`
	}
	decodeJSON(t, out, &res)

	if res.Report.Seed != 5 || res.Report.Emitted != 12 {
		t.Errorf("unexpected report: %+v", res.Report)
	}
	if res.Report.RunID == "" {
		t.Error("run was not recorded")
	}
	if want := filepath.Join(root, "results", "voltages.csv"); res.Output != want {
		t.Errorf("output = %q, want %q", res.Output, want)
	}

	table, err := results.ReadFile(res.Output)
	if err != nil {
		t.Fatalf("reading results: %v", err)
	}
	if len(table.Rows) != 12 || len(table.Columns) != len(res.Report.Buses) {
		t.Errorf("CSV is %dx%d, want 12x%d", len(table.Rows), len(table.Columns), len(res.Report.Buses))
	}

	// Same seed, same voltages.
	again := filepath.Join(root, "again.csv")
	mustRun(t, "montecarlo", "--root", root, "--samples", "12", "--seed", "5", "--no-store", "--quiet", "-o", again)
	first, _ := os.ReadFile(res.Output)
	second, _ := os.ReadFile(again)
	if !bytes.Equal(first, second) {
		t.Error("runs with the same seed produced different results")
	}
}

func TestMonteCarloCmd_Contingency(t *testing.T) {
	root := setupProject(t)

	out := mustRun(t, "montecarlo", "--root", root, "--samples", "3", "--seed", "2", "--json",
		"--out-of-service", "Load_9.ElmLod", "--open-switches", "Line_7_8a.ElmLne")
	var res struct {
		Report struct {
			Emitted int `json:"emitted"`
			Toggled int `json:"toggled"`
		} `json:"report"`
	}
	decodeJSON(t, out, &res)
	if res.Report.Emitted != 3 || res.Report.Toggled != 3 {
		t.Errorf("unexpected report: %+v", res.Report)
	}

	if _, err := runCmd(t, "montecarlo", "--root", root, "--samples", "1", "--no-store",
		"--out-of-service", "Nothing.ElmLod"); err == nil {
		t.Error("expected error for a pattern that matches nothing")
	}
}

func TestMonteCarloCmd_InvalidFlags(t *testing.T) {
	root := setupProject(t)

	tests := [][]string{
		{"--policy", "retry"},
		{"--load-flow", "harmonic"},
		{"--max-attempts", "0"},
		{"--std-dev", "-0.1"},
	}
	for _, flags := range tests {
		args := append([]string{"montecarlo", "--root", root, "--samples", "1"}, flags...)
		if _, err := runCmd(t, args...); err == nil {
			t.Errorf("expected error for %v", flags)
		}
	}
}

func TestAnalyzeCmd(t *testing.T) {
	root := setupProject(t)
	csv := "Bus_A,Bus_B\n1.00,1.04\n1.02,1.05\nNaN,NaN\n"
	if err := os.WriteFile(filepath.Join(root, "in.csv"), []byte(csv), 0600); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "analyze", "in.csv", "--root", root, "--histogram", "Bus_B", "--bins", "2", "--json")
	var res struct {
		Rows      int      `json:"rows"`
		Complete  int      `json:"complete"`
		Threshold float64  `json:"threshold"`
		Exceeding []string `json:"exceeding"`
		Buses     []struct {
			Bus   string   `json:"bus"`
			Count int      `json:"count"`
			Mean  *float64 `json:"mean"`
		} `json:"buses"`
		Histogram struct {
			Counts []float64 `json:"counts"`
		} `json:"histogram"`
	}
	decodeJSON(t, out, &res)

	if res.Rows != 3 || res.Complete != 2 {
		t.Errorf("rows=%d complete=%d, want 3 and 2", res.Rows, res.Complete)
	}
	if res.Threshold != 1.03 {
		t.Errorf("threshold = %v, want configured 1.03", res.Threshold)
	}
	if len(res.Exceeding) != 1 || res.Exceeding[0] != "Bus_B" {
		t.Errorf("exceeding = %v, want [Bus_B]", res.Exceeding)
	}
	if len(res.Buses) != 2 || res.Buses[0].Count != 2 || res.Buses[0].Mean == nil || math.Abs(*res.Buses[0].Mean-1.01) > 1e-12 {
		t.Errorf("unexpected statistics: %+v", res.Buses)
	}
	if len(res.Histogram.Counts) != 2 || res.Histogram.Counts[0]+res.Histogram.Counts[1] != 2 {
		t.Errorf("unexpected histogram: %v", res.Histogram.Counts)
	}

	text := mustRun(t, "analyze", "in.csv", "--root", root, "--threshold", "1.1")
	if !strings.Contains(text, "No bus exceeds 1.1 p.u.") {
		t.Errorf("text output missing threshold line:\n%s", text)
	}
}

func TestAnalyzeCmd_Errors(t *testing.T) {
	root := setupProject(t)

	if _, err := runCmd(t, "analyze", "--root", root); err == nil {
		t.Error("expected error for missing default result file")
	}
	if _, err := runCmd(t, "analyze", "x.csv", "--run", "abc", "--root", root); err == nil {
		t.Error("expected error for --run with a file")
	}
	if _, err := runCmd(t, "analyze", "--run", "missing", "--root", root); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestClusterCmd(t *testing.T) {
	root := setupProject(t)
	mustRun(t, "montecarlo", "--root", root, "--samples", "30", "--seed", "11", "--quiet")

	out := mustRun(t, "cluster", "--root", root, "-k", "3",
		"--topology", "topology.dot", "--dendrogram", "tree.dot", "--json")
	var res struct {
		Clusters [][]string     `json:"clusters"`
		Labels   map[string]int `json:"labels"`
	}
	decodeJSON(t, out, &res)

	if len(res.Clusters) != 3 {
		t.Fatalf("got %d clusters, want 3", len(res.Clusters))
	}
	total := 0
	for _, c := range res.Clusters {
		if len(c) == 0 {
			t.Error("empty cluster")
		}
		total += len(c)
	}
	if total != len(res.Labels) {
		t.Errorf("clusters hold %d buses, labels %d", total, len(res.Labels))
	}

	for _, name := range []string{"topology.dot", "tree.dot"} {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if !strings.Contains(string(data), "graph") {
			t.Errorf("%s is not a Graphviz file", name)
		}
	}

	if _, err := runCmd(t, "cluster", "--root", root, "--format", "svg"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestEMTAndFFTCmd(t *testing.T) {
	root := setupProject(t)

	out := mustRun(t, "emt", "--root", root, "--json")
	var emt struct {
		Points int    `json:"points"`
		Output string `json:"output"`
	}
	decodeJSON(t, out, &emt)
	if emt.Points < 100 {
		t.Errorf("points = %d, want a full waveform", emt.Points)
	}
	table, err := results.ReadFile(emt.Output)
	if err != nil {
		t.Fatalf("reading waveform: %v", err)
	}
	if got := strings.Join(table.Columns, ","); got != "t,ula,ulb,ulc" {
		t.Errorf("columns = %s, want t,ula,ulb,ulc", got)
	}

	out = mustRun(t, "fft", "--root", root, "--top", "3", "-o", "spectrum.csv", "--json")
	var fft struct {
		Peak struct {
			Frequency float64 `json:"frequency"`
		} `json:"peak"`
		Components []struct {
			Frequency float64 `json:"frequency"`
		} `json:"components"`
	}
	decodeJSON(t, out, &fft)
	if len(fft.Components) != 3 {
		t.Errorf("got %d components, want 3", len(fft.Components))
	}
	if fft.Peak.Frequency <= 0 {
		t.Errorf("peak frequency = %v, want positive", fft.Peak.Frequency)
	}
	spec, err := results.ReadFile(filepath.Join(root, "spectrum.csv"))
	if err != nil {
		t.Fatalf("reading spectrum: %v", err)
	}
	if spec.Index("frequency") < 0 || spec.Index("magnitude") < 0 {
		t.Errorf("spectrum columns = %v", spec.Columns)
	}

	if _, err := runCmd(t, "fft", "--root", root, "--column", "ulx"); err == nil {
		t.Error("expected error for unknown column")
	}
}

func TestShortCircuitCmd(t *testing.T) {
	root := setupProject(t)

	out := mustRun(t, "shortcircuit", "--root", root, "--end", "3", "--json")
	var res struct {
		Buses  []string `json:"buses"`
		Output string   `json:"output"`
	}
	decodeJSON(t, out, &res)
	if len(res.Buses) == 0 {
		t.Fatal("no buses faulted")
	}
	table, err := results.ReadFile(res.Output)
	if err != nil {
		t.Fatalf("reading responses: %v", err)
	}
	if len(table.Columns) != len(res.Buses)+1 || table.Columns[0] != "t" {
		t.Errorf("columns = %v", table.Columns)
	}

	if _, err := runCmd(t, "shortcircuit", "--root", root, "--duration", "0"); err == nil {
		t.Error("expected error for zero fault duration")
	}
}

func TestRunsCmd(t *testing.T) {
	root := setupProject(t)

	out := mustRun(t, "runs", "list", "--root", root)
	if !strings.Contains(out, "No runs recorded") {
		t.Errorf("unexpected empty list output: %q", out)
	}

	mustRun(t, "montecarlo", "--root", root, "--samples", "4", "--quiet")
	out = mustRun(t, "runs", "list", "--root", root, "--json")
	var list struct {
		Runs []struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Recorded int    `json:"recorded"`
		} `json:"runs"`
		Count int `json:"count"`
	}
	decodeJSON(t, out, &list)
	if list.Count != 1 || list.Runs[0].Status != "completed" || list.Runs[0].Recorded != 4 {
		t.Fatalf("unexpected runs: %+v", list)
	}
	id := list.Runs[0].ID

	out = mustRun(t, "runs", "show", id[:6], "--root", root)
	if !strings.Contains(out, id) || !strings.Contains(out, "4 recorded of 4 requested") {
		t.Errorf("unexpected show output:\n%s", out)
	}

	out = mustRun(t, "runs", "export", id, "--root", root, "-o", "-")
	table, err := results.ReadCSV(strings.NewReader(out))
	if err != nil {
		t.Fatalf("parsing export: %v", err)
	}
	if len(table.Rows) != 4 {
		t.Errorf("exported %d rows, want 4", len(table.Rows))
	}

	mustRun(t, "runs", "delete", id, "--root", root)
	if _, err := runCmd(t, "runs", "show", id, "--root", root); err == nil {
		t.Error("expected error showing a deleted run")
	}
}

func TestConfigCmd(t *testing.T) {
	setupProject(t)

	mustRun(t, "config", "set", "montecarlo.samples", "64")
	out := mustRun(t, "config", "get", "montecarlo.samples", "--json")
	var got map[string]any
	decodeJSON(t, out, &got)
	if got["value"] != float64(64) {
		t.Errorf("montecarlo.samples = %v, want 64", got["value"])
	}

	mustRun(t, "config", "set", "engine.token", "abcdefghijklmnop")
	out = mustRun(t, "config", "list", "--json")
	if strings.Contains(out, "abcdefghijklmnop") {
		t.Error("config list leaked the bridge token")
	}
	if !strings.Contains(out, "abcd...mnop") {
		t.Errorf("config list missing redacted token:\n%s", out)
	}

	tests := []struct {
		key, value string
	}{
		{"montecarlo.samples", "many"},
		{"montecarlo.policy", "retry"},
		{"engine.timeout", "soon"},
		{"analysis.clusters", "0"},
		{"no.such.key", "1"},
	}
	for _, tt := range tests {
		if _, err := runCmd(t, "config", "set", tt.key, tt.value); err == nil {
			t.Errorf("config set %s %s: expected error", tt.key, tt.value)
		}
	}
	if _, err := runCmd(t, "config", "get", "no.such.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestConfigKeys_AllReadable(t *testing.T) {
	setupProject(t)
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	for _, key := range configKeys {
		if _, ok := getConfigValue(cfg, key); !ok {
			t.Errorf("key %q is listed but not readable", key)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00:00"},
		{59*time.Second + 600*time.Millisecond, "0:01:00"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := progressPrinter(&buf, time.Now())
	p(1, 4)
	p(4, 4)
	out := buf.String()
	if !strings.Contains(out, "\rSimulation progress: 25 %") || !strings.Contains(out, "\rSimulation progress: 100 %") {
		t.Errorf("unexpected progress output %q", out)
	}
	if !strings.Contains(out, "Elapsed time: 0:00:00") {
		t.Errorf("missing elapsed time in %q", out)
	}
}
