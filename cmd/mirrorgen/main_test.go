package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/BadgerOps/mirrorgen/internal/config"
	"github.com/BadgerOps/mirrorgen/internal/engine"
	"github.com/BadgerOps/mirrorgen/internal/feed"
	"github.com/BadgerOps/mirrorgen/internal/output"
	"github.com/BadgerOps/mirrorgen/internal/store"
	"github.com/spf13/cobra"
)

const cliFeed = `{"version": 3, "urls": [
	{"url": "https://us1.example/archlinux/", "protocol": "https", "country_code": "US",
	 "score": 2.0, "delay": 60, "completion_pct": 1.0, "last_sync": "2025-03-01T10:00:00Z", "ipv4": true},
	{"url": "https://us2.example/archlinux/", "protocol": "https", "country_code": "US",
	 "score": 1.0, "delay": 60, "completion_pct": 1.0, "last_sync": "2025-03-01T10:00:00Z", "ipv4": true},
	{"url": "rsync://rsync.example/archlinux/", "protocol": "rsync", "country_code": "DE", "score": 0.1},
	{"url": "https://broken.example/archlinux/", "protocol": "https", "country_code": "US", "completion_pct": 1.5},
	{"url": "https://de1.example/archlinux/", "protocol": "https", "country_code": "DE",
	 "score": 0.5, "delay": 60, "completion_pct": 0.9, "last_sync": "2025-03-01T10:00:00Z", "ipv4": true}
]}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// useGlobals installs cfg and a file-backed generator, restoring the
// previous globals when the test ends
func useGlobals(t *testing.T, cfg *config.Config, feedPath string, st *store.Store) {
	t.Helper()
	origCfg, origGen, origStore, origLogger, origQuiet := globalCfg, globalGenerator, globalStore, logger, quiet
	t.Cleanup(func() {
		globalCfg, globalGenerator, globalStore, logger, quiet = origCfg, origGen, origStore, origLogger, origQuiet
	})

	logger = testLogger()
	quiet = false
	globalCfg = cfg
	globalStore = st
	globalGenerator = engine.NewGenerator(feed.NewFileSource(feedPath, 0, logger), st, output.NewWriter(nil), logger)
}

func testConfig(outPath string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Filter.MaxDelay = "none"
	cfg.Output.Path = outPath
	return cfg
}

func TestGenerateRunWritesFile(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "status.json")
	outPath := filepath.Join(dir, "mirrorlist")
	writeFile(t, feedPath, cliFeed)

	cfg := testConfig(outPath)
	cfg.Filter.Country = "US"
	useGlobals(t, cfg, feedPath, nil)

	out := captureStdout(t, func() {
		if err := generateRun(nil, nil); err != nil {
			t.Fatalf("generateRun returned error: %v", err)
		}
	})

	if !strings.Contains(out, "Wrote 2 mirrors to "+outPath) {
		t.Errorf("unexpected summary: %s", out)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	text := string(data)
	first := strings.Index(text, "Server = https://us2.example/archlinux/$repo/os/$arch")
	second := strings.Index(text, "Server = https://us1.example/archlinux/$repo/os/$arch")
	if first < 0 || second < 0 || first > second {
		t.Errorf("mirrors missing or out of order:\n%s", text)
	}
	if strings.Contains(text, "de1.example") || strings.Contains(text, "rsync.example") {
		t.Errorf("filtered mirrors leaked into output:\n%s", text)
	}
	if !strings.Contains(text, "## Filters: protocol=any country=US max_delay=none") {
		t.Errorf("header does not describe filters:\n%s", text)
	}
}

func TestGenerateRunStdout(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "status.json")
	writeFile(t, feedPath, cliFeed)
	useGlobals(t, testConfig(output.Stdout), feedPath, nil)

	out := captureStdout(t, func() {
		if err := generateRun(nil, nil); err != nil {
			t.Fatalf("generateRun returned error: %v", err)
		}
	})

	if !strings.HasPrefix(out, "##\n") {
		t.Errorf("stdout should start with the header, got: %s", out)
	}
	if strings.Contains(out, "Wrote") {
		t.Errorf("summary must not mix with the mirrorlist on stdout: %s", out)
	}
}

func TestGenerateRunFailureKeepsExistingOutput(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "status.json")
	outPath := filepath.Join(dir, "mirrorlist")
	writeFile(t, feedPath, "<html>502 Bad Gateway</html>")
	writeFile(t, outPath, "Server = https://old.example/$repo/os/$arch\n")
	useGlobals(t, testConfig(outPath), feedPath, nil)

	captureStdout(t, func() {
		if err := generateRun(nil, nil); err == nil {
			t.Fatal("expected error for unreadable feed")
		}
	})

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != "Server = https://old.example/$repo/os/$arch\n" {
		t.Errorf("existing output was modified: %q", data)
	}
}

func TestGenerateRunEmptySelection(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "status.json")
	outPath := filepath.Join(dir, "mirrorlist")
	writeFile(t, feedPath, cliFeed)

	cfg := testConfig(outPath)
	cfg.Filter.Country = "JP"
	useGlobals(t, cfg, feedPath, nil)

	out := captureStdout(t, func() {
		if err := generateRun(nil, nil); err != nil {
			t.Fatalf("empty selection must not fail: %v", err)
		}
	})
	if !strings.Contains(out, "Wrote 0 mirrors") {
		t.Errorf("unexpected summary: %s", out)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if strings.Contains(string(data), "Server = ") {
		t.Errorf("expected header-only output, got:\n%s", data)
	}
}

func TestPrintExplanation(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "status.json")
	writeFile(t, feedPath, cliFeed)
	useGlobals(t, testConfig(""), feedPath, nil)

	opts, err := generateOptions(globalCfg)
	if err != nil {
		t.Fatalf("generateOptions: %v", err)
	}
	opts.OutputPath = ""
	opts.Explain = true
	report, err := globalGenerator.Generate(commandContext(nil), opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var buf strings.Builder
	printExplanation(&buf, report)
	text := buf.String()

	if !strings.Contains(text, "Rejected by filters: 2 of 4 records") {
		t.Errorf("missing rejection summary:\n%s", text)
	}
	if !strings.Contains(text, "completion") || !strings.Contains(text, "de1.example") {
		t.Errorf("missing completion rejection:\n%s", text)
	}
	if !strings.Contains(text, "protocol") || !strings.Contains(text, "rsync.example") {
		t.Errorf("missing protocol rejection:\n%s", text)
	}
	if !strings.Contains(text, "Skipped: 1 records") || !strings.Contains(text, "broken.example") {
		t.Errorf("missing skipped record:\n%s", text)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	origFlags := flags
	t.Cleanup(func() { flags = origFlags })

	cmd := &cobra.Command{Use: "generate"}
	addSelectionFlags(cmd)
	addOutputFlag(cmd)
	if err := cmd.ParseFlags([]string{"--country", "de", "--max-delay", "none", "--limit", "5", "-o", "/tmp/ml", "--ipv4=false"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	cfg := config.DefaultConfig()
	applyFlagOverrides(cmd, cfg)

	if cfg.Filter.Country != "de" || cfg.Filter.MaxDelay != "none" {
		t.Errorf("filter overrides not applied: %+v", cfg.Filter)
	}
	if cfg.Output.Limit != 5 || cfg.Output.Path != "/tmp/ml" {
		t.Errorf("output overrides not applied: %+v", cfg.Output)
	}
	if cfg.Filter.RequireIPv4 {
		t.Error("--ipv4=false should clear the requirement")
	}
	// untouched flags keep config values
	if cfg.Filter.Protocol != "any" || cfg.Filter.MinCompletion != 1.0 {
		t.Errorf("unset flags overwrote config: %+v", cfg.Filter)
	}
}

func TestWatchRunInitialGeneration(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "status.json")
	outPath := filepath.Join(dir, "mirrorlist")
	writeFile(t, feedPath, cliFeed)

	cfg := testConfig(outPath)
	cfg.Schedule.Cron = "@hourly"
	useGlobals(t, cfg, feedPath, nil)

	origWait := waitForShutdown
	waitForShutdown = func() os.Signal { return syscall.SIGTERM }
	t.Cleanup(func() { waitForShutdown = origWait })

	out := captureStdout(t, func() {
		if err := watchRun(nil, nil); err != nil {
			t.Fatalf("watchRun returned error: %v", err)
		}
	})

	if !strings.Contains(out, `Watching schedule "@hourly"`) {
		t.Errorf("unexpected output: %s", out)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("initial generation did not write output: %v", err)
	}
	if !strings.Contains(string(data), "Server = https://us2.example/archlinux/$repo/os/$arch") {
		t.Errorf("unexpected output file:\n%s", data)
	}
}

func TestHistoryRunDisabled(t *testing.T) {
	origStore := globalStore
	globalStore = nil
	t.Cleanup(func() { globalStore = origStore })

	if err := historyRun(nil, nil); err == nil {
		t.Fatal("expected error when history is disabled")
	}
}

func TestHistoryRun(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "status.json")
	writeFile(t, feedPath, cliFeed)
	useGlobals(t, testConfig(filepath.Join(dir, "mirrorlist")), feedPath, st)

	out := captureStdout(t, func() {
		if err := historyRun(nil, nil); err != nil {
			t.Fatalf("historyRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "No runs recorded.") {
		t.Fatalf("expected empty message, got: %s", out)
	}

	captureStdout(t, func() {
		if err := generateRun(nil, nil); err != nil {
			t.Fatalf("generateRun returned error: %v", err)
		}
	})

	runs, err := st.ListRuns("", 0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one recorded run, got %d (%v)", len(runs), err)
	}

	origLimit, origStatus := historyLimit, historyStatus
	historyLimit, historyStatus = 20, ""
	t.Cleanup(func() { historyLimit, historyStatus = origLimit, origStatus })

	out = captureStdout(t, func() {
		if err := historyRun(nil, nil); err != nil {
			t.Fatalf("historyRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, runs[0].ID) || !strings.Contains(out, store.StatusPartial) {
		t.Errorf("run missing from listing: %s", out)
	}

	out = captureStdout(t, func() {
		if err := historyRun(nil, []string{runs[0].ID}); err != nil {
			t.Fatalf("historyRun(id) returned error: %v", err)
		}
	})
	if !strings.Contains(out, "Skipped records:") || !strings.Contains(out, "https://broken.example/archlinux/") {
		t.Errorf("run detail missing skipped record: %s", out)
	}

	if err := historyRun(nil, []string{"no-such-run"}); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestRootCommandEndToEnd(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "status.json")
	outPath := filepath.Join(dir, "mirrorlist")
	cfgFile := filepath.Join(dir, "mirrorgen.yaml")
	writeFile(t, feedPath, cliFeed)
	writeFile(t, cfgFile, `
filter:
  protocol: https
  max_delay: none
store:
  db_path: `+filepath.Join(dir, "history.db")+`
`)

	origCfg, origGen, origStore, origLogger := globalCfg, globalGenerator, globalStore, logger
	t.Cleanup(func() {
		globalCfg, globalGenerator, globalStore, logger = origCfg, origGen, origStore, origLogger
	})

	root := NewRootCmd()
	root.SetArgs([]string{
		"generate", "--config", cfgFile, "--feed-file", feedPath,
		"--country", "us", "--limit", "1", "-o", outPath, "--log-level", "error",
	})
	captureStdout(t, func() {
		if err := root.Execute(); err != nil {
			t.Fatalf("generate failed: %v", err)
		}
	})

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if got := strings.Count(string(data), "Server = "); got != 1 {
		t.Errorf("expected 1 server line with --limit 1, got %d:\n%s", got, data)
	}
	if !strings.Contains(string(data), "us2.example") {
		t.Errorf("expected best ranked US mirror:\n%s", data)
	}

	root = NewRootCmd()
	root.SetArgs([]string{"history", "--config", cfgFile, "--log-level", "error"})
	out := captureStdout(t, func() {
		if err := root.Execute(); err != nil {
			t.Fatalf("history failed: %v", err)
		}
	})
	if !strings.Contains(out, "Generation Runs") || !strings.Contains(out, "partial") {
		t.Errorf("history did not list the run: %s", out)
	}

	root = NewRootCmd()
	root.SetArgs([]string{"generate", "--config", cfgFile, "--protocol", "rsync", "--log-level", "error"})
	root.SetErr(io.Discard)
	if err := root.Execute(); err == nil {
		t.Error("expected rsync to be rejected as a directive protocol")
	}
}

func TestExecuteClosesStoreOnFailure(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "status.json")
	cfgFile := filepath.Join(dir, "mirrorgen.yaml")
	writeFile(t, feedPath, "not a status document")
	writeFile(t, cfgFile, "store:\n  db_path: "+filepath.Join(dir, "history.db")+"\n")

	origCfg, origGen, origStore, origLogger := globalCfg, globalGenerator, globalStore, logger
	t.Cleanup(func() {
		globalCfg, globalGenerator, globalStore, logger = origCfg, origGen, origStore, origLogger
	})

	root := NewRootCmd()
	root.SetArgs([]string{"generate", "--config", cfgFile, "--feed-file", feedPath, "-o", filepath.Join(dir, "ml"), "--log-level", "error"})
	root.SetErr(io.Discard)
	captureStdout(t, func() {
		if err := execute(root); err == nil {
			t.Fatal("expected generate to fail on an unparseable feed")
		}
	})
	if globalStore != nil {
		t.Error("store left open after a failed command")
	}
}

func TestConfigShowRun(t *testing.T) {
	origCfg, origPath := globalCfg, cfgPath
	globalCfg, cfgPath = config.DefaultConfig(), ""
	t.Cleanup(func() { globalCfg, cfgPath = origCfg, origPath })

	out := captureStdout(t, func() {
		if err := configShowRun(nil, nil); err != nil {
			t.Fatalf("configShowRun returned error: %v", err)
		}
	})

	for _, want := range []string{"feed:", "filter:", "protocol: any", "0 */6 * * *"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigValidateRun(t *testing.T) {
	origCfg := globalCfg
	t.Cleanup(func() { globalCfg = origCfg })

	globalCfg = config.DefaultConfig()
	out := captureStdout(t, func() {
		if err := configValidateRun(nil, nil); err != nil {
			t.Fatalf("default config should validate: %v", err)
		}
	})
	if !strings.Contains(out, "Configuration OK") {
		t.Errorf("unexpected output: %s", out)
	}

	globalCfg.Filter.Country = "Atlantis"
	if err := configValidateRun(nil, nil); err == nil {
		t.Error("expected validation error")
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:", testLogger())
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	done := make(chan []byte)
	go func() {
		data, _ := io.ReadAll(r)
		done <- data
	}()

	fn()

	_ = w.Close()
	data := <-done
	_ = r.Close()
	return string(data)
}
