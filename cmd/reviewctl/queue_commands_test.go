package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"review-queue/internal/models"
	"review-queue/internal/review"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	body := fmt.Sprintf(`log_level = "error"

[storage]
queue_backend = "redis"
artifact_backend = "sqlite"
redis_addr = %q
sqlite_path = %q

[queue]
lock_window = "5m"
`, mr.Addr(), filepath.Join(dir, "artifacts.db"))
	path := filepath.Join(dir, "reviewq.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, out)
	}
}

func TestEnqueuePopReleaseStats(t *testing.T) {
	cfg := writeTestConfig(t)

	out, _, err := runCLI(t, cfg, "enqueue", "--collection", "c1", "g1", "g2")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	requireContains(t, out, "created")

	out, _, err = runCLI(t, cfg, "pop", "--collection", "c1", "--limit", "1", "--reviewer", "alice", "--json")
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	requireContains(t, out, `"generation_id": "g1"`)
	requireContains(t, out, `"status": "in_progress"`)

	out, _, err = runCLI(t, cfg, "stats", "c1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	requireContains(t, out, "review")
	requireContains(t, strings.ToLower(out), "in progress")

	out, _, err = runCLI(t, cfg, "reap", "--window", "0s")
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	requireContains(t, out, "Reclaimed 1 lease(s)")
}

func TestCommitReportsFailures(t *testing.T) {
	cfg := writeTestConfig(t)

	_, _, err := runCLI(t, cfg, "commit", "--outcome", "accepted", "missing")
	if err == nil || !strings.Contains(err.Error(), "1 of 1 decisions failed") {
		t.Fatalf("expected failure summary, got %v", err)
	}
	if _, _, err := runCLI(t, cfg, "release"); err == nil {
		t.Fatal("release without ids should fail argument validation")
	}
}

func TestBuildStatsRows(t *testing.T) {
	counts := models.NewCounts()
	counts[models.ModeReview][models.StatusPending] = 3
	counts[models.ModeReview][models.StatusDone] = 2
	counts[models.ModeCull][models.StatusInProgress] = 1

	rows := buildStatsRows(review.StatsReport{CollectionID: "c1", Counts: counts})
	if len(rows) != 2 {
		t.Fatalf("expected a row per mode, got %d", len(rows))
	}
	if got := strings.Join(rows[0], ","); got != "review,3,0,2,5" {
		t.Fatalf("unexpected review row %q", got)
	}
	if got := strings.Join(rows[1], ","); got != "cull,0,1,0,1" {
		t.Fatalf("unexpected cull row %q", got)
	}

	var out bytes.Buffer
	writeTable(&out, []string{"Mode", "Pending"}, [][]string{{"review", "3"}}, 1)
	rendered := out.String()
	requireContains(t, strings.ToLower(rendered), "mode")
	requireContains(t, rendered, "review")
	if !strings.HasSuffix(rendered, "\n") {
		t.Fatalf("table output should end with a newline: %q", rendered)
	}
}
