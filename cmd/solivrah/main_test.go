package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/H4MSA/solivrah/internal/auth"
)

// offlineConfig writes a config that keeps all state under a temp dir and
// serves every AI operation from its fallback.
func offlineConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	cfg := `server:
  db_path: ` + filepath.Join(dir, "solivrah.db") + `
device:
  state_file: ` + filepath.Join(dir, "device.yaml") + `
ai:
  backend: offline
  base_delay: 0s
sync:
  debounce: 10ms
`
	path := filepath.Join(dir, "solivrah.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	out, err := run(t, cfgPath, args...)
	if err != nil {
		t.Fatalf("%s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestInitCommandWritesKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"init", "--user-id", "u1", "--keys-file", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}
	ring, err := auth.LoadKeyring(path)
	if err != nil {
		t.Fatalf("load keyring: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	key := lines[len(lines)-1]
	if user, ok := ring.UserForKey(key); !ok || user != "u1" {
		t.Fatalf("expected printed key to map to u1, got %q %v", user, ok)
	}
}

func TestOfflineQuestJourney(t *testing.T) {
	cfg := offlineConfig(t)

	mustRun(t, cfg, "theme", "focus")
	out := mustRun(t, cfg, "roadmap", "read more books")
	if !strings.Contains(out, "30 quests planned") {
		t.Fatalf("expected quests planned, got:\n%s", out)
	}
	out = mustRun(t, cfg, "quests")
	if !strings.Contains(out, "Current") || !strings.Contains(out, "d1") {
		t.Fatalf("expected d1 as current quest, got:\n%s", out)
	}

	out = mustRun(t, cfg, "complete", "d1")
	if !strings.Contains(out, "+50 xp") {
		t.Fatalf("expected xp award, got:\n%s", out)
	}
	out = mustRun(t, cfg, "complete", "d1")
	if !strings.Contains(out, "already completed") {
		t.Fatalf("expected second completion to be a no-op, got:\n%s", out)
	}
	if _, err := run(t, cfg, "complete", "d7"); err == nil {
		t.Fatal("expected photo quest without a photo to fail")
	}

	out = mustRun(t, cfg, "status")
	for _, want := range []string{"guest", "50", "Focus"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status missing %q:\n%s", want, out)
		}
	}
}

func TestOfflineLoginMergesAndLogoutRestores(t *testing.T) {
	cfg := offlineConfig(t)
	mustRun(t, cfg, "roadmap", "run a 5k")
	mustRun(t, cfg, "complete", "d1")

	out := mustRun(t, cfg, "login", "u1")
	if !strings.Contains(out, "xp 50") {
		t.Fatalf("expected merged xp, got:\n%s", out)
	}
	out = mustRun(t, cfg, "status")
	if !strings.Contains(out, "user:u1") {
		t.Fatalf("expected remembered user, got:\n%s", out)
	}

	mustRun(t, cfg, "logout")
	out = mustRun(t, cfg, "status")
	if !strings.Contains(out, "guest") || strings.Contains(out, "50") {
		t.Fatalf("expected a fresh guest after merge and logout, got:\n%s", out)
	}
}

func TestOfflineAIFallbacks(t *testing.T) {
	cfg := offlineConfig(t)
	out := mustRun(t, cfg, "mood", "a quiet day")
	if !strings.Contains(out, "neutral") || !strings.Contains(out, "unavailable") {
		t.Fatalf("expected fallback mood, got:\n%s", out)
	}
	out = mustRun(t, cfg, "coach", "how do I start?")
	if !strings.Contains(out, "trouble connecting") {
		t.Fatalf("expected fallback reply, got:\n%s", out)
	}
	out = mustRun(t, cfg, "coach", "--history")
	if !strings.Contains(out, "how do I start?") {
		t.Fatalf("expected guest coaching history, got:\n%s", out)
	}
}

func TestResetRequiresConfirmation(t *testing.T) {
	cfg := offlineConfig(t)
	if _, err := run(t, cfg, "reset"); err == nil {
		t.Fatal("expected reset without --yes to fail")
	}
	mustRun(t, cfg, "reset", "--yes")
}

func TestServeRejectsRemoteBackend(t *testing.T) {
	cfg := offlineConfig(t)
	t.Setenv("SOLIVRAH_AI_BACKEND", "remote")
	t.Setenv("SOLIVRAH_DEVICE_SERVER_URL", "http://127.0.0.1:1")
	if _, err := run(t, cfg, "serve"); err == nil || !strings.Contains(err.Error(), "remote") {
		t.Fatalf("expected serve to reject remote backend, got %v", err)
	}
}

func TestPhotoReference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.png")
	png := []byte("\x89PNG\r\n\x1a\n0000")
	if err := os.WriteFile(path, png, 0644); err != nil {
		t.Fatalf("write photo: %v", err)
	}
	got, err := photoReference(path)
	if err != nil || !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("expected png data url, got %q %v", got, err)
	}
	if got, _ := photoReference("https://example.com/a.jpg"); got != "https://example.com/a.jpg" {
		t.Fatalf("expected url passthrough, got %q", got)
	}
	if _, err := photoReference(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatal("expected missing file error")
	}
}
