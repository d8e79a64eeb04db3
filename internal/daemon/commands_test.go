package daemon

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"speechbridge/internal/config"
)

func TestWaitForShutdownSucceedsWhenPidFileRemoved(t *testing.T) {
	dir := t.TempDir()
	cfg, _ := config.Default()
	cfg.Paths.ConfigPath = dir + "/config.toml"
	cfg.Paths.PidPath = dir + "/speechbridge.pid"
	if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
		t.Fatalf("save cfg: %v", err)
	}
	if err := os.WriteFile(cfg.Paths.PidPath, []byte("12345"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.Remove(cfg.Paths.PidPath)
	}()
	if err := waitForShutdown(cfg.Paths.ConfigPath, 2*time.Second); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestWaitForShutdownTimesOutOnAlivePid(t *testing.T) {
	dir := t.TempDir()
	cfg, _ := config.Default()
	cfg.Paths.ConfigPath = dir + "/config.toml"
	cfg.Paths.PidPath = dir + "/speechbridge.pid"
	if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
		t.Fatalf("save cfg: %v", err)
	}
	selfPid := os.Getpid()
	if err := os.WriteFile(cfg.Paths.PidPath, []byte(fmt.Sprintf("%d", selfPid)), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if err := waitForShutdown(cfg.Paths.ConfigPath, 300*time.Millisecond); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestFlagEnv(t *testing.T) {
	cmd := NewServeCmd(new(string))
	if env := flagEnv(cmd); len(env) != 0 {
		t.Fatalf("no flags set, got %v", env)
	}
	for k, v := range map[string]string{
		"no-wake":      "true",
		"engine":       "whisper",
		"lang":         "pt-BR",
		"metrics-addr": "127.0.0.1:1",
		"continuous":   "true",
	} {
		if err := cmd.Flags().Set(k, v); err != nil {
			t.Fatal(err)
		}
	}
	env := flagEnv(cmd)
	sort.Strings(env)
	want := []string{
		"SPEECHBRIDGE_CONTINUOUS=true",
		"SPEECHBRIDGE_ENGINE=whisper",
		"SPEECHBRIDGE_LANGUAGE=pt-BR",
		"SPEECHBRIDGE_METRICS_ADDR=127.0.0.1:1",
		"SPEECHBRIDGE_WAKE_ENABLED=0",
	}
	if strings.Join(env, ";") != strings.Join(want, ";") {
		t.Fatalf("got %v", env)
	}
}

func TestEnsureNotRunning(t *testing.T) {
	cfg, _ := config.Default()
	cfg.Paths.PidPath = t.TempDir() + "/speechbridge.pid"
	if err := ensureNotRunning(cfg); err != nil {
		t.Fatalf("no pid file should pass: %v", err)
	}
	if err := os.WriteFile(cfg.Paths.PidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ensureNotRunning(cfg); err == nil {
		t.Fatalf("live pid should be reported as running")
	}
}
