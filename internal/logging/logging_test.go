package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"speechbridge/internal/config"

	"github.com/sirupsen/logrus"
)

func TestConfigureWritesJSONToLogFile(t *testing.T) {
	dir := t.TempDir()
	cfg, _ := config.Default()
	cfg.Paths.StateDir = dir
	cfg.Paths.LogPath = filepath.Join(dir, "logs", "speechbridge.log")
	cfg.Paths.TranscriptPath = filepath.Join(dir, "transcripts.log")
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "warn"

	logger, err := Configure(cfg)
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if logger.GetLevel() != logrus.WarnLevel {
		t.Fatalf("level = %s", logger.GetLevel())
	}
	logger.Info("hidden")
	logger.Warn("visible")

	data, err := os.ReadFile(cfg.Paths.LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"visible"`) {
		t.Fatalf("unexpected log contents: %s", out)
	}
}
