package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	EngineBridge  = "bridge"
	EngineWhisper = "whisper"

	DefaultLanguage      = "en-US"
	DefaultWakeWord      = "computer"
	defaultStatusTail    = 10
	defaultRestartMS     = 250
	defaultStateDirLinux = ".local/state/speechbridge"
	defaultConfigDir     = ".config/speechbridge"
)

// Config holds user configuration loaded from TOML.
type Config struct {
	Recognition struct {
		Engine         string  `toml:"engine"`   // bridge, whisper
		Language       string  `toml:"language"` // BCP47 tag
		AutoStart      bool    `toml:"auto_start"`
		Continuous     bool    `toml:"continuous"` // restart sessions that end on their own
		RestartDelayMS int     `toml:"restart_delay_ms"`
		EndTimeoutSec  float64 `toml:"end_timeout_sec"` // 0 waits for the engine forever
	} `toml:"recognition"`

	Bridge struct {
		Addr            string `toml:"addr"`
		Path            string `toml:"path"`
		Continuous      bool   `toml:"continuous"`
		InterimResults  bool   `toml:"interim_results"`
		MaxAlternatives int    `toml:"max_alternatives"`
	} `toml:"bridge"`

	Audio struct {
		DeviceName  string `toml:"device_name"`
		DeviceIndex int    `toml:"device_index"`
		SampleRate  int    `toml:"sample_rate"`
		Channels    int    `toml:"channels"`
		FrameMS     int    `toml:"frame_ms"`
	} `toml:"audio"`

	VAD struct {
		Enabled        bool `toml:"enabled"`
		SilenceMS      int  `toml:"silence_ms"`
		Aggressiveness int  `toml:"aggressiveness"`
		MinSpeechMS    int  `toml:"min_speech_ms"`
		MaxSegmentMS   int  `toml:"max_segment_ms"`
	} `toml:"vad"`

	ASR struct {
		ModelPath string `toml:"model_path"`
		Threads   int    `toml:"threads"` // 0 uses every CPU
	} `toml:"asr"`

	Wake struct {
		Enabled bool     `toml:"enabled"`
		Word    string   `toml:"word"`
		Aliases []string `toml:"aliases"`
	} `toml:"wake"`

	Hooks []HookConfig `toml:"hooks"`

	Logging struct {
		Level  string `toml:"level"`  // debug, info, warn, error
		Format string `toml:"format"` // text, json
		Stdout bool   `toml:"stdout"`
	} `toml:"logging"`

	Paths struct {
		StateDir       string `toml:"state_dir"`
		LogPath        string `toml:"log_path"`
		TranscriptPath string `toml:"transcript_path"`
		SocketPath     string `toml:"socket_path"`
		PidPath        string `toml:"pid_path"`
		ModelDir       string `toml:"model_dir"`
		ConfigPath     string `toml:"-"`
	} `toml:"paths"`

	UI struct {
		StatusTail int `toml:"status_tail"`
	} `toml:"ui"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`

	Transcripts struct {
		Enabled bool `toml:"enabled"`
	} `toml:"transcripts"`
}

// Default returns Config populated with defaults.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(home, defaultStateDirLinux)
	if runtime.GOOS == "darwin" {
		stateDir = filepath.Join(home, "Library", "Application Support", "speechbridge")
	}

	cfg := &Config{}

	cfg.Recognition.Engine = EngineBridge
	cfg.Recognition.Language = DefaultLanguage
	cfg.Recognition.AutoStart = false
	cfg.Recognition.Continuous = false
	cfg.Recognition.RestartDelayMS = defaultRestartMS

	cfg.Bridge.Addr = "127.0.0.1:9318"
	cfg.Bridge.Path = "/recognition"
	cfg.Bridge.Continuous = true
	cfg.Bridge.InterimResults = true
	cfg.Bridge.MaxAlternatives = 1

	cfg.Audio.SampleRate = 16000
	cfg.Audio.Channels = 1
	cfg.Audio.FrameMS = 20

	cfg.VAD.Enabled = true
	cfg.VAD.SilenceMS = 1000
	cfg.VAD.Aggressiveness = 2
	cfg.VAD.MinSpeechMS = 300
	cfg.VAD.MaxSegmentMS = 10000

	cfg.Paths.ModelDir = filepath.Join(stateDir, "models")
	cfg.ASR.ModelPath = filepath.Join(cfg.Paths.ModelDir, "ggml-base-q5_1.bin")

	cfg.Wake.Enabled = false
	cfg.Wake.Word = DefaultWakeWord

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Paths.StateDir = stateDir
	cfg.Paths.LogPath = filepath.Join(stateDir, "speechbridge.log")
	cfg.Paths.TranscriptPath = filepath.Join(stateDir, "transcripts.log")
	cfg.Paths.SocketPath = filepath.Join(stateDir, "speechbridge.sock")
	cfg.Paths.PidPath = filepath.Join(stateDir, "speechbridge.pid")

	cfg.UI.StatusTail = defaultStatusTail

	cfg.Metrics.Enabled = false
	cfg.Metrics.Addr = "127.0.0.1:9317"

	cfg.Transcripts.Enabled = true

	return cfg, nil
}

// Load loads config from file, applying defaults. A missing file is created
// from the defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, defaultConfigDir, "config.toml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if err := Save(cfg, path); err != nil {
			return nil, err
		}
		cfg.Paths.ConfigPath = path
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Paths.ConfigPath = path
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := Write(f, cfg); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Write encodes cfg as TOML.
func Write(w io.Writer, cfg *Config) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(cfg)
}

// Validate rejects settings the daemon cannot run with.
func Validate(cfg *Config) error {
	switch cfg.Recognition.Engine {
	case EngineBridge, EngineWhisper:
	default:
		return fmt.Errorf("recognition.engine must be %q or %q (got %q)", EngineBridge, EngineWhisper, cfg.Recognition.Engine)
	}
	if strings.TrimSpace(cfg.Recognition.Language) == "" {
		return errors.New("recognition.language must be set")
	}
	if cfg.Recognition.EndTimeoutSec < 0 {
		return errors.New("recognition.end_timeout_sec must not be negative")
	}
	if !strings.HasPrefix(cfg.Bridge.Path, "/") || cfg.Bridge.Path == "/" {
		return fmt.Errorf("bridge.path must start with / and not be the root (got %q)", cfg.Bridge.Path)
	}
	return nil
}

// EndTimeout returns recognition.end_timeout_sec as a duration.
func (c *Config) EndTimeout() time.Duration {
	return time.Duration(c.Recognition.EndTimeoutSec * float64(time.Second))
}

// RestartDelay returns recognition.restart_delay_ms as a duration.
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.Recognition.RestartDelayMS) * time.Millisecond
}

// MustStatePaths ensures state dirs exist.
func MustStatePaths(cfg *Config) error {
	for _, p := range []string{cfg.Paths.StateDir, filepath.Dir(cfg.Paths.LogPath), filepath.Dir(cfg.Paths.TranscriptPath)} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func envBool(v string) bool {
	return v != "0" && strings.ToLower(v) != "false"
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPEECHBRIDGE_ENGINE"); v != "" {
		cfg.Recognition.Engine = strings.ToLower(v)
	}
	if v := os.Getenv("SPEECHBRIDGE_LANGUAGE"); v != "" {
		cfg.Recognition.Language = v
	}
	if v := os.Getenv("SPEECHBRIDGE_CONTINUOUS"); v != "" {
		cfg.Recognition.Continuous = envBool(v)
	}
	if v := os.Getenv("SPEECHBRIDGE_BRIDGE_ADDR"); v != "" {
		cfg.Bridge.Addr = v
	}
	if v := os.Getenv("SPEECHBRIDGE_WAKE_ENABLED"); v != "" {
		cfg.Wake.Enabled = envBool(v)
	}
	if v := os.Getenv("SPEECHBRIDGE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("SPEECHBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SPEECHBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SPEECHBRIDGE_TRANSCRIPTS_ENABLED"); v != "" {
		cfg.Transcripts.Enabled = envBool(v)
	}
	if v := os.Getenv("SPEECHBRIDGE_REDACT_PII"); v != "" {
		for i := range cfg.Hooks {
			cfg.Hooks[i].RedactPII = envBool(v)
		}
	}
}
