// Package doctor checks that the configured engine and hooks can run.
package doctor

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"speechbridge/internal/config"
	"speechbridge/internal/speech"
)

// Result represents a diagnostic check.
type Result struct {
	Name   string
	Pass   bool
	Detail string
}

// Run executes doctor checks.
func Run(cfg *config.Config) []Result {
	results := []Result{
		checkFile("config path", cfg.Paths.ConfigPath),
		checkLanguage(cfg.Recognition.Language),
	}
	switch cfg.Recognition.Engine {
	case config.EngineWhisper:
		results = append(results,
			checkFile("model file", cfg.ASR.ModelPath),
			checkPortAudioPkgConfig(),
			checkPortAudio(),
		)
	default:
		results = append(results, checkBridgeAddr(cfg.Bridge.Addr))
	}
	if len(cfg.Hooks) == 0 {
		results = append(results, Result{Name: "hooks", Pass: true, Detail: "none configured (transcripts only)"})
	}
	for i, hk := range cfg.Hooks {
		results = append(results, checkHookExecutable(fmt.Sprintf("hooks[%d]", i), hk.Command))
	}
	return results
}

func checkFile(label, path string) Result {
	if path == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	if _, err := os.Stat(os.ExpandEnv(path)); err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: path}
}

func checkLanguage(tag string) Result {
	t, err := speech.ParseLanguage(tag)
	if err != nil {
		return Result{Name: "language", Pass: false, Detail: err.Error()}
	}
	return Result{Name: "language", Pass: true, Detail: t.String()}
}

// checkBridgeAddr fails when another process already holds the bridge port.
func checkBridgeAddr(addr string) Result {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Result{Name: "bridge addr", Pass: false, Detail: fmt.Sprintf("%s unavailable: %v (is the daemon already running?)", addr, err)}
	}
	_ = ln.Close()
	return Result{Name: "bridge addr", Pass: true, Detail: fmt.Sprintf("open http://%s/ in a browser with SpeechRecognition", addr)}
}

func checkHookExecutable(label, cmd string) Result {
	if cmd == "" {
		return Result{Name: label, Pass: false, Detail: "command not set"}
	}
	path := os.ExpandEnv(cmd)
	// If contains a path separator, treat as explicit path.
	if strings.Contains(path, "/") || strings.Contains(path, "\\") {
		info, err := os.Stat(path)
		if err != nil {
			return Result{Name: label, Pass: false, Detail: err.Error()}
		}
		if info.IsDir() {
			return Result{Name: label, Pass: false, Detail: "is a directory; set command to an executable file"}
		}
		if info.Mode().Perm()&0o111 == 0 {
			return Result{Name: label, Pass: false, Detail: "not executable; chmod +x or choose another command"}
		}
		return Result{Name: label, Pass: true, Detail: path}
	}
	// Else search PATH.
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: resolved}
}

func checkPortAudioPkgConfig() Result {
	pkg, err := exec.LookPath("pkg-config")
	if err != nil {
		return Result{Name: "pkg-config", Pass: false, Detail: "pkg-config not found (brew install pkg-config)"}
	}
	cmd := exec.Command(pkg, "--exists", "portaudio-2.0")
	if err := cmd.Run(); err != nil {
		return Result{Name: "portaudio-dev", Pass: false, Detail: "portaudio-2.0 not found (brew install portaudio)"}
	}
	versionCmd := exec.Command(pkg, "--modversion", "portaudio-2.0")
	if out, err := versionCmd.Output(); err == nil {
		return Result{Name: "portaudio-dev", Pass: true, Detail: strings.TrimSpace(string(out))}
	}
	return Result{Name: "portaudio-dev", Pass: true, Detail: "found via pkg-config"}
}
