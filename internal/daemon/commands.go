package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"speechbridge/internal/config"
	"speechbridge/internal/logging"
	"speechbridge/internal/run"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// runtimeFlags adds the per-run overrides shared by start and serve.
func runtimeFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-wake", false, "disable wake word requirement for this run")
	cmd.Flags().String("metrics-addr", "", "enable metrics at address (e.g., 127.0.0.1:9317) for this run")
	cmd.Flags().String("engine", "", "recognition engine for this run (bridge, whisper)")
	cmd.Flags().String("lang", "", "BCP47 language tag for this run")
	cmd.Flags().Bool("continuous", false, "restart sessions that end on their own")
}

// flagEnv turns runtime flags into env overrides understood by config.Load.
func flagEnv(cmd *cobra.Command) []string {
	var env []string
	if f := cmd.Flag("no-wake"); f != nil && f.Changed {
		env = append(env, "SPEECHBRIDGE_WAKE_ENABLED=0")
	}
	if f := cmd.Flag("continuous"); f != nil && f.Changed {
		env = append(env, "SPEECHBRIDGE_CONTINUOUS="+f.Value.String())
	}
	for flag, key := range map[string]string{
		"metrics-addr": "SPEECHBRIDGE_METRICS_ADDR",
		"engine":       "SPEECHBRIDGE_ENGINE",
		"lang":         "SPEECHBRIDGE_LANGUAGE",
	} {
		if f := cmd.Flag(flag); f != nil && f.Value.String() != "" {
			env = append(env, fmt.Sprintf("%s=%s", key, f.Value.String()))
		}
	}
	return env
}

// NewStartCmd starts the daemon (background unless --foreground).
func NewStartCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start speechbridge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fg, _ := cmd.Flags().GetBool("foreground"); fg {
				return serve(cmd, *cfgPath)
			}
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if err := ensureNotRunning(cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(cfg.Paths.PidPath), 0o755); err != nil {
				return err
			}
			self, err := os.Executable()
			if err != nil {
				return err
			}
			child := exec.Command(self, "serve", "--config", cfg.Paths.ConfigPath)
			child.Env = append(os.Environ(), flagEnv(cmd)...)
			child.Stdout = os.Stdout
			child.Stderr = os.Stderr
			if err := child.Start(); err != nil {
				return err
			}
			// Wait a moment and confirm pid file appears.
			for waited := 0; waited < 20; waited++ {
				if _, err := os.Stat(cfg.Paths.PidPath); err == nil {
					break
				}
				time.Sleep(100 * time.Millisecond)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "speechbridge started (pid %d)\n", child.Process.Pid)
			return nil
		},
	}
	runtimeFlags(cmd)
	cmd.Flags().Bool("foreground", false, "run in the foreground (for launchd/systemd)")
	return cmd
}

// NewServeCmd runs the daemon foreground (internal).
func NewServeCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "serve",
		Short:  "Run speechbridge daemon (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, *cfgPath)
		},
	}
	runtimeFlags(cmd)
	return cmd
}

func serve(cmd *cobra.Command, cfgPath string) error {
	for _, kv := range flagEnv(cmd) {
		k, v, _ := strings.Cut(kv, "=")
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger, err := logging.Configure(cfg)
	if err != nil {
		return err
	}
	logger.Infof("speechbridge serving (engine %s, language %s)", cfg.Recognition.Engine, cfg.Recognition.Language)
	return run.Serve(cfg, logger)
}

// NewStopCmd stops the daemon.
func NewStopCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop speechbridge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			pid, err := readPID(cfg.Paths.PidPath)
			if err != nil {
				return fmt.Errorf("daemon not running: %w", err)
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				return err
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "stop signal sent")
			return nil
		},
	}
}

// NewRestartCmd stops then starts.
func NewRestartCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart speechbridge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stopCmd := NewStopCmd(cfgPath)
			stopCmd.SetOut(cmd.OutOrStdout())
			_ = stopCmd.RunE(stopCmd, args) // ignore error if not running

			if err := waitForShutdown(*cfgPath, 5*time.Second); err != nil {
				return err
			}

			startCmd := NewStartCmd(cfgPath)
			startCmd.SetOut(cmd.OutOrStdout())
			cmd.Flags().Visit(func(f *pflag.Flag) {
				_ = startCmd.Flags().Set(f.Name, f.Value.String())
			})
			return startCmd.RunE(startCmd, args)
		},
	}
	runtimeFlags(cmd)
	return cmd
}

func ensureNotRunning(cfg *config.Config) error {
	pid, err := readPID(cfg.Paths.PidPath)
	if err != nil {
		return nil
	}
	// Check if process alive.
	proc, err := os.FindProcess(pid)
	if err == nil {
		if err := proc.Signal(syscall.Signal(0)); err == nil {
			return fmt.Errorf("already running with pid %d", pid)
		}
	}
	return nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, err
	}
	return pid, nil
}

func waitForShutdown(cfgPath string, timeout time.Duration) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pid, err := readPID(cfg.Paths.PidPath)
		if err != nil {
			return nil // pid file gone
		}
		proc, _ := os.FindProcess(pid)
		if proc != nil {
			if err := proc.Signal(syscall.Signal(0)); err != nil {
				_ = os.Remove(cfg.Paths.PidPath)
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("restart: daemon did not stop within %s", timeout)
}
