package control

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"speechbridge/internal/config"
	"speechbridge/internal/doctor"
	"speechbridge/internal/hook"
	"speechbridge/internal/logging"

	"github.com/spf13/cobra"
)

// call sends req to the daemon's control socket and decodes the reply.
func call(cfg *config.Config, req Request, resp any) error {
	conn, err := net.DialTimeout("unix", cfg.Paths.SocketPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return err
	}
	return json.NewDecoder(conn).Decode(resp)
}

// NewStatusCmd queries daemon status.
func NewStatusCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and recognition session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			var status Status
			if err := call(cfg, Request{Op: "status"}, &status); err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(status)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "running: %v\nuptime: %.1fs\nengine: %s\nstate: %s\n", status.Running, status.UptimeSec, status.Engine, status.State)
			if status.SessionID != "" {
				fmt.Fprintf(out, "session: %s (%s)\n", status.SessionID, status.Language)
			}
			if status.Violations > 0 {
				fmt.Fprintf(out, "protocol violations: %d\n", status.Violations)
			}
			for _, t := range status.Transcripts {
				fmt.Fprintf(out, "%s  %s\n", t.Timestamp.Format("15:04:05"), t.Text)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output JSON")
	return cmd
}

// NewListenCmd asks the daemon to open a recognition session.
func NewListenCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Start a recognition session in the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			lang, _ := cmd.Flags().GetString("lang")
			var resp SimpleResponse
			if err := call(cfg, Request{Op: "listen", Language: lang}, &resp); err != nil {
				return err
			}
			if !resp.OK {
				return responseError("listen", resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s started\n", resp.Message)
			return nil
		},
	}
	cmd.Flags().String("lang", "", "BCP47 language tag (default recognition.language)")
	return cmd
}

// NewCancelCmd asks the daemon to end the active session.
func NewCancelCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Stop the active recognition session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			abort, _ := cmd.Flags().GetBool("abort")
			var resp SimpleResponse
			if err := call(cfg, Request{Op: "cancel", Abort: abort}, &resp); err != nil {
				return err
			}
			if !resp.OK {
				return responseError("cancel", resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}
	cmd.Flags().Bool("abort", false, "discard pending results instead of waiting for them")
	return cmd
}

// NewHealthCmd pings the daemon.
func NewHealthCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Ping the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			var resp SimpleResponse
			if err := call(cfg, Request{Op: "health"}, &resp); err != nil {
				return err
			}
			if !resp.OK {
				return responseError("health", resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}
}

func responseError(op string, resp SimpleResponse) error {
	if resp.Code != "" {
		return fmt.Errorf("%s failed (%s): %s", op, resp.Code, resp.Message)
	}
	return fmt.Errorf("%s failed: %s", op, resp.Message)
}

// NewTailLogCmd tails the main log file (simple last N lines).
func NewTailLogCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail-log",
		Short: "Show the last log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("lines")
			lines, err := tailFile(cfg.Paths.LogPath, n)
			if err != nil {
				return err
			}
			for _, l := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}
	cmd.Flags().IntP("lines", "n", 50, "number of lines")
	return cmd
}

func tailFile(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// NewTestHookCmd triggers hook manually.
func NewTestHookCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "test-hook \"some text\"",
		Short: "Send sample text through the matching hook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			logger, err := logging.Configure(cfg)
			if err != nil {
				return err
			}
			r := hook.NewRunner(cfg, logger)
			hk := r.Select(args[0])
			if hk == nil {
				return fmt.Errorf("no hook configured; add [[hooks]] entries")
			}
			job := hook.Job{Hook: hk, Text: args[0], Language: cfg.Recognition.Language, Timestamp: time.Now()}
			return r.Run(cmd.Context(), job)
		},
	}
}

// NewDoctorCmd runs environment checks.
func NewDoctorCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check dependencies and config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			results := doctor.Run(cfg)
			failed := false
			for _, r := range results {
				status := "ok"
				if !r.Pass {
					status = "fail"
					failed = true
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %-4s %s\n", r.Name, status, r.Detail)
			}
			if failed {
				return fmt.Errorf("doctor found issues")
			}
			return nil
		},
	}
}

// NewConfigCmd groups config inspection commands.
func NewConfigCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config (file, defaults and env overrides)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", cfg.Paths.ConfigPath)
			return config.Write(cmd.OutOrStdout(), cfg)
		},
	})
	return cmd
}
