// Package hook runs the configured commands for final transcripts.
package hook

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"speechbridge/internal/config"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// Job represents a hook invocation request.
type Job struct {
	Hook      *config.HookConfig
	Text      string
	Language  string
	SessionID string
	Timestamp time.Time
}

// Runner executes hooks with cooldown and prefix handling. Cooldowns are
// tracked per hook entry.
type Runner struct {
	cfg      *config.Config
	logger   *logrus.Logger
	hostname string

	mu      sync.Mutex
	lastRun map[*config.HookConfig]time.Time
}

func NewRunner(cfg *config.Config, logger *logrus.Logger) *Runner {
	host, _ := os.Hostname()
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		hostname: host,
		lastRun:  make(map[*config.HookConfig]time.Time),
	}
}

// Select returns the hook for text, or nil when no hooks are configured.
func (r *Runner) Select(text string) *config.HookConfig {
	return SelectHookConfig(r.cfg, text)
}

// ShouldRun returns whether cooldown allows a new run of hk.
func (r *Runner) ShouldRun(hk *config.HookConfig) bool {
	if hk == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if hk.CooldownSec <= 0 {
		return true
	}
	return time.Since(r.lastRun[hk]).Seconds() >= hk.CooldownSec
}

// Run executes job.Hook with the transcript as the last argument.
func (r *Runner) Run(ctx context.Context, job Job) error {
	hk := job.Hook
	if hk == nil {
		return fmt.Errorf("no hook selected")
	}
	r.mu.Lock()
	r.lastRun[hk] = time.Now()
	r.mu.Unlock()

	if hk.Command == "" {
		return fmt.Errorf("hook has no command configured")
	}
	args := append([]string{}, hk.Args...)
	if strings.TrimSpace(hk.ArgLine) != "" {
		parsed, err := ParseArgs(hk.ArgLine)
		if err != nil {
			return fmt.Errorf("parse arg_line: %w", err)
		}
		args = parsed
	}

	prefix := strings.ReplaceAll(hk.Prefix, "${hostname}", r.hostname)
	text := job.Text
	if hk.RedactPII {
		text = redactPII(text)
	}
	payload := strings.TrimSpace(prefix + text)
	args = append(args, payload)

	runCtx := ctx
	var cancel context.CancelFunc
	if hk.TimeoutSec > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(float64(time.Second)*hk.TimeoutSec))
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, hk.Command, args...)
	cmd.Env = os.Environ()
	for k, v := range hk.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env,
		"SPEECHBRIDGE_TEXT="+text,
		"SPEECHBRIDGE_PREFIX="+prefix,
		"SPEECHBRIDGE_LANGUAGE="+job.Language,
		"SPEECHBRIDGE_SESSION="+job.SessionID,
	)

	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		r.logger.Infof("hook output: %s", strings.TrimSpace(string(out)))
	}
	if err != nil {
		return fmt.Errorf("hook failed: %w", err)
	}
	return nil
}

// ParseArgs splits a shell-style argument string.
func ParseArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	return shlex.Split(raw)
}

var (
	emailRE = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`\+?\d[\d\s\-\(\)]{6,}\d`)
)

func redactPII(s string) string {
	s = emailRE.ReplaceAllString(s, "[redacted-email]")
	s = phoneRE.ReplaceAllString(s, "[redacted-phone]")
	return s
}
