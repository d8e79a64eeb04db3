package main

import (
	"fmt"
	"os"

	"speechbridge/internal/control"
	"speechbridge/internal/daemon"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &cobra.Command{
		Use:   "speechbridge",
		Short: "speechbridge: speech recognition sessions as a local daemon",
		Long: `speechbridge runs one speech recognition session at a time, either in a browser
tab through the Web Speech API (engine "bridge") or locally with whisper.cpp
(engine "whisper"), and sends final transcripts to configurable hooks.`,
		Example: `  speechbridge start --lang en-GB --continuous
  speechbridge listen --lang de-DE
  speechbridge cancel --abort
  speechbridge status --json
  speechbridge models download ggml-base-q5_1.bin
  speechbridge service install --env SPEECHBRIDGE_METRICS_ADDR=127.0.0.1:9317
  speechbridge test-hook "computer lights off"`,
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
	}

	root.Version = version
	root.SetVersionTemplate("speechbridge v{{.Version}}\n")

	cfgPath := root.PersistentFlags().StringP("config", "c", "", "Path to config file (TOML). Defaults to ~/.config/speechbridge/config.toml")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(daemon.NewStartCmd(cfgPath))
	root.AddCommand(daemon.NewStopCmd(cfgPath))
	root.AddCommand(daemon.NewRestartCmd(cfgPath))
	root.AddCommand(control.NewStatusCmd(cfgPath))
	root.AddCommand(control.NewListenCmd(cfgPath))
	root.AddCommand(control.NewCancelCmd(cfgPath))
	root.AddCommand(control.NewHealthCmd(cfgPath))
	root.AddCommand(control.NewTailLogCmd(cfgPath))
	root.AddCommand(control.NewTestHookCmd(cfgPath))
	root.AddCommand(control.NewDoctorCmd(cfgPath))
	root.AddCommand(control.NewSetupCmd(cfgPath))
	root.AddCommand(control.NewModelsCmd(cfgPath))
	root.AddCommand(control.NewMicCmd(cfgPath))
	root.AddCommand(control.NewTranscribeCmd(cfgPath))
	root.AddCommand(control.NewServiceCmd(cfgPath))
	root.AddCommand(control.NewConfigCmd(cfgPath))

	// Hidden internal serve command used by start.
	root.AddCommand(daemon.NewServeCmd(cfgPath))

	applyColorHelp(root)

	return root.Execute()
}

func applyColorHelp(root *cobra.Command) {
	const (
		boldBlue = "\033[1;34m"
		green    = "\033[32m"
		bold     = "\033[1m"
		dim      = "\033[2m"
		reset    = "\033[0m"
	)
	defaultHelp := root.HelpFunc()
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != root {
			defaultHelp(cmd, args)
			return
		}
		out := cmd.OutOrStdout()
		write := func(format string, args ...any) { _, _ = fmt.Fprintf(out, format, args...) }
		writeln := func(line string) { _, _ = fmt.Fprintln(out, line) }

		write("%sspeechbridge%s: speech recognition sessions as a local daemon %s(v%s)%s\n", boldBlue, reset, dim, version, reset)
		write("%sOne session at a time; transcripts go to your hooks.%s\n\n", dim, reset)

		write("%sUsage%s\n", bold, reset)
		write("  speechbridge [command] [flags]\n\n")

		write("%sKey commands%s\n", bold, reset)
		writeln("  start|stop|restart          daemon lifecycle")
		writeln("  listen [--lang tag]         open a recognition session")
		writeln("  cancel [--abort]            stop (or abort) the session")
		writeln("  status [--json]             session state + last transcripts")
		writeln("  transcribe <wav>            recognize a file (whisper builds)")
		writeln("  models list|download|set    manage whisper.cpp models")
		writeln("  mic list|set                select input device")
		writeln("  doctor|setup                check deps / download model")
		writeln("  service install|uninstall|status")
		writeln("  health|tail-log|test-hook   liveness, log tail, manual hook")
		writeln("")

		write("%sNotable flags & env%s\n", bold, reset)
		writeln("  --engine bridge|whisper  --lang <tag>  --continuous")
		writeln("  --metrics-addr <addr>   enable /metrics (Prometheus text)")
		writeln("  --no-wake               disable wake word requirement")
		writeln("  -c, --config <path>     config file (default ~/.config/speechbridge/config.toml)")
		writeln("  Env: SPEECHBRIDGE_ENGINE, SPEECHBRIDGE_LANGUAGE, SPEECHBRIDGE_CONTINUOUS,")
		writeln("       SPEECHBRIDGE_BRIDGE_ADDR, SPEECHBRIDGE_METRICS_ADDR, SPEECHBRIDGE_WAKE_ENABLED,")
		writeln("       SPEECHBRIDGE_LOG_LEVEL/FORMAT, SPEECHBRIDGE_TRANSCRIPTS_ENABLED, SPEECHBRIDGE_REDACT_PII")
		writeln("")

		write("%sExamples%s\n", bold, reset)
		writeln(cmd.Example)
		writeln("")

		write("%sCommands%s\n", bold, reset)
		for _, c := range cmd.Commands() {
			if c.Hidden {
				continue
			}
			write("  %s%-15s%s %s\n", green, c.Name(), reset, c.Short)
		}
	})
}
