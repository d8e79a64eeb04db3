package control

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"speechbridge/internal/asr"
	"speechbridge/internal/config"
	"speechbridge/internal/hook"
	"speechbridge/internal/logging"
	"speechbridge/internal/speech"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewTranscribeCmd transcribes a WAV file with whisper and optionally fires
// the matching hook.
func NewTranscribeCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <wavfile>",
		Short: "Transcribe a WAV file (whisper builds)",
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
			lang, _ := cmd.Flags().GetString("lang")
			if lang == "" {
				lang = cfg.Recognition.Language
			}
			wantHook, _ := cmd.Flags().GetBool("hook")
			noWake, _ := cmd.Flags().GetBool("no-wake")

			eng, err := asr.NewFileEngine(cfg, args[0], logger)
			if err != nil {
				return err
			}
			if c, ok := eng.(io.Closer); ok {
				defer c.Close()
			}
			txt, err := recognizeOnce(cmd.Context(), eng, lang, logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), txt)
			if !wantHook {
				return nil
			}
			return sendToHook(cmd.Context(), cfg, logger, txt, lang, noWake)
		},
	}
	cmd.Flags().String("lang", "", "BCP47 language tag (default recognition.language)")
	cmd.Flags().Bool("hook", false, "also send through configured hook")
	cmd.Flags().Bool("no-wake", false, "ignore wake word requirement for this file")
	return cmd
}

// recognizeOnce runs one session on eng and returns the final text.
func recognizeOnce(ctx context.Context, eng speech.Engine, lang string, logger *logrus.Logger) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctl := speech.NewController(eng, logger)
	var (
		parts  []string
		recErr error
		done   = make(chan struct{})
	)
	_, err := ctl.RecognizeSpeech(lang,
		func(res speech.Result) {
			if res.IsFinal {
				parts = append(parts, strings.TrimSpace(res.Text))
			}
		},
		func(ev speech.ErrorEvent) { recErr = ev },
		nil,
		func() { close(done) },
	)
	if err != nil {
		return "", err
	}
	select {
	case <-done:
	case <-ctx.Done():
		_ = ctl.CancelSpeechRecognition(true)
		<-done
		return "", ctx.Err()
	}
	if recErr != nil {
		return "", recErr
	}
	return strings.Join(parts, " "), nil
}

// sendToHook applies the daemon's wake and min_chars gating, then runs the
// selected hook.
func sendToHook(ctx context.Context, cfg *config.Config, logger *logrus.Logger, txt, lang string, noWake bool) error {
	rawTxt := txt
	if cfg.Wake.Enabled && !noWake {
		if !hook.WakeMatches(txt, cfg.Wake.Word, cfg.Wake.Aliases) {
			return fmt.Errorf("wake word %q not found; use --no-wake to override", cfg.Wake.Word)
		}
		txt = hook.RemoveWakeWord(txt, cfg.Wake.Word, cfg.Wake.Aliases)
	}
	r := hook.NewRunner(cfg, logger)
	hk := r.Select(rawTxt)
	if hk == nil {
		return fmt.Errorf("no hook configured; add [[hooks]] entries")
	}
	if hk.MinChars > 0 && len(txt) < hk.MinChars {
		return fmt.Errorf("skipped: len(text)=%d < min_chars=%d", len(txt), hk.MinChars)
	}
	return r.Run(ctx, hook.Job{Hook: hk, Text: txt, Language: lang, Timestamp: time.Now()})
}
