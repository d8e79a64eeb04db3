//go:build whisper

package asr

import (
	"errors"
	"io"
	"runtime"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"golang.org/x/text/language"
)

// whisperLanguage maps a BCP47 tag onto whisper's two-letter codes.
func whisperLanguage(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return "auto"
	}
	base, conf := t.Base()
	if conf == language.No {
		return "auto"
	}
	return base.String()
}

func transcribe(model whisper.Model, samples []float32, lang string, threads int) (string, error) {
	ctx, err := model.NewContext()
	if err != nil {
		return "", err
	}
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	ctx.SetThreads(uint(threads))
	if lang != "" {
		// unsupported languages fall back to detection
		if err := ctx.SetLanguage(lang); err != nil {
			_ = ctx.SetLanguage("auto")
		}
	}
	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return "", err
	}
	var b strings.Builder
	for {
		seg, err := ctx.NextSegment()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		b.WriteString(seg.Text)
		if !strings.HasSuffix(seg.Text, " ") {
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(b.String()), nil
}
