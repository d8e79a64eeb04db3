//go:build whisper

package asr

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"speechbridge/internal/config"
	"speechbridge/internal/speech"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/sirupsen/logrus"
)

// fileEngine recognizes one WAV file per session and reports the transcript as
// a single final result.
type fileEngine struct {
	path    string
	threads int
	logger  *logrus.Logger
	model   whisper.Model

	mu      sync.Mutex
	sink    speech.Sink
	running bool
	aborted atomic.Bool
}

func newFileEngine(cfg *config.Config, path string, logger *logrus.Logger) (speech.Engine, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.ASR.ModelPath); err != nil {
		return nil, fmt.Errorf("model not found: %w", err)
	}
	model, err := whisper.New(cfg.ASR.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &fileEngine{path: path, threads: cfg.ASR.Threads, logger: logger, model: model}, nil
}

func (e *fileEngine) Attach(sink speech.Sink) { e.sink = sink }

func (e *fileEngine) Start(tag string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("whisper: file already being transcribed")
	}
	e.running = true
	e.aborted.Store(false)
	go e.run(whisperLanguage(tag))
	return nil
}

// Stop lets the transcription finish; there is no more audio to wait for.
func (e *fileEngine) Stop() error { return nil }

func (e *fileEngine) Abort() error {
	e.aborted.Store(true)
	return nil
}

func (e *fileEngine) Close() error {
	return e.model.Close()
}

func (e *fileEngine) run(lang string) {
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		e.sink.HandleEnd()
	}()
	e.sink.HandleStart()

	samples, err := ReadWAV16kMono(e.path)
	if err != nil {
		e.sink.HandleError(speech.ErrorEvent{Code: speech.ErrorAudioCapture, Message: err.Error()})
		return
	}
	e.logger.Debugf("transcribing %s (%d samples)", e.path, len(samples))
	text, err := transcribe(e.model, samples, lang, e.threads)
	if err != nil {
		e.sink.HandleError(speech.ErrorEvent{Code: speech.ErrorRecognizer, Message: err.Error()})
		return
	}
	if e.aborted.Load() {
		return
	}
	if strings.TrimSpace(text) == "" {
		e.sink.HandleError(speech.ErrorEvent{Code: speech.ErrorNoSpeech, Message: "no speech detected"})
		return
	}
	e.sink.HandleResult(speech.Result{Text: text, Confidence: 1, IsFinal: true})
}
