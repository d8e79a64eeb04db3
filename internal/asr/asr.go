// Package asr holds the recognition engines the speech controller can drive:
// a websocket bridge to a browser running the Web Speech API, and whisper.cpp
// engines for the microphone or a WAV file (build tag whisper).
package asr

import (
	"errors"
	"fmt"

	"speechbridge/internal/config"
	"speechbridge/internal/speech"

	"github.com/sirupsen/logrus"
)

// ErrWhisperDisabled is returned by whisper constructors in builds without the
// whisper tag.
var ErrWhisperDisabled = errors.New("asr: whisper engine unavailable; build with -tags whisper")

// New returns the engine selected by recognition.engine.
func New(cfg *config.Config, logger *logrus.Logger) (speech.Engine, error) {
	switch cfg.Recognition.Engine {
	case config.EngineBridge:
		return NewBridge(BridgeOptionsFrom(cfg), logger), nil
	case config.EngineWhisper:
		return newWhisperEngine(cfg, logger)
	default:
		return nil, fmt.Errorf("asr: unknown engine %q", cfg.Recognition.Engine)
	}
}

// NewFileEngine returns an engine that recognizes a single WAV file.
func NewFileEngine(cfg *config.Config, path string, logger *logrus.Logger) (speech.Engine, error) {
	return newFileEngine(cfg, path, logger)
}
