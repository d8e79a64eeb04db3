//go:build !whisper

package asr

import (
	"speechbridge/internal/config"
	"speechbridge/internal/speech"

	"github.com/sirupsen/logrus"
)

func newWhisperEngine(cfg *config.Config, logger *logrus.Logger) (speech.Engine, error) {
	return nil, ErrWhisperDisabled
}

func newFileEngine(cfg *config.Config, path string, logger *logrus.Logger) (speech.Engine, error) {
	return nil, ErrWhisperDisabled
}
