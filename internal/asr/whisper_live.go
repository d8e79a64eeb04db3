//go:build whisper

package asr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"speechbridge/internal/config"
	"speechbridge/internal/speech"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/gordonklaus/portaudio"
	vad "github.com/maxhawkins/go-webrtcvad"
	"github.com/sirupsen/logrus"
)

// whisperEngine captures the microphone, cuts it into utterances with VAD and
// transcribes each one with whisper.cpp. Every utterance is a final result.
type whisperEngine struct {
	cfg    *config.Config
	logger *logrus.Logger
	model  whisper.Model

	mu          sync.Mutex
	sink        speech.Sink
	running     bool
	stopCapture context.CancelFunc
	abortWork   context.CancelFunc
}

func newWhisperEngine(cfg *config.Config, logger *logrus.Logger) (speech.Engine, error) {
	if cfg.Audio.Channels != 1 {
		return nil, fmt.Errorf("only mono input supported; set audio.channels = 1")
	}
	if cfg.Audio.FrameMS != 10 && cfg.Audio.FrameMS != 20 && cfg.Audio.FrameMS != 30 {
		return nil, fmt.Errorf("audio.frame_ms must be 10, 20, or 30 (got %d)", cfg.Audio.FrameMS)
	}
	switch cfg.Audio.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("sample_rate must be 8k/16k/32k/48k for webrtc VAD (got %d)", cfg.Audio.SampleRate)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	model, err := whisper.New(cfg.ASR.ModelPath)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &whisperEngine{cfg: cfg, logger: logger, model: model}, nil
}

func (e *whisperEngine) Attach(sink speech.Sink) { e.sink = sink }

func (e *whisperEngine) Start(tag string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("whisper: capture already running")
	}
	captureCtx, stopCapture := context.WithCancel(context.Background())
	workCtx, abortWork := context.WithCancel(context.Background())
	e.running = true
	e.stopCapture = stopCapture
	e.abortWork = abortWork
	go e.run(captureCtx, workCtx, whisperLanguage(tag))
	return nil
}

// Stop ends capture; the utterance in progress is still transcribed.
func (e *whisperEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopCapture != nil {
		e.stopCapture()
	}
	return nil
}

// Abort ends capture and drops everything not yet delivered.
func (e *whisperEngine) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.abortWork != nil {
		e.abortWork()
	}
	if e.stopCapture != nil {
		e.stopCapture()
	}
	return nil
}

func (e *whisperEngine) Close() error {
	_ = e.Abort()
	if err := e.model.Close(); err != nil {
		_ = portaudio.Terminate()
		return err
	}
	return portaudio.Terminate()
}

func (e *whisperEngine) run(captureCtx, workCtx context.Context, lang string) {
	utterances := make(chan []int16, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.transcribeWorker(workCtx, utterances, lang)
	}()

	err := e.capture(captureCtx, utterances)
	close(utterances)
	<-done

	e.mu.Lock()
	e.running = false
	e.stopCapture, e.abortWork = nil, nil
	e.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		e.sink.HandleError(speech.ErrorEvent{Code: speech.ErrorAudioCapture, Message: err.Error()})
	}
	e.sink.HandleEnd()
}

// capture reads the microphone until ctx is done, queueing one buffer per
// utterance. It reports start once the stream is running.
func (e *whisperEngine) capture(ctx context.Context, out chan<- []int16) error {
	dev, err := selectDevice(e.cfg.Audio.DeviceName)
	if err != nil {
		return err
	}
	frameSamples := e.cfg.Audio.SampleRate * e.cfg.Audio.FrameMS / 1000
	if ok := vad.ValidRateAndFrameLength(e.cfg.Audio.SampleRate, frameSamples); !ok {
		return fmt.Errorf("invalid frame_ms %d for sample_rate %d", e.cfg.Audio.FrameMS, e.cfg.Audio.SampleRate)
	}
	detector, err := vad.New()
	if err != nil {
		return fmt.Errorf("vad: %w", err)
	}
	if err := detector.SetMode(e.cfg.VAD.Aggressiveness); err != nil {
		return fmt.Errorf("vad mode: %w", err)
	}

	buf := make([]int16, frameSamples)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: e.cfg.Audio.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(e.cfg.Audio.SampleRate),
		FramesPerBuffer: frameSamples,
	}, &buf)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	defer stream.Stop()

	e.logger.Infof("listening on mic: %s @ %d Hz", dev.Name, e.cfg.Audio.SampleRate)
	e.sink.HandleStart()

	var (
		chunk       []int16
		inSpeech    bool
		lastVoice   time.Time
		speechBegan time.Time
		silenceDur  = time.Duration(e.cfg.VAD.SilenceMS) * time.Millisecond
		minSpeech   = time.Duration(e.cfg.VAD.MinSpeechMS) * time.Millisecond
		maxSegDur   = time.Duration(e.cfg.VAD.MaxSegmentMS) * time.Millisecond
	)
	flush := func() {
		if len(chunk) > 0 && lastVoice.Sub(speechBegan) >= minSpeech {
			select {
			case out <- append([]int16(nil), chunk...):
			default:
				e.logger.Warn("utterance queue full, dropping utterance")
			}
		}
		inSpeech = false
		chunk = chunk[:0]
	}

	for {
		select {
		case <-ctx.Done():
			if inSpeech {
				flush()
			}
			return ctx.Err()
		default:
		}
		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				e.logger.Warn("input overflow")
				continue
			}
			return fmt.Errorf("stream read: %w", err)
		}
		voice := !e.cfg.VAD.Enabled
		if !voice {
			voice, err = detector.Process(e.cfg.Audio.SampleRate, int16Bytes(buf))
			if err != nil {
				return fmt.Errorf("vad: %w", err)
			}
		}

		now := time.Now()
		if voice {
			if !inSpeech {
				inSpeech = true
				speechBegan = now
				chunk = chunk[:0]
			}
			chunk = append(chunk, buf...)
			lastVoice = now
		}
		if inSpeech && ((!voice && now.Sub(lastVoice) >= silenceDur) ||
			(maxSegDur > 0 && now.Sub(speechBegan) >= maxSegDur)) {
			flush()
		}
	}
}

func (e *whisperEngine) transcribeWorker(ctx context.Context, in <-chan []int16, lang string) {
	for pcm := range in {
		if ctx.Err() != nil {
			continue
		}
		samples := make([]float32, len(pcm))
		for i, s := range pcm {
			samples[i] = float32(s) / 32768.0
		}
		if e.cfg.Audio.SampleRate != whisperSampleRate {
			samples = resampleLinear(samples, e.cfg.Audio.SampleRate, whisperSampleRate)
		}
		text, err := transcribe(e.model, samples, lang, e.cfg.ASR.Threads)
		if err != nil {
			e.logger.Errorf("transcribe: %v", err)
			continue
		}
		if ctx.Err() != nil || strings.TrimSpace(text) == "" {
			continue
		}
		e.sink.HandleResult(speech.Result{Text: text, IsFinal: true})
	}
}

func int16Bytes(frame []int16) []byte {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func selectDevice(preferred string) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if preferred != "" {
		for _, d := range devs {
			if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), strings.ToLower(preferred)) {
				return d, nil
			}
		}
	}
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		return def, nil
	}
	for _, d := range devs {
		if d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input devices found")
}
