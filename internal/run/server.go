package run

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"speechbridge/internal/asr"
	"speechbridge/internal/config"
	"speechbridge/internal/control"
	"speechbridge/internal/hook"
	"speechbridge/internal/speech"

	"github.com/sirupsen/logrus"
)

// Server owns the recognition controller and routes its results to
// transcripts and hooks. It also serves the control socket, metrics and, for
// the bridge engine, the browser page.
type Server struct {
	cfg       *config.Config
	logger    *logrus.Logger
	engine    speech.Engine
	ctl       *speech.Controller
	hook      *hook.Runner
	startedAt time.Time
	lastHeard atomic.Int64

	ctx  context.Context
	stop context.CancelFunc

	// keepListening restarts sessions that end on their own.
	keepListening atomic.Bool

	transcriptsMu sync.Mutex
	transcripts   []control.Transcript

	metrics metrics
	hookCh  chan hook.Job

	wg sync.WaitGroup
}

// Serve runs the daemon until interrupted.
func Serve(cfg *config.Config, logger *logrus.Logger) error {
	if err := config.MustStatePaths(cfg); err != nil {
		return err
	}
	if err := os.WriteFile(cfg.Paths.PidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(cfg.Paths.PidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("remove pid file: %v", err)
		}
	}()
	if err := os.Remove(cfg.Paths.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Debugf("remove stale socket: %v", err)
	}

	engine, err := asr.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("engine init: %w", err)
	}
	srv := newServer(cfg, logger, engine)
	defer srv.shutdown()

	go srv.controlLoop(srv.ctx)

	srv.wg.Add(1)
	go srv.hookWorker(srv.ctx)

	if cfg.Metrics.Enabled {
		go srv.httpServe(srv.ctx.Done(), "metrics", cfg.Metrics.Addr, srv.metricsHandler())
	}
	if h, ok := engine.(http.Handler); ok {
		go srv.httpServe(srv.ctx.Done(), "recognition bridge", cfg.Bridge.Addr, h)
	}

	if cfg.Recognition.AutoStart {
		go srv.autoStart()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case s := <-sigCh:
		logger.Infof("received signal %s, shutting down", s)
	case <-srv.ctx.Done():
	}
	return nil
}

func newServer(cfg *config.Config, logger *logrus.Logger, engine speech.Engine) *Server {
	ctx, stop := context.WithCancel(context.Background())
	srv := &Server{
		cfg:         cfg,
		logger:      logger,
		engine:      engine,
		ctl:         speech.NewController(engine, logger, speech.WithEndTimeout(cfg.EndTimeout())),
		hook:        hook.NewRunner(cfg, logger),
		startedAt:   time.Now(),
		ctx:         ctx,
		stop:        stop,
		transcripts: make([]control.Transcript, 0, cfg.UI.StatusTail),
		hookCh:      make(chan hook.Job, max(1, hookQueueSize(cfg))),
	}
	srv.metrics.reset()
	return srv
}

func (s *Server) shutdown() {
	s.keepListening.Store(false)
	if err := s.ctl.Cancel(true); err != nil {
		s.logger.Warnf("abort on shutdown: %v", err)
	}
	s.stop()
	s.wg.Wait()
	if c, ok := s.engine.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.logger.Warnf("engine close: %v", err)
		}
	}
}

// autoStart keeps trying to open the first session; the bridge engine has no
// browser attached right after startup.
func (s *Server) autoStart() {
	delay := 500 * time.Millisecond
	for {
		_, err := s.listen("")
		if err == nil || speech.IsCode(err, speech.CodeSessionAlreadyActive) {
			return
		}
		s.logger.Debugf("auto start: %v", err)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay < 5*time.Second {
			delay *= 2
		}
	}
}

// listen opens a session. In continuous mode it stays open until cancel.
func (s *Server) listen(language string) (string, error) {
	if language == "" {
		language = s.cfg.Recognition.Language
	}
	if _, err := speech.ParseLanguage(language); err != nil {
		return "", speech.E(speech.CodeInvalidArgument, "run.listen", "invalid language", err)
	}
	prev := s.keepListening.Swap(s.cfg.Recognition.Continuous)
	id, err := s.startSession(language)
	if err != nil {
		// a rejected listen leaves the open session as it was
		s.keepListening.Store(prev)
		return "", err
	}
	return id, nil
}

func (s *Server) startSession(language string) (string, error) {
	sub, err := s.ctl.RecognizeSpeech(language, s.onResult, s.onError, s.onStarted, func() { s.onEnded(language) })
	if err != nil {
		return "", err
	}
	s.metrics.incSessions()
	return sub.SessionID(), nil
}

func (s *Server) cancel(aborted bool) error {
	s.keepListening.Store(false)
	return s.ctl.CancelSpeechRecognition(aborted)
}

func (s *Server) onStarted() {
	s.logger.Info("listening")
}

func (s *Server) onError(ev speech.ErrorEvent) {
	s.metrics.incEngineErrors()
	switch ev.Code {
	case speech.ErrorNotAllowed, speech.ErrorServiceNotAllowed, speech.ErrorLanguageNotSupported:
		// retrying cannot succeed
		s.keepListening.Store(false)
	}
}

func (s *Server) onEnded(language string) {
	if !s.keepListening.Load() || s.ctx.Err() != nil {
		return
	}
	time.AfterFunc(s.cfg.RestartDelay(), func() {
		if !s.keepListening.Load() || s.ctx.Err() != nil {
			return
		}
		if _, err := s.startSession(language); err != nil {
			s.logger.Warnf("restart session: %v", err)
		}
	})
}

func (s *Server) onResult(res speech.Result) {
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return
	}
	s.lastHeard.Store(time.Now().UnixNano())
	if !res.IsFinal {
		s.metrics.incInterim()
		s.logger.Debugf("interim: %q", text)
		return
	}
	s.metrics.incFinal()
	info, _ := s.ctl.Session()
	s.handleTranscript(text, info)
}

func (s *Server) handleTranscript(text string, info speech.SessionInfo) {
	original := text
	s.logger.WithField("session", info.ID).Infof("heard: %q", text)
	s.recordTranscript(text, info)
	if s.cfg.Wake.Enabled {
		if !hook.WakeMatches(text, s.cfg.Wake.Word, s.cfg.Wake.Aliases) {
			return
		}
		s.logger.Infof("wake word matched: %q", s.cfg.Wake.Word)
		text = hook.RemoveWakeWord(text, s.cfg.Wake.Word, s.cfg.Wake.Aliases)
	}
	// Select hook based on wake tokens (first match wins).
	hk := s.hook.Select(original)
	if hk == nil {
		s.logger.Debug("no hook configured; skipping")
		return
	}
	if hk.MinChars > 0 && len(text) < hk.MinChars {
		return
	}
	if !s.hook.ShouldRun(hk) {
		s.logger.Debug("hook skipped (cooldown)")
		s.metrics.incSkipped()
		return
	}
	s.logger.Infof("dispatching hook payload: %q", text)
	job := hook.Job{
		Hook:      hk,
		Text:      text,
		Language:  info.Language,
		SessionID: info.ID,
		Timestamp: time.Now(),
	}
	select {
	case s.hookCh <- job:
	default:
		s.metrics.incDropped()
		s.logger.Warn("hook queue full, dropping job")
	}
}

func hookQueueSize(cfg *config.Config) int {
	maxQ := 16
	for i := range cfg.Hooks {
		if cfg.Hooks[i].QueueSize > maxQ {
			maxQ = cfg.Hooks[i].QueueSize
		}
	}
	return maxQ
}

func (s *Server) recordTranscript(text string, info speech.SessionInfo) {
	if !s.cfg.Transcripts.Enabled {
		return
	}
	entry := control.Transcript{
		Text:      text,
		Language:  info.Language,
		SessionID: info.ID,
		Timestamp: time.Now(),
	}
	s.transcriptsMu.Lock()
	defer s.transcriptsMu.Unlock()
	s.transcripts = append(s.transcripts, entry)
	if len(s.transcripts) > s.cfg.UI.StatusTail {
		s.transcripts = s.transcripts[len(s.transcripts)-s.cfg.UI.StatusTail:]
	}
	f, err := os.OpenFile(s.cfg.Paths.TranscriptPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		if _, err := fmt.Fprintf(f, "%s\t%s\t%s\n", entry.Timestamp.Format(time.RFC3339), entry.Language, entry.Text); err != nil {
			s.logger.Warnf("write transcript: %v", err)
		}
		_ = f.Close()
	}
}

func (s *Server) controlLoop(ctx context.Context) {
	ln, err := net.Listen("unix", s.cfg.Paths.SocketPath)
	if err != nil {
		s.logger.Errorf("control listen: %v", err)
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Errorf("control accept: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil && ctx.Err() == nil {
			s.logger.Warnf("control connection close: %v", err)
		}
	}()
	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		return
	}
	var req control.Request
	if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
		return
	}
	enc := json.NewEncoder(conn)
	switch req.Op {
	case "status":
		_ = enc.Encode(s.status())
	case "health":
		_ = enc.Encode(s.health())
	case "listen":
		id, err := s.listen(req.Language)
		_ = enc.Encode(result(id, err))
	case "cancel":
		err := s.cancel(req.Abort)
		_ = enc.Encode(result("cancel requested", err))
	default:
		_ = enc.Encode(control.SimpleResponse{OK: false, Message: fmt.Sprintf("unknown op %q", req.Op)})
	}
}

func result(msg string, err error) control.SimpleResponse {
	if err == nil {
		return control.SimpleResponse{OK: true, Message: msg}
	}
	resp := control.SimpleResponse{OK: false, Message: err.Error()}
	var se *speech.Error
	if errors.As(err, &se) {
		resp.Code = string(se.Code)
	}
	return resp
}

func (s *Server) status() control.Status {
	info, _ := s.ctl.Session()
	return control.Status{
		Running:     true,
		UptimeSec:   time.Since(s.startedAt).Seconds(),
		Engine:      s.cfg.Recognition.Engine,
		State:       info.State.String(),
		SessionID:   info.ID,
		Language:    info.Language,
		Violations:  s.ctl.Violations(),
		Transcripts: s.copyTranscripts(),
	}
}

func (s *Server) health() control.SimpleResponse {
	if b, ok := s.engine.(interface{ Connected() bool }); ok && !b.Connected() {
		return control.SimpleResponse{OK: true, Message: "ok (no browser connected)"}
	}
	return control.SimpleResponse{OK: true, Message: "ok"}
}

func (s *Server) copyTranscripts() []control.Transcript {
	s.transcriptsMu.Lock()
	defer s.transcriptsMu.Unlock()
	out := make([]control.Transcript, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}
