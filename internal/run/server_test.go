package run

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"speechbridge/internal/config"
	"speechbridge/internal/control"
	"speechbridge/internal/hook"
	"speechbridge/internal/logging"
	"speechbridge/internal/speech"
)

type fakeEngine struct {
	mu    sync.Mutex
	sink  speech.Sink
	calls []string
}

func (e *fakeEngine) Attach(sink speech.Sink) { e.sink = sink }

func (e *fakeEngine) Start(language string) error { e.record("start:" + language); return nil }
func (e *fakeEngine) Stop() error                 { e.record("stop"); return nil }
func (e *fakeEngine) Abort() error                { e.record("abort"); return nil }

func (e *fakeEngine) record(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
}

func (e *fakeEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	cfg.Paths.TranscriptPath = filepath.Join(dir, "transcripts.log")
	cfg.Paths.SocketPath = filepath.Join(dir, "speechbridge.sock")
	cfg.Paths.PidPath = filepath.Join(dir, "speechbridge.pid")
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{}
	srv := newServer(cfg, logging.NewTestLogger(), eng)
	t.Cleanup(srv.stop)
	return srv, eng
}

func roundTrip(t *testing.T, srv *Server, req control.Request, resp any) {
	t.Helper()
	client, server := net.Pipe()
	go srv.handleConn(srv.ctx, server)
	defer client.Close()
	_ = client.SetDeadline(time.Now().Add(2 * time.Second))
	if err := json.NewEncoder(client).Encode(req); err != nil {
		t.Fatalf("send %s: %v", req.Op, err)
	}
	sc := bufio.NewScanner(client)
	if !sc.Scan() {
		t.Fatalf("no response to %s: %v", req.Op, sc.Err())
	}
	if err := json.Unmarshal(sc.Bytes(), resp); err != nil {
		t.Fatalf("decode %s: %v", req.Op, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestControlListenStatusCancel(t *testing.T) {
	srv, eng := newTestServer(t, testConfig(t))

	var resp control.SimpleResponse
	roundTrip(t, srv, control.Request{Op: "listen", Language: "fr-FR"}, &resp)
	if !resp.OK || resp.Message == "" {
		t.Fatalf("listen failed: %+v", resp)
	}
	sessionID := resp.Message
	if got := eng.Calls(); len(got) != 1 || got[0] != "start:fr-FR" {
		t.Fatalf("engine calls %v", got)
	}
	eng.sink.HandleStart()

	var st control.Status
	roundTrip(t, srv, control.Request{Op: "status"}, &st)
	if st.State != "listening" || st.SessionID != sessionID || st.Language != "fr-FR" || st.Engine != config.EngineBridge {
		t.Fatalf("unexpected status %+v", st)
	}

	roundTrip(t, srv, control.Request{Op: "listen"}, &resp)
	if resp.OK || resp.Code != string(speech.CodeSessionAlreadyActive) {
		t.Fatalf("second listen should be rejected, got %+v", resp)
	}

	roundTrip(t, srv, control.Request{Op: "cancel"}, &resp)
	if !resp.OK {
		t.Fatalf("cancel failed: %+v", resp)
	}
	eng.sink.HandleEnd()
	roundTrip(t, srv, control.Request{Op: "status"}, &st)
	if st.State != "idle" || st.SessionID != "" {
		t.Fatalf("expected idle after end, got %+v", st)
	}
	if got := eng.Calls(); got[len(got)-1] != "stop" {
		t.Fatalf("expected graceful stop, calls %v", got)
	}
}

func TestControlCancelAbort(t *testing.T) {
	srv, eng := newTestServer(t, testConfig(t))
	if _, err := srv.listen(""); err != nil {
		t.Fatalf("listen: %v", err)
	}
	var resp control.SimpleResponse
	roundTrip(t, srv, control.Request{Op: "cancel", Abort: true}, &resp)
	if !resp.OK {
		t.Fatalf("cancel failed: %+v", resp)
	}
	if got := eng.Calls(); got[len(got)-1] != "abort" {
		t.Fatalf("expected abort, calls %v", got)
	}
}

func TestControlListenRejectsBadLanguage(t *testing.T) {
	srv, eng := newTestServer(t, testConfig(t))
	var resp control.SimpleResponse
	roundTrip(t, srv, control.Request{Op: "listen", Language: "not a tag!"}, &resp)
	if resp.OK || resp.Code != string(speech.CodeInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT, got %+v", resp)
	}
	if len(eng.Calls()) != 0 {
		t.Fatalf("engine should not be touched, calls %v", eng.Calls())
	}
}

func TestControlUnknownOpAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	var resp control.SimpleResponse
	roundTrip(t, srv, control.Request{Op: "dance"}, &resp)
	if resp.OK {
		t.Fatalf("unknown op should fail")
	}
	roundTrip(t, srv, control.Request{Op: "health"}, &resp)
	if !resp.OK || resp.Message != "ok" {
		t.Fatalf("unexpected health %+v", resp)
	}
}

func TestFinalResultsRecordedAndDispatched(t *testing.T) {
	cfg := testConfig(t)
	cfg.Wake.Enabled = true
	cfg.Wake.Word = "computer"
	cfg.Hooks = []config.HookConfig{{Command: "/bin/true"}}
	srv, eng := newTestServer(t, cfg)

	id, err := srv.listen("en-US")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	eng.sink.HandleStart()
	eng.sink.HandleResult(speech.Result{Text: "computer lights", IsFinal: false})
	eng.sink.HandleResult(speech.Result{Text: "lights on please", IsFinal: true})
	eng.sink.HandleResult(speech.Result{Text: "Computer, lights off", IsFinal: true})

	select {
	case job := <-srv.hookCh:
		if job.Text != "lights off" || job.SessionID != id || job.Language != "en-US" {
			t.Fatalf("unexpected job %+v", job)
		}
	default:
		t.Fatalf("expected a hook job")
	}
	select {
	case job := <-srv.hookCh:
		t.Fatalf("only the wake-word transcript should dispatch, got %+v", job)
	default:
	}

	if n := len(srv.copyTranscripts()); n != 2 {
		t.Fatalf("expected 2 final transcripts, got %d", n)
	}
	data, err := os.ReadFile(cfg.Paths.TranscriptPath)
	if err != nil {
		t.Fatalf("read transcripts: %v", err)
	}
	if !strings.Contains(string(data), "\ten-US\tComputer, lights off\n") {
		t.Fatalf("transcript file missing entry:\n%s", data)
	}
	if srv.metrics.interim.Load() != 1 || srv.metrics.final.Load() != 2 {
		t.Fatalf("metrics interim=%d final=%d", srv.metrics.interim.Load(), srv.metrics.final.Load())
	}
}

func TestContinuousRestartsUntilCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recognition.Continuous = true
	cfg.Recognition.RestartDelayMS = 0
	srv, eng := newTestServer(t, cfg)

	if _, err := srv.listen(""); err != nil {
		t.Fatalf("listen: %v", err)
	}
	eng.sink.HandleStart()
	eng.sink.HandleEnd()
	waitFor(t, "restart", func() bool { return len(eng.Calls()) == 2 })
	if got := eng.Calls(); got[1] != "start:"+config.DefaultLanguage {
		t.Fatalf("restart used %q", got[1])
	}

	if err := srv.cancel(false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	eng.sink.HandleEnd()
	time.Sleep(20 * time.Millisecond)
	if got := eng.Calls(); len(got) != 3 || got[2] != "stop" {
		t.Fatalf("session restarted after cancel: %v", got)
	}
	if srv.ctl.State() != speech.Idle {
		t.Fatalf("expected idle, got %s", srv.ctl.State())
	}
}

func TestRejectedListenKeepsContinuousSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recognition.Continuous = true
	cfg.Recognition.RestartDelayMS = 0
	srv, eng := newTestServer(t, cfg)

	if _, err := srv.listen("en-US"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	eng.sink.HandleStart()
	if _, err := srv.listen("!!bad!!"); !speech.IsCode(err, speech.CodeInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
	if _, err := srv.listen("de-DE"); !speech.IsCode(err, speech.CodeSessionAlreadyActive) {
		t.Fatalf("expected SESSION_ALREADY_ACTIVE, got %v", err)
	}
	if !srv.keepListening.Load() {
		t.Fatalf("rejected listen switched off continuous mode")
	}
	eng.sink.HandleEnd()
	waitFor(t, "restart", func() bool { return len(eng.Calls()) == 2 })
	if got := eng.Calls(); got[1] != "start:en-US" {
		t.Fatalf("restart used %q", got[1])
	}
}

func TestPermissionErrorStopsContinuous(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recognition.Continuous = true
	srv, eng := newTestServer(t, cfg)

	if _, err := srv.listen(""); err != nil {
		t.Fatalf("listen: %v", err)
	}
	eng.sink.HandleError(speech.ErrorEvent{Code: speech.ErrorNotAllowed})
	eng.sink.HandleEnd()
	time.Sleep(cfg.RestartDelay() + 20*time.Millisecond)
	if got := eng.Calls(); len(got) != 1 {
		t.Fatalf("should not restart after not-allowed: %v", got)
	}
	if srv.metrics.engineErrors.Load() != 1 {
		t.Fatalf("engine error not counted")
	}
}

func TestMetricsHandler(t *testing.T) {
	srv, eng := newTestServer(t, testConfig(t))
	if _, err := srv.listen(""); err != nil {
		t.Fatalf("listen: %v", err)
	}
	eng.sink.HandleResult(speech.Result{Text: "too early", IsFinal: true})

	rec := httptest.NewRecorder()
	srv.metricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"speechbridge_sessions_total 1\n",
		"speechbridge_protocol_violations_total 1\n",
		"speechbridge_results_total{final=\"true\"} 0\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestHookWorkerCountsOutcomes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Hooks = []config.HookConfig{{Command: "/bin/true"}, {Command: "/bin/false"}}
	srv, _ := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	srv.wg.Add(1)
	go srv.hookWorker(ctx)
	srv.hookCh <- hook.Job{Hook: &cfg.Hooks[0], Text: "ok", SessionID: "s1"}
	srv.hookCh <- hook.Job{Hook: &cfg.Hooks[1], Text: "fails", SessionID: "s1"}
	srv.hookCh <- hook.Job{Text: "no hook"}
	waitFor(t, "hook jobs", func() bool {
		return srv.metrics.sent.Load() == 1 && srv.metrics.failed.Load() == 2
	})
	cancel()
	srv.wg.Wait()

	rec := httptest.NewRecorder()
	srv.metricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "speechbridge_hooks_failed_total 2\n") {
		t.Fatalf("metrics missing failures:\n%s", rec.Body.String())
	}
}

func TestControlLoopOverSocket(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.controlLoop(ctx)

	var conn net.Conn
	waitFor(t, "control socket", func() bool {
		c, err := net.Dial("unix", srv.cfg.Paths.SocketPath)
		if err != nil {
			return false
		}
		conn = c
		return true
	})
	defer conn.Close()
	if err := json.NewEncoder(conn).Encode(control.Request{Op: "health"}); err != nil {
		t.Fatal(err)
	}
	var resp control.SimpleResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OK {
		t.Fatalf("health over socket: %+v", resp)
	}
}

func TestSelectHookMatchesWakeTokens(t *testing.T) {
	cfg, _ := config.Default()
	cfg.Hooks = []config.HookConfig{
		{Wake: []string{"alpha"}, Command: "/bin/echo"},
		{Wake: []string{"clawd", "claude", "cloud"}, Command: "/bin/echo"},
	}
	srv := newServer(cfg, logging.NewTestLogger(), &fakeEngine{})
	defer srv.stop()

	if hk := srv.hook.Select("Claude can you hear me"); hk != &cfg.Hooks[1] {
		t.Fatalf("expected hook match for Claude")
	}
	if hk := srv.hook.Select("no wake here"); hk != &cfg.Hooks[0] {
		t.Fatalf("expected fallback to first hook")
	}
}
