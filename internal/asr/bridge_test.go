package asr

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"speechbridge/internal/logging"
	"speechbridge/internal/speech"

	"github.com/gorilla/websocket"
)

type recordingSink struct {
	events chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan string, 16)}
}

func (s *recordingSink) HandleStart() { s.events <- "start" }
func (s *recordingSink) HandleResult(res speech.Result) {
	final := "interim"
	if res.IsFinal {
		final = "final"
	}
	s.events <- "result:" + res.Text + ":" + final
}
func (s *recordingSink) HandleError(ev speech.ErrorEvent) { s.events <- "error:" + ev.Code }
func (s *recordingSink) HandleEnd()                       { s.events <- "end" }

func (s *recordingSink) expect(t *testing.T, want ...string) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-s.events:
			if got != w {
				t.Fatalf("event got %q want %q", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", w)
		}
	}
}

func startBridge(t *testing.T) (*Bridge, *recordingSink, *httptest.Server) {
	t.Helper()
	b := NewBridge(BridgeOptions{Path: "/recognition", Continuous: true, InterimResults: true, MaxAlternatives: 2}, logging.NewTestLogger())
	sink := newRecordingSink()
	b.Attach(sink)
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, sink, srv
}

func dialBridge(t *testing.T, b *Bridge, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/recognition"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	deadline := time.Now().Add(2 * time.Second)
	for !b.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("bridge never saw the connection")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestBridgeStartWithoutPeer(t *testing.T) {
	b := NewBridge(BridgeOptions{}, logging.NewTestLogger())
	b.Attach(newRecordingSink())
	if err := b.Start("en-US"); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("expected ErrNoPeer, got %v", err)
	}
	if err := b.Stop(); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("expected ErrNoPeer on stop, got %v", err)
	}
}

func TestBridgeRelaysCommandsAndEvents(t *testing.T) {
	b, sink, srv := startBridge(t)
	conn := dialBridge(t, b, srv)

	if err := b.Start("de-DE"); err != nil {
		t.Fatalf("start: %v", err)
	}
	var cmd bridgeCommand
	if err := conn.ReadJSON(&cmd); err != nil {
		t.Fatalf("read command: %v", err)
	}
	if cmd.Op != "start" || cmd.Lang != "de-DE" || !cmd.Continuous || !cmd.InterimResults || cmd.MaxAlternatives != 2 {
		t.Fatalf("unexpected start command: %+v", cmd)
	}

	for _, ev := range []bridgeEvent{
		{Type: "start"},
		{Type: "result", Text: "hallo", Confidence: 0.4},
		{Type: "result", Text: "hallo welt", Confidence: 0.9, IsFinal: true},
		{Type: "error", Error: speech.ErrorNoSpeech},
		{Type: "end"},
	} {
		if err := conn.WriteJSON(ev); err != nil {
			t.Fatalf("write event: %v", err)
		}
	}
	sink.expect(t, "start", "result:hallo:interim", "result:hallo welt:final", "error:no-speech", "end")

	if err := b.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := conn.ReadJSON(&cmd); err != nil || cmd.Op != "stop" {
		t.Fatalf("expected stop command, got %+v err=%v", cmd, err)
	}
}

func TestBridgeDisconnectEndsActiveSession(t *testing.T) {
	b, sink, srv := startBridge(t)
	conn := dialBridge(t, b, srv)

	if err := b.Start("en-US"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := conn.WriteJSON(bridgeEvent{Type: "start"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	sink.expect(t, "start")
	conn.Close()
	sink.expect(t, "error:network", "end")
	if b.Connected() {
		t.Fatalf("peer should be gone after disconnect")
	}
}

func TestBridgeDisconnectWhileIdleIsSilent(t *testing.T) {
	b, sink, srv := startBridge(t)
	conn := dialBridge(t, b, srv)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("peer never dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case ev := <-sink.events:
		t.Fatalf("unexpected event %q", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridgeNewPeerReplacesOld(t *testing.T) {
	b, _, srv := startBridge(t)
	first := dialBridge(t, b, srv)
	second := dialBridge(t, b, srv)

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatalf("first peer should have been closed")
	}
	if err := b.Start("en-US"); err != nil {
		t.Fatalf("start: %v", err)
	}
	var cmd bridgeCommand
	if err := second.ReadJSON(&cmd); err != nil || cmd.Op != "start" {
		t.Fatalf("second peer should receive start, got %+v err=%v", cmd, err)
	}
}

func TestBridgeIgnoresEventsFromReplacedPeer(t *testing.T) {
	b, sink, _ := startBridge(t)
	stale := &bridgePeer{id: "stale"}
	current := &bridgePeer{id: "current"}
	b.mu.Lock()
	b.peer = current
	b.mu.Unlock()

	b.deliver(stale, bridgeEvent{Type: "start"})
	b.deliver(stale, bridgeEvent{Type: "result", Text: "ghost", IsFinal: true})
	b.deliver(current, bridgeEvent{Type: "result", Text: "hello", IsFinal: true})
	sink.expect(t, "result:hello:final")
	select {
	case ev := <-sink.events:
		t.Fatalf("unexpected event %q", ev)
	default:
	}
}

func TestBridgeServesPage(t *testing.T) {
	_, _, srv := startBridge(t)
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `data-socket="/recognition"`) {
		t.Fatalf("page missing socket path:\n%s", body)
	}

	resp, err = http.Get(srv.URL + "/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
