package asr

import (
	_ "embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"sync"
	"time"

	"speechbridge/internal/config"
	"speechbridge/internal/speech"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrNoPeer is returned when no browser page is connected to the bridge.
var ErrNoPeer = errors.New("asr: no browser connected to the recognition bridge")

//go:embed bridge.html
var bridgePage string

var bridgeTemplate = template.Must(template.New("bridge").Parse(bridgePage))

const bridgeWriteTimeout = 5 * time.Second

// BridgeOptions configures the recognition started in the browser.
type BridgeOptions struct {
	Path            string
	Continuous      bool
	InterimResults  bool
	MaxAlternatives int
}

// BridgeOptionsFrom reads the [bridge] section.
func BridgeOptionsFrom(cfg *config.Config) BridgeOptions {
	return BridgeOptions{
		Path:            cfg.Bridge.Path,
		Continuous:      cfg.Bridge.Continuous,
		InterimResults:  cfg.Bridge.InterimResults,
		MaxAlternatives: cfg.Bridge.MaxAlternatives,
	}
}

type bridgeCommand struct {
	Op              string `json:"op"`
	Lang            string `json:"lang,omitempty"`
	Continuous      bool   `json:"continuous,omitempty"`
	InterimResults  bool   `json:"interim_results,omitempty"`
	MaxAlternatives int    `json:"max_alternatives,omitempty"`
}

type bridgeEvent struct {
	Type         string               `json:"type"`
	Text         string               `json:"text,omitempty"`
	Confidence   float64              `json:"confidence,omitempty"`
	IsFinal      bool                 `json:"is_final,omitempty"`
	Alternatives []speech.Alternative `json:"alternatives,omitempty"`
	Error        string               `json:"error,omitempty"`
	Message      string               `json:"message,omitempty"`
}

// Bridge is an engine backed by a browser page. The page is served at / and
// talks to the bridge over a websocket at Path. It runs SpeechRecognition for
// every start command and relays the recognizer's events back.
type Bridge struct {
	opts     BridgeOptions
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	sink speech.Sink
	peer *bridgePeer
}

type bridgePeer struct {
	id     string
	conn   *websocket.Conn
	active bool // a session is running on this peer; guarded by Bridge.mu

	writeMu sync.Mutex
	once    sync.Once
}

// NewBridge returns a bridge engine. Serve it with an http.Server.
func NewBridge(opts BridgeOptions, logger *logrus.Logger) *Bridge {
	if opts.Path == "" {
		opts.Path = "/recognition"
	}
	return &Bridge{
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (b *Bridge) Attach(sink speech.Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// Connected reports whether a browser page is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peer != nil
}

func (b *Bridge) Start(language string) error {
	b.mu.Lock()
	p := b.peer
	if p == nil {
		b.mu.Unlock()
		return ErrNoPeer
	}
	p.active = true
	b.mu.Unlock()

	err := p.send(bridgeCommand{
		Op:              "start",
		Lang:            language,
		Continuous:      b.opts.Continuous,
		InterimResults:  b.opts.InterimResults,
		MaxAlternatives: b.opts.MaxAlternatives,
	})
	if err != nil {
		b.mu.Lock()
		p.active = false
		b.mu.Unlock()
		return err
	}
	return nil
}

func (b *Bridge) Stop() error  { return b.command("stop") }
func (b *Bridge) Abort() error { return b.command("abort") }

func (b *Bridge) command(op string) error {
	b.mu.Lock()
	p := b.peer
	b.mu.Unlock()
	if p == nil {
		return ErrNoPeer
	}
	return p.send(bridgeCommand{Op: op})
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case b.opts.Path:
		b.serveSocket(w, r)
	case "/", "/index.html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := bridgeTemplate.Execute(w, b.opts); err != nil {
			b.logger.Warnf("bridge page: %v", err)
		}
	default:
		http.NotFound(w, r)
	}
}

func (b *Bridge) serveSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warnf("bridge upgrade: %v", err)
		return
	}
	p := &bridgePeer{id: uuid.NewString(), conn: conn}

	b.mu.Lock()
	old := b.peer
	b.peer = p
	b.mu.Unlock()
	if old != nil {
		b.logger.Infof("bridge peer %s replaced by %s", old.id, p.id)
		old.close()
	}
	b.logger.WithField("peer", p.id).Infof("browser connected from %s", r.RemoteAddr)

	b.readLoop(p)
}

func (b *Bridge) readLoop(p *bridgePeer) {
	defer b.drop(p)
	for {
		messageType, payload, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var ev bridgeEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			b.logger.Warnf("bridge: bad event from %s: %v", p.id, err)
			continue
		}
		b.deliver(p, ev)
	}
}

// deliver relays an event from p. Events from a peer that has been replaced
// are dropped; its session is ended by drop instead.
func (b *Bridge) deliver(p *bridgePeer, ev bridgeEvent) {
	b.mu.Lock()
	if b.peer != p {
		b.mu.Unlock()
		b.logger.WithField("peer", p.id).Debugf("bridge: dropping %s event from replaced peer", ev.Type)
		return
	}
	sink := b.sink
	if ev.Type == "end" {
		p.active = false
	}
	b.mu.Unlock()
	if sink == nil {
		return
	}
	switch ev.Type {
	case "start":
		sink.HandleStart()
	case "result":
		sink.HandleResult(speech.Result{
			Text:         ev.Text,
			Confidence:   ev.Confidence,
			IsFinal:      ev.IsFinal,
			Alternatives: ev.Alternatives,
		})
	case "error":
		sink.HandleError(speech.ErrorEvent{Code: ev.Error, Message: ev.Message})
	case "end":
		sink.HandleEnd()
	default:
		b.logger.Warnf("bridge: unknown event type %q", ev.Type)
	}
}

// drop detaches a peer whose connection is gone. A session that was running on
// it can no longer end normally, so it is reported as a network error and end.
func (b *Bridge) drop(p *bridgePeer) {
	p.close()
	b.mu.Lock()
	wasActive := p.active
	p.active = false
	if b.peer == p {
		b.peer = nil
	}
	sink := b.sink
	b.mu.Unlock()

	b.logger.WithField("peer", p.id).Info("browser disconnected")
	if wasActive && sink != nil {
		sink.HandleError(speech.ErrorEvent{Code: speech.ErrorNetwork, Message: "browser disconnected from bridge"})
		sink.HandleEnd()
	}
}

func (p *bridgePeer) send(cmd bridgeCommand) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(bridgeWriteTimeout)); err != nil {
		return err
	}
	return p.conn.WriteJSON(cmd)
}

func (p *bridgePeer) close() {
	p.once.Do(func() {
		p.writeMu.Lock()
		defer p.writeMu.Unlock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		_ = p.conn.Close()
	})
}

// Close disconnects the browser page, if any.
func (b *Bridge) Close() error {
	b.mu.Lock()
	p := b.peer
	b.mu.Unlock()
	if p != nil {
		p.close()
	}
	return nil
}
