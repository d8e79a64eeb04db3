package speech

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type session struct {
	id        string
	language  string
	startedAt time.Time

	heardStart bool // engine reported start
	aborted    bool // cancel asked for abort
	timer      *time.Timer
}

// Controller owns at most one recognition session at a time. A start request
// while a session is not Idle is rejected with SESSION_ALREADY_ACTIVE.
type Controller struct {
	engine     Engine
	logger     *logrus.Logger
	endTimeout time.Duration

	// cmdMu serializes commands sent to the engine.
	cmdMu sync.Mutex

	mu       sync.Mutex
	state    State
	current  *session
	registry registry

	// staleEnd is set when a session was forced to Idle; the engine's late
	// end for it must not end the next session.
	staleEnd bool

	violations atomic.Int64
}

// Option configures a Controller.
type Option func(*Controller)

// WithEndTimeout forces a session that stays in Ending for d back to Idle, as
// if the engine had reported end. Zero disables it.
func WithEndTimeout(d time.Duration) Option {
	return func(c *Controller) { c.endTimeout = d }
}

// NewController binds a controller to engine.
func NewController(engine Engine, logger *logrus.Logger, opts ...Option) *Controller {
	c := &Controller{engine: engine, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	engine.Attach(c)
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session reports the active session, if any.
func (c *Controller) Session() (SessionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return SessionInfo{State: c.state}, false
	}
	return SessionInfo{
		ID:        c.current.id,
		Language:  c.current.language,
		State:     c.state,
		StartedAt: c.current.startedAt,
	}, true
}

// Violations returns how many out-of-order engine events were dropped.
func (c *Controller) Violations() int64 {
	return c.violations.Load()
}

// Start begins a session for language. It returns as soon as the engine has
// accepted the start command; OnStart fires once the engine is listening.
func (c *Controller) Start(language string, b Bindings) (*Subscription, error) {
	const op = "speech.Start"
	tag, err := ParseLanguage(language)
	if err != nil {
		return nil, E(CodeInvalidArgument, op, "invalid language", err)
	}
	language = tag.String()
	if b.OnResult == nil {
		return nil, E(CodeInvalidArgument, op, "result handler is required", nil)
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	if c.state != Idle {
		active := c.current
		state := c.state
		c.mu.Unlock()
		msg := fmt.Sprintf("a session is %s", state)
		if active != nil {
			msg = fmt.Sprintf("session %s is %s", active.id, state)
		}
		return nil, E(CodeSessionAlreadyActive, op, msg, nil)
	}
	sess := &session{id: uuid.NewString(), language: language, startedAt: time.Now()}
	c.current = sess
	c.registry.set(b)
	c.state = Starting
	c.mu.Unlock()

	log := c.logger.WithFields(logrus.Fields{"session": sess.id, "language": language})
	if err := c.engine.Start(language); err != nil {
		c.mu.Lock()
		if c.current == sess {
			c.registry.clear()
			c.current = nil
			c.state = Idle
		}
		c.mu.Unlock()
		log.Warnf("engine refused start: %v", err)
		return nil, E(CodeEngineUnavailable, op, "engine refused start", err)
	}
	log.Info("recognition session starting")
	return &Subscription{ctl: c, sess: sess}, nil
}

// Cancel ends the active session: abort when aborted is true, a graceful stop
// otherwise. It is a no-op while Idle. The session is only over once the
// engine reports end.
func (c *Controller) Cancel(aborted bool) error {
	return c.cancel(nil, aborted)
}

// cancel ends the session if it is owner (or any session when owner is nil).
func (c *Controller) cancel(owner *session, aborted bool) error {
	const op = "speech.Cancel"
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	sess := c.current
	if c.state == Idle || sess == nil || (owner != nil && owner != sess) {
		c.mu.Unlock()
		return nil
	}
	if c.state == Ending && (!aborted || sess.aborted) {
		c.mu.Unlock()
		return nil
	}
	from, wasAborted := c.state, sess.aborted
	c.state = Ending
	sess.aborted = aborted
	armed := false
	if c.endTimeout > 0 && sess.timer == nil {
		sess.timer = time.AfterFunc(c.endTimeout, func() { c.forceEnd(sess) })
		armed = true
	}
	c.mu.Unlock()

	log := c.logger.WithFields(logrus.Fields{"session": sess.id, "from": from.String()})
	var err error
	if aborted {
		log.Info("aborting recognition session")
		err = c.engine.Abort()
	} else {
		log.Info("stopping recognition session")
		err = c.engine.Stop()
	}
	if err != nil {
		// nothing reached the engine, so the session is back where it was
		// and the caller may retry
		c.mu.Lock()
		if c.current == sess && c.state == Ending {
			c.state = from
			sess.aborted = wasAborted
			if armed {
				sess.timer.Stop()
				sess.timer = nil
			}
		}
		c.mu.Unlock()
		log.Warnf("engine cancel failed: %v", err)
		return E(CodeEngineUnavailable, op, "engine refused cancel", err)
	}
	return nil
}

// HandleStart is called by the engine once it is listening.
func (c *Controller) HandleStart() {
	c.mu.Lock()
	if c.state != Starting {
		state := c.state
		c.mu.Unlock()
		c.violation(CategoryStart, state)
		return
	}
	sess := c.current
	sess.heardStart = true
	c.state = Listening
	b := c.registry.lookup(CategoryStart)
	c.mu.Unlock()

	c.logger.WithField("session", sess.id).Debug("engine listening")
	c.invoke(sess, b, nil)
}

// HandleResult is called by the engine for every recognition result. Results
// reach the handler in the order the engine delivers them. After a graceful
// stop the engine may still flush what it heard, so results are accepted in
// Ending too unless the session was aborted or never started listening.
func (c *Controller) HandleResult(res Result) {
	c.mu.Lock()
	sess := c.current
	ok := c.state == Listening ||
		(c.state == Ending && sess.heardStart && !sess.aborted)
	if !ok {
		state := c.state
		c.mu.Unlock()
		c.violation(CategoryResult, state)
		return
	}
	b := c.registry.lookup(CategoryResult)
	c.mu.Unlock()

	c.invoke(sess, b, res)
}

// HandleError is called by the engine when recognition fails. It does not end
// the session; the engine follows up with end when it gives up.
func (c *Controller) HandleError(ev ErrorEvent) {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		c.violation(CategoryError, Idle)
		return
	}
	sess := c.current
	b := c.registry.lookup(CategoryError)
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{"session": sess.id, "code": ev.Code}).Warnf("engine error: %s", ev.Message)
	c.invoke(sess, b, ev)
}

// HandleEnd is called by the engine when the session is over, whichever way it
// ended.
func (c *Controller) HandleEnd() {
	c.mu.Lock()
	sess := c.current
	if c.staleEnd {
		c.staleEnd = false
		state := c.state
		c.mu.Unlock()
		c.violation(CategoryEnd, state)
		return
	}
	if c.state == Idle || sess == nil {
		c.mu.Unlock()
		c.violation(CategoryEnd, Idle)
		return
	}
	c.mu.Unlock()
	c.finish(sess, false)
}

// forceEnd aborts a session the engine never ended and tears it down.
func (c *Controller) forceEnd(sess *session) {
	c.cmdMu.Lock()
	c.mu.Lock()
	live := c.current == sess && c.state == Ending
	c.mu.Unlock()
	if !live {
		c.cmdMu.Unlock()
		return
	}
	log := c.logger.WithField("session", sess.id)
	log.Warnf("engine did not end within %s, forcing end", c.endTimeout)
	if err := c.engine.Abort(); err != nil {
		log.Warnf("abort after end timeout: %v", err)
	}
	c.cmdMu.Unlock()
	c.finish(sess, true)
}

// finish is the only place a session is torn down. Bindings are cleared and
// the state is Idle before OnEnd runs, so OnEnd may start the next session.
func (c *Controller) finish(sess *session, forced bool) {
	c.mu.Lock()
	if c.current != sess || c.state == Idle {
		c.mu.Unlock()
		return
	}
	if sess.timer != nil {
		sess.timer.Stop()
	}
	if forced {
		c.staleEnd = true
	}
	b := c.registry.lookup(CategoryEnd)
	c.registry.clear()
	c.current = nil
	c.state = Idle
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"session":  sess.id,
		"duration": time.Since(sess.startedAt).Round(time.Millisecond).String(),
		"forced":   forced,
	}).Info("recognition session ended")
	c.invoke(sess, b, nil)
}

func (c *Controller) invoke(sess *session, b binding, payload any) {
	if err := b.call(payload); err != nil {
		c.logger.WithField("session", sess.id).Errorf("handler: %v", err)
	}
}

func (c *Controller) violation(cat Category, state State) {
	c.violations.Add(1)
	err := E(CodeProtocolViolation, "speech.Handle", fmt.Sprintf("%s event while %s", cat, state), nil)
	c.logger.Warnf("dropping engine event: %v", err)
}
