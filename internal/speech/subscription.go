package speech

import "sync"

// Subscription is returned by RecognizeSpeech. Closing it asks the engine to
// stop the session gracefully. Only the first successful Close has any
// effect, and closing after the session has ended does nothing.
type Subscription struct {
	ctl  *Controller
	sess *session

	mu     sync.Mutex
	closed bool
}

// SessionID identifies the session this subscription controls.
func (s *Subscription) SessionID() string {
	return s.sess.id
}

// Close requests a graceful stop of the subscription's session. It never
// aborts and never touches a later session. If the engine refuses the stop,
// Close may be called again.
func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.ctl.cancel(s.sess, false); err != nil {
		return err
	}
	s.closed = true
	return nil
}
