package run

import (
	"context"
	"time"

	"speechbridge/internal/hook"
)

// hookWorker runs queued hook jobs one at a time. Jobs still queued at
// shutdown are discarded.
func (s *Server) hookWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			if n := len(s.hookCh); n > 0 {
				s.logger.Warnf("discarding %d queued hook job(s) on shutdown", n)
			}
			return
		case job := <-s.hookCh:
			s.runJob(ctx, job)
		}
	}
}

func (s *Server) runJob(ctx context.Context, job hook.Job) {
	log := s.logger.WithField("session", job.SessionID)
	if job.Hook != nil {
		log = log.WithField("command", job.Hook.Command)
	}
	began := time.Now()
	err := s.hook.Run(ctx, job)
	log = log.WithField("took", time.Since(began).Round(time.Millisecond).String())
	if err != nil {
		s.metrics.incFailed()
		log.Errorf("hook: %v", err)
		return
	}
	s.metrics.incSent()
	log.Debug("hook done")
}
