package run

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

type metrics struct {
	sessions     atomic.Int64
	final        atomic.Int64
	interim      atomic.Int64
	engineErrors atomic.Int64
	sent         atomic.Int64
	failed       atomic.Int64
	skipped      atomic.Int64
	dropped      atomic.Int64
}

func (m *metrics) reset() {
	m.sessions.Store(0)
	m.final.Store(0)
	m.interim.Store(0)
	m.engineErrors.Store(0)
	m.sent.Store(0)
	m.failed.Store(0)
	m.skipped.Store(0)
	m.dropped.Store(0)
}

func (m *metrics) incSessions()     { m.sessions.Add(1) }
func (m *metrics) incFinal()        { m.final.Add(1) }
func (m *metrics) incInterim()      { m.interim.Add(1) }
func (m *metrics) incEngineErrors() { m.engineErrors.Add(1) }
func (m *metrics) incSent()         { m.sent.Add(1) }
func (m *metrics) incFailed()       { m.failed.Add(1) }
func (m *metrics) incSkipped()      { m.skipped.Add(1) }
func (m *metrics) incDropped()      { m.dropped.Add(1) }

func (s *Server) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "speechbridge_sessions_total %d\n", s.metrics.sessions.Load())
		fmt.Fprintf(w, "speechbridge_results_total{final=\"true\"} %d\n", s.metrics.final.Load())
		fmt.Fprintf(w, "speechbridge_results_total{final=\"false\"} %d\n", s.metrics.interim.Load())
		fmt.Fprintf(w, "speechbridge_engine_errors_total %d\n", s.metrics.engineErrors.Load())
		fmt.Fprintf(w, "speechbridge_protocol_violations_total %d\n", s.ctl.Violations())
		fmt.Fprintf(w, "speechbridge_hooks_sent_total %d\n", s.metrics.sent.Load())
		fmt.Fprintf(w, "speechbridge_hooks_failed_total %d\n", s.metrics.failed.Load())
		fmt.Fprintf(w, "speechbridge_hooks_skipped_total %d\n", s.metrics.skipped.Load())
		fmt.Fprintf(w, "speechbridge_hooks_dropped_total %d\n", s.metrics.dropped.Load())
	})
	return mux
}

// httpServe runs handler on addr until done is closed.
func (s *Server) httpServe(done <-chan struct{}, name, addr string, handler http.Handler) {
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	go func() {
		<-done
		_ = server.Close()
	}()
	s.logger.Infof("%s listening on http://%s/", name, addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Warnf("%s server: %v", name, err)
	}
}
