// Package ops is the operational listener: /healthz for liveness and
// /metrics for Prometheus scrapes. Nothing else is served; the system has
// no REST API.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/teamarr/teamarr/internal/metrics"
	"github.com/teamarr/teamarr/internal/store"
)

type Server struct {
	Addr    string
	Store   *store.Store
	Metrics *metrics.Metrics
	Log     logrus.FieldLogger
}

// Handler builds the mux; split out so tests can hit it without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", s.serveHealth())
	mux.Handle("/metrics", promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}))
	return mux
}

// Serve blocks until ctx is cancelled, then drains with a short timeout.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		s.Log.WithField("addr", s.Addr).Info("ops listener started")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.Log.WithError(err).Warn("ops shutdown")
		}
		<-errCh
		return nil
	}
}

// serveHealth answers GET /healthz: 503 {"status":"degraded"} when the
// database stops answering, otherwise 200 with channel and last-run counts.
func (s *Server) serveHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")

		channels, err := s.Store.ListAllActiveChannels(ctx)
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		body := map[string]any{
			"status":   "ok",
			"channels": len(channels),
		}
		if runs, err := s.Store.RecentRuns(ctx, 1); err == nil && len(runs) > 0 {
			body["last_run"] = runs[0].Status
			if runs[0].FinishedAt != nil {
				body["last_run_at"] = runs[0].FinishedAt.Format(time.RFC3339)
			}
		}
		if _, at, err := s.Store.MergedXMLTV(ctx); err == nil && !at.IsZero() {
			body["guide_at"] = at.Format(time.RFC3339)
		}
		out, _ := json.Marshal(body)
		_, _ = w.Write(out)
	})
}
