// Package telemetry exposes pipeline counters over an optional HTTP
// endpoint. The pipeline runs fine without it; the server only starts when
// an address is configured.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 5 * time.Second

// Server serves /metrics and /healthz on a background listener.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer builds the stats server. updateGauges runs before each scrape.
func NewServer(addr string, m *Metrics, updateGauges func(), log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		m.Handler(updateGauges).ServeHTTP(w, req)
	})
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		srv: &http.Server{Addr: addr, Handler: r},
		log: log,
	}
}

// Start begins listening in the background.
func (s *Server) Start() {
	go func() {
		s.log.Info("telemetry: stats server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("telemetry: stats server failed", "error", err)
		}
	}()
}

// Stop drains the listener.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("telemetry: stats server shutdown", "error", err)
	}
}
