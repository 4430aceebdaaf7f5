// Package web publishes session snapshots over HTTP and WebSocket. It is
// a read boundary plus the interrupt endpoint; all writes still funnel
// through the processor.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/twistedxcom/agent-island/internal/logging"
	"github.com/twistedxcom/agent-island/internal/state"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	addr      string
	proc      *state.Processor
	broadcast *state.Broadcaster
	log       *slog.Logger
	httpSrv   *http.Server
}

func NewServer(addr string, proc *state.Processor, broadcast *state.Broadcaster) *Server {
	s := &Server{
		addr:      addr,
		proc:      proc,
		broadcast: broadcast,
		log:       logging.ForComponent(logging.CompWeb),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	mux.HandleFunc("POST /api/sessions/{id}/interrupt", s.handleInterrupt)
	mux.HandleFunc("GET /ws", s.handleWS)

	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.proc.Sessions())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.proc.Session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.proc.Session(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.proc.Dispatch(state.Interrupted{SessionID: id})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "interrupted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
