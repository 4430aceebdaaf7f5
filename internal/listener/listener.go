// Package listener accepts hook notifications over a Unix domain socket.
// Each connection carries one JSON payload; the socket is the write
// boundary between agent hook scripts and the state processor.
package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/twistedxcom/agent-island/internal/logging"
	"github.com/twistedxcom/agent-island/internal/state"
)

// maxPayloadSize bounds a single notification. Hook payloads are small;
// anything larger is garbage.
const maxPayloadSize = 1 << 20

const readTimeout = 5 * time.Second

// Server owns the notification socket.
type Server struct {
	path string
	proc *state.Processor
	log  *slog.Logger

	// warnLimit throttles malformed-payload warnings so a misbehaving
	// hook script cannot flood the log.
	warnLimit *rate.Limiter
}

func New(path string, proc *state.Processor) *Server {
	return &Server{
		path:      path,
		proc:      proc,
		log:       logging.ForComponent(logging.CompListener),
		warnLimit: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Run listens until the context is canceled. A stale socket file from a
// previous run is removed before binding.
func (s *Server) Run(ctx context.Context) error {
	if err := removeStaleSocket(s.path); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	// Hook scripts run as the desktop user; keep the socket reachable.
	if err := os.Chmod(s.path, 0o666); err != nil {
		s.log.Warn("chmod socket failed", "path", s.path, "error", err)
	}
	defer os.Remove(s.path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Info("notification socket listening", "path", s.path)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	data, err := io.ReadAll(io.LimitReader(conn, maxPayloadSize))
	if err != nil {
		s.warn("read payload failed", "error", err)
		return
	}

	ev, err := decodePayload(data)
	if err != nil {
		s.warn("rejecting payload", "error", err, "bytes", len(data))
		return
	}
	logging.Aggregate(logging.CompListener, "notification_received")
	s.proc.Dispatch(ev)
}

func (s *Server) warn(msg string, args ...any) {
	if s.warnLimit.Allow() {
		s.log.Warn(msg, args...)
	}
}

func removeStaleSocket(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat socket path: %w", err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("refusing to remove %s: not a socket", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}
