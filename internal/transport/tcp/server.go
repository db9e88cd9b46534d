package tcp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"redlight/internal/protocol"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Acceptor takes ownership of every accepted connection
type Acceptor interface {
	Accept(c *Conn)
}

// Server runs the accept loop of the game host
type Server struct {
	addr         string
	acceptor     Acceptor
	writeTimeout time.Duration
	logger       *slog.Logger

	mu sync.Mutex
	ln net.Listener
}

// NewServer creates a server that hands connections to acceptor
func NewServer(addr string, acceptor Acceptor, writeTimeout time.Duration, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		acceptor:     acceptor,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// ListenAndServe binds the configured address and serves until ctx ends
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return &Error{Op: "listen", ConnID: protocol.ServerID, Err: err}
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx ends or Close is called
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("tcp server starting", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			delay = nextAcceptDelay(delay)
			s.logger.Warn("accept failed", "error", err, "retryIn", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		delay = 0
		s.acceptor.Accept(NewConn(conn, s.writeTimeout))
	}
}

// Addr returns the bound address, or the configured one before binding
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Close stops accepting new connections
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	s.logger.Info("tcp server closing")
	return s.ln.Close()
}

// nextAcceptDelay doubles the pause after each failed accept, from
// minAcceptDelay up to maxAcceptDelay
func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	return min(2*prev, maxAcceptDelay)
}
