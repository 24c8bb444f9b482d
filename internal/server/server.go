// ============================================================================
// hello-pool Server - Accept Loop
// ============================================================================
//
// Package: internal/server
// File: server.go
// Function: Accept TCP connections and hand each one to the worker pool
//
// State machine:
//   Listening   - blocked in Accept
//   Dispatching - Accept returned; poll the shutdown Notifier first
//                 ├─ not fired: submit the connection as one Job → Listening
//                 └─ fired:     close the connection undispatched → Draining
//   Draining    - stop accepting, close the listener, Pool.Stop()
//   Terminated  - every Worker joined, Serve returns
//
// Unblocking Accept:
//   Accept cannot observe the Notifier. Listen registers the bound address as
//   the Notifier's wake address, so firing it makes a self-connect that
//   returns Accept; that connection is then discarded.
//
// Accept errors:
//   Temporary errors (EMFILE, ECONNABORTED, ...) are retried with backoff.
//   Any other error ends the loop; Serve still drains the pool and returns it.
//
// ============================================================================

package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/ChuLiYu/hello-pool/internal/shutdown"
	"github.com/ChuLiYu/hello-pool/internal/worker"
)

var (
	// ErrNotListening is returned by Serve when Listen has not been called
	ErrNotListening = errors.New("server: not listening")
	// ErrAlreadyListening is returned by a second Listen call
	ErrAlreadyListening = errors.New("server: already listening")
)

const maxAcceptDelay = time.Second

// Handler serves one connection. The server closes the connection afterwards.
type Handler interface {
	ServeConn(conn net.Conn) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(conn net.Conn) error

// ServeConn calls f(conn)
func (f HandlerFunc) ServeConn(conn net.Conn) error {
	return f(conn)
}

// Recorder receives acceptor events. metrics.Collector implements it.
type Recorder interface {
	ConnectionAccepted()
	ConnectionDiscarded()
	ConnectionFailed()
}

type nopRecorder struct{}

func (nopRecorder) ConnectionAccepted() {}
func (nopRecorder) ConnectionDiscarded() {}
func (nopRecorder) ConnectionFailed() {}

// Config Server configuration
type Config struct {
	Addr string // Listen address, ":0" picks a free port
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the Recorder notified of connection events
func WithMetrics(r Recorder) Option {
	return func(s *Server) {
		if r != nil {
			s.metrics = r
		}
	}
}

// Server accepts connections and dispatches them to a worker pool
type Server struct {
	cfg      Config
	pool     *worker.Pool
	notifier *shutdown.Notifier
	handler  Handler

	log     *slog.Logger
	metrics Recorder

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Server. The server takes ownership of pool: Serve stops it
// before returning.
func New(cfg Config, pool *worker.Pool, notifier *shutdown.Notifier, handler Handler, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		pool:     pool,
		notifier: notifier,
		handler:  handler,
		log:      slog.Default(),
		metrics:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the configured address and registers it as the Notifier's
// wake address.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrAlreadyListening
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.notifier.SetWakeAddr(ln.Addr())

	s.log.Info("Listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown fires the Notifier; Serve drains and returns
func (s *Server) Shutdown() {
	s.notifier.Fire()
}

// Serve runs the accept loop until the Notifier fires or the listener fails.
// In every case it closes the listener and stops the pool before returning,
// so connections already dispatched have been fully handled.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln == nil {
		s.pool.Stop()
		return ErrNotListening
	}

	err := s.acceptLoop(ln)

	if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		s.log.Warn("Failed to close listener", "error", cerr)
	}
	s.log.Info("Draining worker pool", "pending", s.pool.Pending())
	s.pool.Stop()
	s.log.Info("Server stopped")

	return err
}

func (s *Server) acceptLoop(ln net.Listener) error {
	var delay time.Duration

	for {
		if s.notifier.Fired() {
			s.log.Info("Shutting down")
			return nil
		}

		conn, err := ln.Accept()

		if s.notifier.Fired() {
			if err == nil {
				_ = conn.Close()
				s.metrics.ConnectionDiscarded()
			}
			s.log.Info("Shutting down")
			return nil
		}

		if err != nil {
			if !isTemporary(err) {
				return fmt.Errorf("accept: %w", err)
			}
			// Same backoff net/http uses for temporary accept failures.
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			s.log.Warn("Accept failed, retrying", "error", err, "delay", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		if err := s.pool.Submit(s.connJob(conn)); err != nil {
			_ = conn.Close()
			return fmt.Errorf("dispatch connection: %w", err)
		}
		s.metrics.ConnectionAccepted()
	}
}

// isTemporary reports whether an Accept error is worth retrying
func isTemporary(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return false
	}
	var ne interface{ Temporary() bool }
	if errors.As(err, &ne) && ne.Temporary() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET)
}

// connJob wraps a connection as a pool job
func (s *Server) connJob(conn net.Conn) func() {
	return func() {
		defer conn.Close()
		if err := s.handler.ServeConn(conn); err != nil {
			s.metrics.ConnectionFailed()
			s.log.Warn("Connection failed", "remote", conn.RemoteAddr().String(), "error", err)
		}
	}
}
