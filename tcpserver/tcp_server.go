// Package tcpserver accepts TCP connections and hands each one to a session.
// Live sessions are kept in an arena keyed by connection id; other components
// refer to sessions by id and resolve them here, so a closed session simply
// stops resolving.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-relay/logger"
	"github.com/cyberinferno/go-relay/safemap"
)

// ErrServerRunning is returned by Start when the server is already running.
var ErrServerRunning = errors.New("server already running")

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// NewSessionFunc creates the session for an accepted connection.
type NewSessionFunc func(id uint64, conn net.Conn) TCPServerSession

// TCPServer accepts connections on Addr and delegates each one to a session
// created by NewSession. Accept errors are logged and never stop the loop.
type TCPServer struct {
	Logger     logger.Logger
	Name       string
	Addr       string
	Listener   net.Listener
	Sessions   *safemap.SafeMap[uint64, TCPServerSession]
	Running    atomic.Bool
	NewSession NewSessionFunc

	nextID   atomic.Uint64
	handlers sync.WaitGroup
	loopDone chan struct{}
}

// New creates a TCPServer with an empty session arena.
//
// Parameters:
//   - name: Name used in log entries
//   - addr: Listen address, e.g. ":5555" or "127.0.0.1:0"
//   - log: Logger for lifecycle and accept errors
//   - newSession: Factory for per-connection sessions
//
// Returns:
//   - The configured, not yet started server
func New(name, addr string, log logger.Logger, newSession NewSessionFunc) *TCPServer {
	return &TCPServer{
		Logger:     log,
		Name:       name,
		Addr:       addr,
		Sessions:   safemap.NewSafeMap[uint64, TCPServerSession](),
		NewSession: newSession,
	}
}

// Start binds Addr and runs the accept loop in a goroutine.
//
// Returns:
//   - ErrServerRunning if already started, or the listen error
func (s *TCPServer) Start() error {
	if s.Running.Load() {
		return fmt.Errorf("%s: %w", s.Name, ErrServerRunning)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.Listener = ln
	s.loopDone = make(chan struct{})
	s.Running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})
	go s.AcceptLoop()

	return nil
}

// Serve starts the server unless Start was already called, then blocks until
// ctx is cancelled and stops it.
func (s *TCPServer) Serve(ctx context.Context) error {
	if !s.Running.Load() {
		if err := s.Start(); err != nil {
			return err
		}
	}

	<-ctx.Done()
	s.Stop()
	return nil
}

// BoundAddr returns the address the listener is bound to, or nil before Start.
func (s *TCPServer) BoundAddr() net.Addr {
	if s.Listener == nil {
		return nil
	}

	return s.Listener.Addr()
}

// Stop closes the listener and every live session, then waits for the accept
// loop and all session handlers to return. Safe to call when not running.
func (s *TCPServer) Stop() {
	if !s.Running.CompareAndSwap(true, false) {
		return
	}

	_ = s.Listener.Close()
	<-s.loopDone

	s.Sessions.Range(func(_ uint64, session TCPServerSession) bool {
		_ = session.Close()
		return true
	})

	s.handlers.Wait()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// AddSession stores a session in the arena.
func (s *TCPServer) AddSession(id uint64, session TCPServerSession) {
	s.Sessions.Store(id, session)
}

// RemoveSession removes the session with the given id from the arena.
func (s *TCPServer) RemoveSession(id uint64) {
	s.Sessions.Delete(id)
}

// GetSession returns the live session for id, if present.
func (s *TCPServer) GetSession(id uint64) (TCPServerSession, bool) {
	return s.Sessions.Load(id)
}

// SessionCount returns the number of live sessions.
func (s *TCPServer) SessionCount() int {
	return s.Sessions.Len()
}

// AcceptLoop accepts connections until the server is stopped. Each
// connection gets the next id, a session from NewSession, an arena slot and a
// goroutine running Handle. Accept errors back off and retry.
func (s *TCPServer) AcceptLoop() {
	defer close(s.loopDone)

	var backoff time.Duration
	for s.Running.Load() {
		conn, err := s.Listener.Accept()
		if err != nil {
			if !s.Running.Load() {
				return
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name),
				logger.Field{Key: "error", Value: err},
				logger.Field{Key: "retry_in", Value: backoff.String()})
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		id := s.nextID.Add(1)
		session := s.NewSession(id, conn)
		s.AddSession(id, session)

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			defer s.RemoveSession(id)
			session.Handle()
		}()
	}
}
