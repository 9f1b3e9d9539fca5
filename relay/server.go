// Package relay is the line relay core: per-connection sessions, presence
// tracking and routing with an offline mailbox fallback.
//
// Every accepted connection becomes a Session living in the listener's arena
// under its connection id. A login records username -> id in the presence
// registry and drains the user's mailbox into the session. A msg goes through
// the Router, which resolves the recipient's id back to a live session or
// queues the frame in the mailbox.
//
// Lock order is registry -> mailbox -> session. Sessions never call into the
// registry while holding their own lock, and Send never blocks, so routing
// under the registry lock cannot deadlock.
package relay

import (
	"context"
	"net"
	"time"

	"github.com/cyberinferno/go-relay/logger"
	"github.com/cyberinferno/go-relay/mailbox"
	"github.com/cyberinferno/go-relay/presence"
	"github.com/cyberinferno/go-relay/tcpserver"
	"golang.org/x/sync/errgroup"
)

// Server wires the listener, registry, mailbox and router together.
type Server struct {
	log      logger.Logger
	registry *presence.Registry
	mailbox  mailbox.Mailbox
	router   *Router
	tcp      *tcpserver.TCPServer

	auth         Authenticator
	requireToken bool

	maxFrameSize   int
	readTimeout    time.Duration
	writeTimeout   time.Duration
	mailboxTimeout time.Duration
	statsInterval  time.Duration
}

// New creates a relay server listening on addr once started.
//
// Parameters:
//   - addr: TCP listen address
//   - opts: Optional settings
//
// Returns:
//   - The configured server
func New(addr string, opts ...Option) *Server {
	s := &Server{
		log:            logger.NewNopLogger(),
		registry:       presence.NewRegistry(),
		maxFrameSize:   DefaultMaxFrameSize,
		mailboxTimeout: DefaultMailboxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.mailbox == nil {
		s.mailbox = mailbox.NewMemory(0, 0)
	}

	s.router = newRouter(s.registry, s.mailbox, s.resolve, s.mailboxTimeout, s.log.With(logger.Field{Key: "component", Value: "router"}))
	s.tcp = tcpserver.New("relay", addr, s.log, func(id uint64, conn net.Conn) tcpserver.TCPServerSession {
		return newSession(id, conn, s)
	})

	return s
}

// Start begins accepting connections.
func (s *Server) Start() error {
	return s.tcp.Start()
}

// Stop closes the listener and all sessions.
func (s *Server) Stop() {
	s.tcp.Stop()
}

// Run serves until ctx is cancelled, logging presence statistics on the
// configured interval.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.tcp.Serve(ctx)
	})

	if s.statsInterval > 0 {
		g.Go(func() error {
			s.reportStats(ctx)
			return nil
		})
	}

	return g.Wait()
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.tcp.BoundAddr()
}

// Router returns the server's router.
func (s *Server) Router() *Router {
	return s.router
}

// Online returns the usernames currently registered.
func (s *Server) Online() []string {
	return s.registry.Users()
}

// resolve maps a registry entry back to a live session: the id must still be
// in the arena, the session open, and its claimed name unchanged.
func (s *Server) resolve(id uint64, user string) (*Session, bool) {
	ts, ok := s.tcp.GetSession(id)
	if !ok {
		return nil, false
	}

	sess, ok := ts.(*Session)
	if !ok || sess.Closed() || sess.Username() != user {
		return nil, false
	}

	return sess, true
}

func (s *Server) reportStats(ctx context.Context) {
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.log.Info("relay stats",
				logger.Field{Key: "connections", Value: s.tcp.SessionCount()},
				logger.Field{Key: "online", Value: s.registry.Len()})
		}
	}
}
