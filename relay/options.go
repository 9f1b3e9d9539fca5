package relay

import (
	"context"
	"time"

	"github.com/cyberinferno/go-relay/auth"
	"github.com/cyberinferno/go-relay/logger"
	"github.com/cyberinferno/go-relay/mailbox"
	"github.com/google/uuid"
)

const (
	// DefaultMaxFrameSize bounds a single client line.
	DefaultMaxFrameSize = 64 * 1024
	// DefaultMailboxTimeout bounds each mailbox call.
	DefaultMailboxTimeout = 5 * time.Second
)

// Authenticator is the account service the relay consults when auth is
// enabled. *auth.Service implements it.
type Authenticator interface {
	Register(ctx context.Context, email, nickname, password string) (uuid.UUID, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Identify(token string) (auth.User, bool)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to a nop logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithMailbox sets the offline mailbox. Defaults to an unbounded in-memory
// mailbox.
func WithMailbox(m mailbox.Mailbox) Option {
	return func(s *Server) {
		s.mailbox = m
	}
}

// WithAuthenticator enables the register and auth commands. When
// requireToken is set, login must carry a token issued to the claimed
// nickname.
func WithAuthenticator(a Authenticator, requireToken bool) Option {
	return func(s *Server) {
		s.auth = a
		s.requireToken = requireToken
	}
}

// WithMaxFrameSize bounds the length of one client line. Longer lines close
// the connection.
func WithMaxFrameSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxFrameSize = n
		}
	}
}

// WithReadTimeout closes connections idle for longer than d. Zero disables it.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = d
	}
}

// WithWriteTimeout fails writes that take longer than d. Zero disables it.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

// WithMailboxTimeout bounds each mailbox call.
func WithMailboxTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.mailboxTimeout = d
		}
	}
}

// WithStatsInterval logs presence statistics every d. Zero disables it.
func WithStatsInterval(d time.Duration) Option {
	return func(s *Server) {
		s.statsInterval = d
	}
}
