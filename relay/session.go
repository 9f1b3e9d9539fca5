package relay

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-relay/logger"
	"github.com/cyberinferno/go-relay/protocol"
)

// ErrSessionClosed is returned by Send once the session has been closed.
var ErrSessionClosed = errors.New("session closed")

// Session drives one client connection.
//
// Handle runs the read loop on the caller's goroutine and starts a single
// writer goroutine. Frames are handled one at a time in arrival order; all
// outbound frames go through an unbounded FIFO drained by the writer, so at
// most one Write is ever in flight on the connection.
type Session struct {
	id   uint64
	conn net.Conn
	srv  *Server
	log  logger.Logger

	mu       sync.Mutex
	username string
	queue    [][]byte
	isClosed bool

	wake       chan struct{}
	closed     chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
}

func newSession(id uint64, conn net.Conn, srv *Server) *Session {
	return &Session{
		id:         id,
		conn:       conn,
		srv:        srv,
		log:        srv.log.With(logger.Field{Key: "session", Value: id}, logger.Field{Key: "remote", Value: conn.RemoteAddr().String()}),
		wake:       make(chan struct{}, 1),
		closed:     make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// ID implements tcpserver.TCPServerSession.
func (s *Session) ID() uint64 {
	return s.id
}

// Username returns the claimed username, or "" before login.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.username
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Handle implements tcpserver.TCPServerSession. It returns after the
// connection is closed and the writer has exited.
func (s *Session) Handle() {
	go s.writeLoop()
	defer func() {
		_ = s.Close()
		<-s.writerDone
	}()

	s.log.Debug("session started")

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, min(4096, s.srv.maxFrameSize)), s.srv.maxFrameSize)

	for {
		if s.srv.readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.readTimeout))
		}

		if !scanner.Scan() {
			break
		}

		s.handleFrame(scanner.Bytes())
	}

	if err := scanner.Err(); err != nil && !s.Closed() {
		s.log.Debug("read failed", logger.Field{Key: "error", Value: err})
	}
}

// Send queues a complete frame for the writer. It never blocks.
func (s *Session) Send(frame []byte) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.queue = append(s.queue, frame)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	return nil
}

// Deliver encodes n and queues it for the writer.
func (s *Session) Deliver(n protocol.Notification) error {
	frame, err := protocol.Encode(n)
	if err != nil {
		return err
	}

	return s.Send(frame)
}

// Close implements tcpserver.TCPServerSession. Only the first call shuts the
// connection down, unregisters the username and leaves the arena.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.isClosed = true
		s.queue = nil
		user := s.username
		s.mu.Unlock()

		close(s.closed)
		err = s.conn.Close()

		if user != "" {
			s.srv.registry.Unregister(user, s.id)
		}
		s.srv.tcp.RemoveSession(s.id)

		s.log.Debug("session closed", logger.Field{Key: "user", Value: user})
	})

	return err
}

// next pops the front of the outbound queue.
func (s *Session) next() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed || len(s.queue) == 0 {
		return nil, false
	}

	frame := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return frame, true
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)

	for {
		select {
		case <-s.closed:
			return
		case <-s.wake:
		}

		for {
			frame, ok := s.next()
			if !ok {
				break
			}

			if s.srv.writeTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.srv.writeTimeout))
			}

			if _, err := s.conn.Write(frame); err != nil {
				if !s.Closed() {
					s.log.Debug("write failed", logger.Field{Key: "error", Value: err})
				}
				_ = s.Close()
				return
			}
		}
	}
}

// reply sends a local notification, ignoring a closed session.
func (s *Session) reply(n protocol.Notification) {
	if err := s.Deliver(n); err != nil && !errors.Is(err, ErrSessionClosed) {
		s.log.Error("encode reply", logger.Field{Key: "error", Value: err})
	}
}

func (s *Session) handleFrame(line []byte) {
	cmd, err := protocol.DecodeCommand(line)
	if err != nil {
		s.reply(protocol.Error(protocol.ErrMsgParsePrefix + err.Error()))
		return
	}

	switch cmd.Name() {
	case "":
		s.reply(protocol.Error(protocol.ErrMsgNoCmd))
	case protocol.CmdLogin:
		s.handleLogin(cmd)
	case protocol.CmdMsg:
		s.handleMsg(cmd)
	case protocol.CmdRegister:
		if s.srv.auth == nil {
			s.reply(protocol.Error(protocol.ErrMsgUnknownCmd))
			return
		}
		s.handleRegister(cmd)
	case protocol.CmdAuth:
		if s.srv.auth == nil {
			s.reply(protocol.Error(protocol.ErrMsgUnknownCmd))
			return
		}
		s.handleAuth(cmd)
	default:
		s.reply(protocol.Error(protocol.ErrMsgUnknownCmd))
	}
}

func (s *Session) handleLogin(cmd *protocol.Command) {
	if cmd.User == nil || *cmd.User == "" {
		s.reply(protocol.Error(protocol.ErrMsgInvalidLogin))
		return
	}
	user := *cmd.User

	if s.srv.requireToken && !s.tokenAllows(cmd.Token, user) {
		s.reply(protocol.Error(protocol.ErrMsgUnauthorized))
		return
	}

	s.mu.Lock()
	prev := s.username
	s.username = user
	s.mu.Unlock()

	if prev != "" && prev != user {
		s.srv.registry.Unregister(prev, s.id)
	}

	// login_ok goes out ahead of the drained mailbox, and both ahead of any
	// live message routed after the registry entry becomes visible.
	s.reply(protocol.LoginOK(user))

	replaced, wasRegistered := s.srv.registry.Register(user, s.id, func() {
		s.srv.router.drainInto(s, user)
	})

	// Close snapshots the username under s.mu after setting isClosed, so
	// either it unregisters this name or this check sees the close.
	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		s.srv.registry.Unregister(user, s.id)
		return
	}

	fields := []logger.Field{{Key: "user", Value: user}}
	if wasRegistered && replaced != s.id {
		fields = append(fields, logger.Field{Key: "replaced_session", Value: replaced})
	}
	s.log.Info("user logged in", fields...)
}

func (s *Session) handleMsg(cmd *protocol.Command) {
	if cmd.To == nil || cmd.Body == nil {
		s.reply(protocol.Error(protocol.ErrMsgInvalidMsg))
		return
	}

	s.srv.router.Route(*cmd.To, protocol.Msg(s.Username(), *cmd.Body))
}

func (s *Session) tokenAllows(token *string, user string) bool {
	if s.srv.auth == nil || token == nil {
		return false
	}

	u, ok := s.srv.auth.Identify(*token)
	return ok && u.Nickname == user
}

func (s *Session) handleRegister(cmd *protocol.Command) {
	if cmd.Email == nil || cmd.Nick == nil || cmd.Password == nil {
		s.reply(protocol.Error(protocol.ErrMsgInvalidAuth))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.srv.mailboxTimeout)
	defer cancel()

	id, err := s.srv.auth.Register(ctx, *cmd.Email, *cmd.Nick, *cmd.Password)
	if err != nil {
		s.reply(protocol.Error(protocol.ErrMsgRegisterFailed + ": " + err.Error()))
		return
	}

	s.log.Info("account registered", logger.Field{Key: "user_id", Value: id.String()})
	s.reply(protocol.RegisterOK(id.String()))
}

func (s *Session) handleAuth(cmd *protocol.Command) {
	if cmd.Email == nil || cmd.Password == nil {
		s.reply(protocol.Error(protocol.ErrMsgInvalidAuth))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.srv.mailboxTimeout)
	defer cancel()

	sess, err := s.srv.auth.Login(ctx, *cmd.Email, *cmd.Password)
	if err != nil {
		s.log.Info("authentication failed", logger.Field{Key: "error", Value: err})
		s.reply(protocol.Error(protocol.ErrMsgUnauthorized))
		return
	}

	s.reply(protocol.AuthOK(sess.Token))
}
