package tcpserver

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cyberinferno/go-relay/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoSession writes back every line it reads.
type echoSession struct {
	id        uint64
	conn      net.Conn
	mu        sync.Mutex
	closeOnce sync.Once
}

func (e *echoSession) ID() uint64 { return e.id }

func (e *echoSession) Handle() {
	defer e.Close()

	scanner := bufio.NewScanner(e.conn)
	for scanner.Scan() {
		if err := e.Send(append(scanner.Bytes(), '\n')); err != nil {
			return
		}
	}
}

func (e *echoSession) Close() error {
	e.closeOnce.Do(func() { _ = e.conn.Close() })
	return nil
}

func (e *echoSession) Send(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.conn.Write(data)
	return err
}

func newEchoServer(t *testing.T) *TCPServer {
	t.Helper()

	s := New("echo", "127.0.0.1:0", logger.NewNopLogger(), func(id uint64, conn net.Conn) TCPServerSession {
		return &echoSession{id: id, conn: conn}
	})
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func dial(t *testing.T, s *TCPServer) (net.Conn, *bufio.Reader) {
	t.Helper()

	conn, err := net.Dial("tcp", s.BoundAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, bufio.NewReader(conn)
}

func TestTCPServer_StartTwice(t *testing.T) {
	s := newEchoServer(t)
	assert.ErrorIs(t, s.Start(), ErrServerRunning)
}

func TestTCPServer_StartBadAddr(t *testing.T) {
	s := New("bad", "256.0.0.1:99999", logger.NewNopLogger(), nil)
	assert.Error(t, s.Start())
	assert.False(t, s.Running.Load())
}

func TestTCPServer_AcceptAndEcho(t *testing.T) {
	s := newEchoServer(t)

	conn, r := dial(t, s)
	_, err := conn.Write([]byte("ping\n"))
	require.NoError(t, err)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ping\n", line)

	assert.Eventually(t, func() bool { return s.SessionCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTCPServer_SessionIDsAreUnique(t *testing.T) {
	s := newEchoServer(t)

	for range 3 {
		dial(t, s)
	}
	require.Eventually(t, func() bool { return s.SessionCount() == 3 }, time.Second, 5*time.Millisecond)

	seen := make(map[uint64]bool)
	s.Sessions.Range(func(id uint64, session TCPServerSession) bool {
		assert.Equal(t, id, session.ID())
		seen[id] = true
		return true
	})
	assert.Len(t, seen, 3)

	got, ok := s.GetSession(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.ID())
}

func TestTCPServer_RemovesClosedSessions(t *testing.T) {
	s := newEchoServer(t)

	conn, _ := dial(t, s)
	require.Eventually(t, func() bool { return s.SessionCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return s.SessionCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTCPServer_StopClosesSessions(t *testing.T) {
	s := New("echo", "127.0.0.1:0", logger.NewNopLogger(), func(id uint64, conn net.Conn) TCPServerSession {
		return &echoSession{id: id, conn: conn}
	})
	require.NoError(t, s.Start())

	_, r := dial(t, s)
	require.Eventually(t, func() bool { return s.SessionCount() == 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running.Load())
	assert.Equal(t, 0, s.SessionCount())

	_, err := r.ReadString('\n')
	assert.Error(t, err)

	assert.NotPanics(t, s.Stop)
}

func TestTCPServer_Serve(t *testing.T) {
	s := New("echo", "127.0.0.1:0", logger.NewNopLogger(), func(id uint64, conn net.Conn) TCPServerSession {
		return &echoSession{id: id, conn: conn}
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	require.Eventually(t, s.Running.Load, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.False(t, s.Running.Load())
}
