// Package client provides an event-driven relay client. It dials the relay,
// writes commands as JSON lines and reports server notifications, connection
// state changes and errors through registered handlers.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-relay/logger"
	"github.com/cyberinferno/go-relay/protocol"
)

var (
	ErrClosed           = errors.New("client is closed")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected or connecting")
)

// ConnectionState represents the current state of the connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Dial in progress
	Connected                           // Connected and reading
	Closed                              // Closed by the caller, will not reconnect
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is passed to the OnConnectionState handler.
type ConnectionStateEvent struct {
	State     ConnectionState
	Address   string
	Timestamp time.Time
	Error     error // Non-nil if the change was caused by an error
}

// NotificationEvent is passed to the OnNotification handler.
type NotificationEvent struct {
	Notification protocol.Notification
	Raw          []byte // The frame without its line terminator
	Timestamp    time.Time
}

// ErrorEvent is passed to the OnError handler.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

// Handlers run on the read goroutine, one at a time and in arrival order.
// They must not block for long and must not call Close.
type (
	ConnectionStateHandler func(event ConnectionStateEvent)
	NotificationHandler    func(event NotificationEvent)
	ErrorHandler           func(event ErrorEvent)
)

// Config holds client settings.
type Config struct {
	// Address is the relay "host:port".
	Address string
	// ConnectionTimeout bounds the dial.
	ConnectionTimeout time.Duration
	// WriteTimeout bounds a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// MaxFrameSize is the longest notification line accepted.
	MaxFrameSize int
}

// DefaultConfig returns a Config with defaults for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with ConnectionTimeout 10s, WriteTimeout 10s, MaxFrameSize 64KiB
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxFrameSize:      64 * 1024,
	}
}

// Client is a relay client. It is safe for concurrent use.
type Client struct {
	config Config
	log    logger.Logger

	mu             sync.RWMutex
	conn           net.Conn
	state          ConnectionState
	closed         bool
	onState        ConnectionStateHandler
	onNotification NotificationHandler
	onError        ErrorHandler

	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a client in the Disconnected state. A nil log discards output.
func New(config Config, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = 64 * 1024
	}

	return &Client{
		config: config,
		log:    log.With(logger.Field{Key: "component", Value: "client"}),
		state:  Disconnected,
		done:   make(chan struct{}),
	}
}

// OnConnectionState registers the handler for state changes. Pass nil to clear.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// OnNotification registers the handler for server notifications. Pass nil to clear.
func (c *Client) OnNotification(handler NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNotification = handler
}

// OnError registers the handler for read, write and decode errors. Pass nil to clear.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the relay and starts the read goroutine. A client connects
// at most once.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Disconnected || c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = Connecting
	c.mu.Unlock()
	c.emitState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		return fmt.Errorf("dial %s: %w", c.config.Address, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()
	c.emitState(Connected, nil)

	c.log.Debug("connected", logger.Field{Key: "address", Value: c.config.Address})

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// Done is closed once the read goroutine has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// GetState returns the current connection state.
func (c *Client) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is Connected.
func (c *Client) IsConnected() bool {
	return c.GetState() == Connected
}

// Login claims user. A non-empty token is sent along for relays that require one.
func (c *Client) Login(user, token string) error {
	return c.sendFrame(protocol.LoginCommand(user, token))
}

// SendMsg sends body to the user named to.
func (c *Client) SendMsg(to, body string) error {
	return c.sendFrame(protocol.MsgCommand(to, body))
}

// Register creates an account on relays with auth enabled.
func (c *Client) Register(email, nick, password string) error {
	return c.sendFrame(protocol.RegisterCommand(email, nick, password))
}

// Authenticate requests a login token on relays with auth enabled.
func (c *Client) Authenticate(email, password string) error {
	return c.sendFrame(protocol.AuthCommand(email, password))
}

func (c *Client) sendFrame(frame []byte, err error) error {
	if err != nil {
		return err
	}

	return c.Send(frame)
}

// Send writes one complete frame. Concurrent calls are serialized so frames
// never interleave on the wire.
func (c *Client) Send(frame []byte) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	if _, err := conn.Write(frame); err != nil {
		c.emitError(err)
		return fmt.Errorf("write: %w", err)
	}

	return nil
}

// Close shuts the connection and waits for the read goroutine. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	c.wg.Wait()
	c.markDone()
	c.setState(Closed, nil)

	return err
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()
	defer c.markDone()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(4096, c.config.MaxFrameSize)), c.config.MaxFrameSize)

	for scanner.Scan() {
		line := protocol.TrimFrame(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		n, err := protocol.DecodeNotification(line)
		if err != nil {
			c.emitError(fmt.Errorf("invalid notification: %w", err))
			continue
		}

		c.emitNotification(NotificationEvent{
			Notification: n,
			Raw:          append([]byte(nil), line...),
			Timestamp:    time.Now(),
		})
	}

	err := scanner.Err()
	if c.isClosed() {
		return
	}

	if err != nil {
		c.emitError(err)
	}

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	_ = conn.Close()

	c.setState(Disconnected, err)
	c.log.Debug("connection closed by server")
}

func (c *Client) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.emitState(state, err)
}

func (c *Client) emitState(state ConnectionState, err error) {
	c.mu.RLock()
	handler := c.onState
	c.mu.RUnlock()

	if handler != nil {
		handler(ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

func (c *Client) emitNotification(event NotificationEvent) {
	c.mu.RLock()
	handler := c.onNotification
	c.mu.RUnlock()

	if handler != nil {
		handler(event)
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		handler(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
