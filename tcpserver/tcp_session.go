package tcpserver

// TCPServerSession is the interface implemented by each connection session.
// The server creates one session per accepted connection and runs Handle in
// its own goroutine.
type TCPServerSession interface {
	// ID returns the connection id assigned by the server.
	ID() uint64

	// Handle runs the session until the connection is closed. It must return
	// once Close has been called.
	Handle()

	// Close closes the session and releases its connection. It must be safe
	// to call multiple times and from any goroutine.
	Close() error

	// Send queues data for writing to the connection. It must be safe for
	// concurrent use and must not block on the network.
	//
	// Parameters:
	//   - data: A complete frame
	//
	// Returns:
	//   - An error if the session is already closed
	Send(data []byte) error
}
