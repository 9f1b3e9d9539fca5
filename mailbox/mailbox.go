// Package mailbox buffers serialized notifications for users that are not
// currently connected. A user's queue is drained in one atomic step when the
// user logs in again.
package mailbox

import (
	"context"
	"errors"
)

// ErrInvalidUser is returned when an operation is called with an empty username.
var ErrInvalidUser = errors.New("mailbox: empty username")

// Mailbox is an ordered, per-user queue of pending frames. Implementations
// must be safe for concurrent use and must preserve enqueue order.
type Mailbox interface {
	// Enqueue appends msg to user's queue, creating the queue if needed.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - user: The recipient username
	//   - msg: The serialized frame; the mailbox keeps its own copy
	//
	// Returns:
	//   - An error if the backend failed to store the message
	Enqueue(ctx context.Context, user string, msg []byte) error

	// Drain removes and returns user's entire queue in enqueue order. No
	// concurrent Enqueue can observe a partially drained queue.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - user: The username whose queue is drained
	//
	// Returns:
	//   - The pending frames, empty if there are none
	//   - An error if the backend failed
	Drain(ctx context.Context, user string) ([][]byte, error)

	// Len returns the number of frames queued for user.
	Len(ctx context.Context, user string) (int, error)
}

// trim drops the oldest frames so at most limit remain. limit <= 0 means
// unbounded.
func trim(q [][]byte, limit int) [][]byte {
	if limit <= 0 || len(q) <= limit {
		return q
	}

	return append([][]byte(nil), q[len(q)-limit:]...)
}
