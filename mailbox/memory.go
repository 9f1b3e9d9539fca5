package mailbox

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Memory is an in-process Mailbox backed by go-cache. Each user's queue
// expires ttl after its last enqueue and holds at most limit frames, the
// oldest being dropped first.
type Memory struct {
	mu    sync.Mutex
	cache *cache.Cache
	ttl   time.Duration
	limit int
}

// NewMemory creates a Memory mailbox.
//
// Parameters:
//   - ttl: Lifetime of a queue after its last enqueue; 0 keeps queues forever
//   - limit: Maximum frames per user; 0 means unbounded
//
// Returns:
//   - A ready to use Memory mailbox
func NewMemory(ttl time.Duration, limit int) *Memory {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl
	}

	return &Memory{
		cache: cache.New(expiration, cleanup),
		ttl:   expiration,
		limit: limit,
	}
}

// Enqueue implements Mailbox.
func (m *Memory) Enqueue(ctx context.Context, user string, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if user == "" {
		return ErrInvalidUser
	}

	frame := append([]byte(nil), msg...)

	m.mu.Lock()
	defer m.mu.Unlock()

	var q [][]byte
	if v, found := m.cache.Get(user); found {
		q = v.([][]byte)
	}

	q = trim(append(q, frame), m.limit)
	m.cache.Set(user, q, m.ttl)
	return nil
}

// Drain implements Mailbox.
func (m *Memory) Drain(ctx context.Context, user string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, found := m.cache.Get(user)
	if !found {
		return nil, nil
	}

	m.cache.Delete(user)
	return v.([][]byte), nil
}

// Len implements Mailbox.
func (m *Memory) Len(ctx context.Context, user string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, found := m.cache.Get(user)
	if !found {
		return 0, nil
	}

	return len(v.([][]byte)), nil
}

// Users returns the number of users with a pending queue.
func (m *Memory) Users() int {
	return m.cache.ItemCount()
}
