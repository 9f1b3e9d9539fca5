package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces mailbox keys.
const DefaultRedisPrefix = "relay:mailbox:"

// Redis is a Mailbox stored in Redis lists, one list per user. Queues survive
// relay restarts and can be shared by several relays using the same database.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	limit  int
}

// NewRedis creates a Redis mailbox.
//
// Parameters:
//   - client: A connected go-redis client
//   - prefix: Key prefix; empty uses DefaultRedisPrefix
//   - ttl: Lifetime of a queue after its last enqueue; 0 keeps queues forever
//   - limit: Maximum frames per user; 0 means unbounded
//
// Returns:
//   - A Redis mailbox
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration, limit int) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		limit:  limit,
	}
}

func (r *Redis) key(user string) string {
	return r.prefix + user
}

// Enqueue implements Mailbox. The push, trim and expiry run in one MULTI so
// a concurrent Drain sees either none or all of them.
func (r *Redis) Enqueue(ctx context.Context, user string, msg []byte) error {
	if user == "" {
		return ErrInvalidUser
	}

	key := r.key(user)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, msg)
		if r.limit > 0 {
			pipe.LTrim(ctx, key, int64(-r.limit), -1)
		}
		if r.ttl > 0 {
			pipe.PExpire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mailbox enqueue for %s: %w", user, err)
	}

	return nil
}

// Drain implements Mailbox.
func (r *Redis) Drain(ctx context.Context, user string) ([][]byte, error) {
	key := r.key(user)

	var items *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mailbox drain for %s: %w", user, err)
	}

	vals := items.Val()
	if len(vals) == 0 {
		return nil, nil
	}

	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}

	return out, nil
}

// Len implements Mailbox.
func (r *Redis) Len(ctx context.Context, user string) (int, error) {
	n, err := r.client.LLen(ctx, r.key(user)).Result()
	if err != nil {
		return 0, fmt.Errorf("mailbox len for %s: %w", user, err)
	}

	return int(n), nil
}

// Ping checks connectivity to the Redis server.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	return nil
}
