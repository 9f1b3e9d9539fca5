package mailbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frames(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func TestMemory_EnqueueDrainOrder(t *testing.T) {
	m := NewMemory(0, 0)
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, "bob", []byte("one")))
	require.NoError(t, m.Enqueue(ctx, "bob", []byte("two")))
	require.NoError(t, m.Enqueue(ctx, "bob", []byte("three")))

	n, err := m.Len(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := m.Drain(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, frames("one", "two", "three"), got)

	t.Run("drain removes the entry", func(t *testing.T) {
		got, err := m.Drain(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, 0, m.Users())
	})
}

func TestMemory_DrainUnknownUser(t *testing.T) {
	m := NewMemory(0, 0)
	got, err := m.Drain(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemory_CopiesFrame(t *testing.T) {
	m := NewMemory(0, 0)
	ctx := context.Background()

	buf := []byte("hello")
	require.NoError(t, m.Enqueue(ctx, "bob", buf))
	buf[0] = 'j'

	got, err := m.Drain(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, frames("hello"), got)
}

func TestMemory_Limit(t *testing.T) {
	m := NewMemory(0, 2)
	ctx := context.Background()

	for _, s := range []string{"a", "b", "c", "d"} {
		require.NoError(t, m.Enqueue(ctx, "bob", []byte(s)))
	}

	got, err := m.Drain(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, frames("c", "d"), got)
}

func TestMemory_TTL(t *testing.T) {
	m := NewMemory(50*time.Millisecond, 0)
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, "bob", []byte("stale")))
	time.Sleep(120 * time.Millisecond)

	got, err := m.Drain(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemory_InvalidInput(t *testing.T) {
	m := NewMemory(0, 0)

	t.Run("empty user", func(t *testing.T) {
		assert.ErrorIs(t, m.Enqueue(context.Background(), "", []byte("x")), ErrInvalidUser)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, m.Enqueue(ctx, "bob", []byte("x")), context.Canceled)
		_, err := m.Drain(ctx, "bob")
		assert.ErrorIs(t, err, context.Canceled)
		_, err = m.Len(ctx, "bob")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemory_ConcurrentEnqueueDrain(t *testing.T) {
	m := NewMemory(0, 0)
	ctx := context.Background()

	const writers = 16
	const perWriter = 200

	var drained [][]byte
	var drainedMu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(writers)
	for w := range writers {
		go func(id int) {
			defer wg.Done()
			for i := range perWriter {
				_ = m.Enqueue(ctx, "bob", []byte(fmt.Sprintf("%d-%d", id, i)))
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 50 {
			got, _ := m.Drain(ctx, "bob")
			drainedMu.Lock()
			drained = append(drained, got...)
			drainedMu.Unlock()
		}
	}()

	wg.Wait()
	<-done

	rest, err := m.Drain(ctx, "bob")
	require.NoError(t, err)
	drained = append(drained, rest...)

	assert.Len(t, drained, writers*perWriter)

	// Each writer's frames appear in the order that writer enqueued them.
	next := make(map[int]int)
	for _, f := range drained {
		var id, seq int
		_, err := fmt.Sscanf(string(f), "%d-%d", &id, &seq)
		require.NoError(t, err)
		assert.Equal(t, next[id], seq)
		next[id] = seq + 1
	}
}
