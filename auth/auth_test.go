package auth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(ttl time.Duration) *Service {
	return New(ttl, WithBcryptCost(bcrypt.MinCost))
}

func TestService_RegisterLogin(t *testing.T) {
	s := newTestService(time.Minute)
	ctx := context.Background()

	id, err := s.Register(ctx, "Alice@Example.com", "alice", "secret")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	sess, err := s.Login(ctx, "alice@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, id, sess.UserID)
	assert.NotEmpty(t, sess.Token)

	assert.True(t, s.ValidateToken(sess.Token))
	u, ok := s.Identify(sess.Token)
	require.True(t, ok)
	assert.Equal(t, "alice", u.Nickname)
	assert.Equal(t, "alice@example.com", u.Email)
}

func TestService_RegisterErrors(t *testing.T) {
	s := newTestService(time.Minute)
	ctx := context.Background()

	_, err := s.Register(ctx, "a@b.c", "a", "pw")
	require.NoError(t, err)

	t.Run("duplicate email", func(t *testing.T) {
		_, err := s.Register(ctx, "A@B.C", "other", "pw")
		assert.ErrorIs(t, err, ErrEmailExists)
	})

	t.Run("duplicate nickname", func(t *testing.T) {
		_, err := s.Register(ctx, "other@b.c", "a", "pw")
		assert.ErrorIs(t, err, ErrNicknameTaken)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := s.Register(ctx, "x@y.z", "", "pw")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("nickname with surrounding whitespace", func(t *testing.T) {
		for _, nick := range []string{" bob", "bob ", "\tbob"} {
			_, err := s.Register(ctx, "bob@b.c", nick, "pw")
			assert.ErrorIs(t, err, ErrInvalidNickname, "%q", nick)
		}

		_, err := s.Register(ctx, "bob@b.c", "bob", "pw")
		assert.NoError(t, err, "rejected nickname was not reserved")
	})

	t.Run("password too long for bcrypt", func(t *testing.T) {
		_, err := s.Register(ctx, "long@y.z", "long", strings.Repeat("x", 100))
		assert.ErrorIs(t, err, ErrHash)

		_, err = s.Register(ctx, "long@y.z", "long", "short")
		assert.NoError(t, err, "failed registration releases the nickname")
	})
}

func TestService_RegisterConcurrentSameEmail(t *testing.T) {
	s := newTestService(time.Minute)
	ctx := context.Background()

	var ok atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Register(ctx, "race@x.y", "racer", "pw"); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
}

func TestService_LoginErrors(t *testing.T) {
	s := newTestService(time.Minute)
	ctx := context.Background()

	_, err := s.Register(ctx, "a@b.c", "a", "pw")
	require.NoError(t, err)

	_, err = s.Login(ctx, "nobody@b.c", "pw")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Login(ctx, "a@b.c", "wrong")
	assert.ErrorIs(t, err, ErrBadCredential)
}

func TestService_Logout(t *testing.T) {
	s := newTestService(time.Minute)
	ctx := context.Background()

	_, err := s.Register(ctx, "a@b.c", "a", "pw")
	require.NoError(t, err)
	sess, err := s.Login(ctx, "a@b.c", "pw")
	require.NoError(t, err)

	s.Logout(sess.Token)
	assert.False(t, s.ValidateToken(sess.Token))
	assert.NotPanics(t, func() { s.Logout("unknown") })
}

func TestService_TokenExpiry(t *testing.T) {
	s := newTestService(50 * time.Millisecond)
	ctx := context.Background()

	_, err := s.Register(ctx, "a@b.c", "a", "pw")
	require.NoError(t, err)
	sess, err := s.Login(ctx, "a@b.c", "pw")
	require.NoError(t, err)

	assert.True(t, s.ValidateToken(sess.Token))
	time.Sleep(120 * time.Millisecond)
	assert.False(t, s.ValidateToken(sess.Token))
}

func TestService_CancelledContext(t *testing.T) {
	s := newTestService(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Register(ctx, "a@b.c", "a", "pw")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Login(ctx, "a@b.c", "pw")
	assert.ErrorIs(t, err, context.Canceled)
}
