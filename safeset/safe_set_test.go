package safeset

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeSet(t *testing.T) {
	s := NewSafeSet[string]()
	require.NotNil(t, s)
	assert.False(t, s.Remove("x"))
}

func TestSafeSet_AddReportsInsertion(t *testing.T) {
	s := NewSafeSet[string]()

	assert.True(t, s.Add("alice"))
	assert.False(t, s.Add("alice"))
	assert.True(t, s.Add("bob"))
}

func TestSafeSet_Remove(t *testing.T) {
	s := NewSafeSet[string]()
	s.Add("alice")

	assert.True(t, s.Remove("alice"))
	assert.False(t, s.Remove("alice"))
	assert.True(t, s.Add("alice"), "removed value can be added again")
}

func TestSafeSet_ConcurrentReservation(t *testing.T) {
	s := NewSafeSet[string]()

	const names = 20
	const contenders = 8

	var won atomic.Int32
	var wg sync.WaitGroup
	for n := range names {
		for range contenders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.Add(fmt.Sprintf("user%d", n)) {
					won.Add(1)
				}
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, int32(names), won.Load())
	for n := range names {
		assert.True(t, s.Remove(fmt.Sprintf("user%d", n)))
	}
}
