package statestore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentruntime/errors"
)

func TestMemoryStore_EmptyRead(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, errors.ErrStateNotFound)
}

func TestMemoryStore_CreateReadUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	token1, err := s.Write(ctx, []byte(`{"v":1}`), "")
	require.NoError(t, err)
	assert.NotEmpty(t, token1)

	snap, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), snap.Data)
	assert.Equal(t, token1, snap.Token)

	token2, err := s.Write(ctx, []byte(`{"v":2}`), token1)
	require.NoError(t, err)
	assert.NotEqual(t, token1, token2, "token must advance on every successful write")
}

func TestMemoryStore_Conflicts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	token1, err := s.Write(ctx, []byte("a"), "")
	require.NoError(t, err)

	// Create on existing state
	_, err = s.Write(ctx, []byte("b"), "")
	assert.ErrorIs(t, err, errors.ErrTokenMismatch)

	// Update with a stale token
	_, err = s.Write(ctx, []byte("b"), "999")
	assert.ErrorIs(t, err, errors.ErrTokenMismatch)
	assert.True(t, errors.IsTransient(err), "conflicts must be retryable")

	// The winning token still works
	_, err = s.Write(ctx, []byte("b"), token1)
	assert.NoError(t, err)
}

func TestMemoryStore_ConcurrentWritersOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	token, err := s.Write(ctx, []byte("base"), "")
	require.NoError(t, err)

	const writers = 10
	var wg sync.WaitGroup
	results := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.Write(ctx, []byte("contender"), token)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, errors.ErrTokenMismatch)
		}
	}
	assert.Equal(t, 1, wins, "exactly one writer may win a CAS race")
}

func TestMemoryStore_ReadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Write(ctx, []byte("abc"), "")
	require.NoError(t, err)

	snap, err := s.Read(ctx)
	require.NoError(t, err)
	snap.Data[0] = 'X'

	again, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again.Data)
}
