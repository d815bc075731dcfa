package credential

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"electorate/pkg/domain"
	"electorate/pkg/platform/sentinel"
)

func testKey(b byte) domain.IdentityKey {
	var k domain.IdentityKey
	for i := range k {
		k[i] = b
	}
	return k
}

func testCredential(key domain.IdentityKey, now time.Time, ttl time.Duration) *Credential {
	return &Credential{
		ID:          domain.NewCredentialID(),
		IdentityKey: key,
		Nonce:       "nonce",
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
}

func TestInMemoryStore_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	now := time.Now().UTC()

	cred := testCredential(testKey(0x01), now, time.Hour)
	require.NoError(t, s.Insert(ctx, cred))

	got, err := s.GetByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, got.ID)
	assert.False(t, got.Consumed)

	t.Run("duplicate id", func(t *testing.T) {
		assert.ErrorIs(t, s.Insert(ctx, cred), sentinel.ErrConflict)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := s.GetByID(ctx, domain.NewCredentialID())
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestInMemoryStore_InsertRejectsSecondLive(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	now := time.Now().UTC()
	key := testKey(0x01)

	first := testCredential(key, now, time.Hour)
	require.NoError(t, s.Insert(ctx, first))
	assert.ErrorIs(t, s.Insert(ctx, testCredential(key, now, time.Hour)), sentinel.ErrConflict)

	t.Run("other identity unaffected", func(t *testing.T) {
		assert.NoError(t, s.Insert(ctx, testCredential(testKey(0x02), now, time.Hour)))
	})

	t.Run("consumption frees the slot", func(t *testing.T) {
		_, err := s.Consume(ctx, first.ID, now)
		require.NoError(t, err)
		assert.NoError(t, s.Insert(ctx, testCredential(key, now, time.Hour)))
	})
}

func TestInMemoryStore_FindLive(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	now := time.Now().UTC()
	key := testKey(0x01)

	t.Run("no credential", func(t *testing.T) {
		_, err := s.FindLive(ctx, key, now)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	expired := testCredential(key, now.Add(-2*time.Hour), time.Hour)
	require.NoError(t, s.Insert(ctx, expired))

	t.Run("expired credential does not block", func(t *testing.T) {
		_, err := s.FindLive(ctx, key, now)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	live := testCredential(key, now, time.Hour)
	require.NoError(t, s.Insert(ctx, live))

	t.Run("live credential found", func(t *testing.T) {
		got, err := s.FindLive(ctx, key, now)
		require.NoError(t, err)
		assert.Equal(t, live.ID, got.ID)
	})

	t.Run("consumed credential does not block", func(t *testing.T) {
		_, err := s.Consume(ctx, live.ID, now)
		require.NoError(t, err)
		_, err = s.FindLive(ctx, key, now)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestInMemoryStore_Consume(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	now := time.Now().UTC()

	cred := testCredential(testKey(0x01), now, time.Hour)
	require.NoError(t, s.Insert(ctx, cred))

	got, err := s.Consume(ctx, cred.ID, now)
	require.NoError(t, err)
	assert.True(t, got.Consumed)
	require.NotNil(t, got.ConsumedAt)

	t.Run("second consume rejected", func(t *testing.T) {
		_, err := s.Consume(ctx, cred.ID, now)
		assert.ErrorIs(t, err, sentinel.ErrAlreadyUsed)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.Consume(ctx, domain.NewCredentialID(), now)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("expired credential", func(t *testing.T) {
		lapsed := testCredential(testKey(0x02), now.Add(-2*time.Hour), time.Hour)
		require.NoError(t, s.Insert(ctx, lapsed))
		_, err := s.Consume(ctx, lapsed.ID, now)
		assert.ErrorIs(t, err, sentinel.ErrExpired)
	})
}

// The single-use guarantee: N concurrent consumers, exactly one winner.
func TestInMemoryStore_ConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	now := time.Now().UTC()

	cred := testCredential(testKey(0x01), now, time.Hour)
	require.NoError(t, s.Insert(ctx, cred))

	const goroutines = 50
	var wg sync.WaitGroup
	var wins, losses atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Consume(ctx, cred.ID, now)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one consume wins")
	assert.Equal(t, int32(goroutines-1), losses.Load())
}
