//go:build integration

package credential_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"electorate/internal/credential"
	"electorate/pkg/domain"
	"electorate/pkg/platform/sentinel"
	"electorate/pkg/testutil/containers"
)

type RedisCredentialSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *credential.RedisStore
}

func TestRedisCredentialSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCredentialSuite))
}

func (s *RedisCredentialSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = credential.NewRedisStore(s.redis.Client)
}

func (s *RedisCredentialSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCredentialSuite) TestInsertAndRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	cred := suiteCredential(suiteKey(0x01), now, time.Hour)

	s.Require().NoError(s.store.Insert(ctx, cred))
	s.ErrorIs(s.store.Insert(ctx, cred), sentinel.ErrConflict, "duplicate id")

	got, err := s.store.GetByID(ctx, cred.ID)
	s.Require().NoError(err)
	s.Equal(cred.ID, got.ID)
	s.Equal(cred.IdentityKey, got.IdentityKey)
	s.False(got.Consumed)
	s.WithinDuration(cred.ExpiresAt, got.ExpiresAt, time.Millisecond)
}

func (s *RedisCredentialSuite) TestFindLive() {
	ctx := context.Background()
	now := time.Now().UTC()
	key := suiteKey(0x01)

	_, err := s.store.FindLive(ctx, key, now)
	s.ErrorIs(err, sentinel.ErrNotFound)

	live := suiteCredential(key, now, time.Hour)
	s.Require().NoError(s.store.Insert(ctx, live))

	got, err := s.store.FindLive(ctx, key, now)
	s.Require().NoError(err)
	s.Equal(live.ID, got.ID)

	// Consumed credential no longer blocks issuance.
	_, err = s.store.Consume(ctx, live.ID, now)
	s.Require().NoError(err)
	_, err = s.store.FindLive(ctx, key, now)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisCredentialSuite) TestInsertRejectsSecondLive() {
	ctx := context.Background()
	now := time.Now().UTC()
	key := suiteKey(0x01)

	first := suiteCredential(key, now, time.Hour)
	s.Require().NoError(s.store.Insert(ctx, first))
	s.ErrorIs(s.store.Insert(ctx, suiteCredential(key, now, time.Hour)), sentinel.ErrConflict)

	s.NoError(s.store.Insert(ctx, suiteCredential(suiteKey(0x02), now, time.Hour)), "other identity unaffected")

	// Consumption releases the live slot.
	_, err := s.store.Consume(ctx, first.ID, now)
	s.Require().NoError(err)
	s.NoError(s.store.Insert(ctx, suiteCredential(key, now, time.Hour)))
}

// SETNX on the live slot gives concurrent inserters for one identity exactly
// one winner inside the Redis server.
func (s *RedisCredentialSuite) TestConcurrentInsert() {
	ctx := context.Background()
	now := time.Now().UTC()
	key := suiteKey(0x01)

	const goroutines = 20
	var wg sync.WaitGroup
	var wins, losses atomic.Int32

	for i := 0; i < goroutines; i++ {
		cred := suiteCredential(key, now, time.Hour)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Insert(ctx, cred)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load(), "exactly one insert wins")
	s.Equal(int32(goroutines-1), losses.Load())
}

func (s *RedisCredentialSuite) TestConsumeLifecycle() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	cred := suiteCredential(suiteKey(0x01), now, time.Hour)
	s.Require().NoError(s.store.Insert(ctx, cred))

	got, err := s.store.Consume(ctx, cred.ID, now)
	s.Require().NoError(err)
	s.True(got.Consumed)
	s.Require().NotNil(got.ConsumedAt)

	_, err = s.store.Consume(ctx, cred.ID, now)
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)

	_, err = s.store.Consume(ctx, domain.NewCredentialID(), now)
	s.ErrorIs(err, sentinel.ErrNotFound)

	lapsed := suiteCredential(suiteKey(0x02), now, time.Hour)
	s.Require().NoError(s.store.Insert(ctx, lapsed))
	_, err = s.store.Consume(ctx, lapsed.ID, now.Add(2*time.Hour))
	s.ErrorIs(err, sentinel.ErrExpired)
}

// The Lua script serializes concurrent redemption inside the Redis server.
func (s *RedisCredentialSuite) TestConcurrentConsume() {
	ctx := context.Background()
	now := time.Now().UTC()
	cred := suiteCredential(suiteKey(0x01), now, time.Hour)
	s.Require().NoError(s.store.Insert(ctx, cred))

	const goroutines = 20
	var wg sync.WaitGroup
	var wins, losses atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Consume(ctx, cred.ID, now)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load(), "exactly one consume wins")
	s.Equal(int32(goroutines-1), losses.Load())
}
