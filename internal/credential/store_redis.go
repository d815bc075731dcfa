package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"electorate/pkg/domain"
	"electorate/pkg/platform/sentinel"
)

// consumedRetention is how long a consumed or expired credential stays
// readable after its validity window, so late redemption attempts get a
// precise AlreadyConsumed/Expired answer instead of NotFound.
const consumedRetention = 24 * time.Hour

// RedisStore persists credentials in Redis. Consume runs as a Lua script, so
// the read-check-write sequence executes atomically inside the server and
// concurrent redeemers cannot interleave.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// consumeScript implements the check-and-set: decode the stored credential,
// reject if consumed or past expiry, otherwise persist the flipped flag.
// Status: 1 consumed now, -1 not found, -2 already consumed, -3 expired.
var consumeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return -1
end
local cred = cjson.decode(raw)
local now = tonumber(ARGV[1])
if cred.consumed then
	return -2
end
if now >= cred.expires_at then
	return -3
end
cred.consumed = true
cred.consumed_at = now
redis.call('SET', KEYS[1], cjson.encode(cred), 'KEEPTTL')
return 1
`)

type redisCredential struct {
	ID          string `json:"id"`
	IdentityKey string `json:"identity_key"`
	Nonce       string `json:"nonce"`
	IssuedAt    int64  `json:"issued_at"`
	ExpiresAt   int64  `json:"expires_at"`
	Consumed    bool   `json:"consumed"`
	ConsumedAt  int64  `json:"consumed_at"`
}

func credentialKey(id domain.CredentialID) string {
	return "electorate:credential:" + id.String()
}

func liveKey(key domain.IdentityKey) string {
	return "electorate:credential:live:" + key.String()
}

func consumedKey(key domain.IdentityKey) string {
	return "electorate:credential:consumed:" + key.String()
}

func (s *RedisStore) Insert(ctx context.Context, cred *Credential) error {
	enc, err := json.Marshal(toRedis(cred))
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	// The live slot is claimed first and is the uniqueness arbiter: SETNX
	// fails while another credential holds it, so concurrent inserters for
	// one identity get exactly one winner. The slot lapses with the validity
	// window; Consume releases it early.
	window := time.Until(cred.ExpiresAt)
	claimed, err := s.client.SetNX(ctx, liveKey(cred.IdentityKey), cred.ID.String(), window).Result()
	if err != nil {
		return fmt.Errorf("%w: claim live slot: %v", sentinel.ErrUnavailable, err)
	}
	if !claimed {
		// A crash between the consume flip and the slot release can leave
		// the slot pointing at a dead credential; take the slot over then.
		_, err := s.FindLive(ctx, cred.IdentityKey, cred.IssuedAt)
		if err == nil {
			return sentinel.ErrConflict
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		if err := s.client.Set(ctx, liveKey(cred.IdentityKey), cred.ID.String(), window).Err(); err != nil {
			return fmt.Errorf("%w: claim live slot: %v", sentinel.ErrUnavailable, err)
		}
	}

	ok, err := s.client.SetNX(ctx, credentialKey(cred.ID), enc, window+consumedRetention).Result()
	if err != nil {
		return fmt.Errorf("%w: insert credential: %v", sentinel.ErrUnavailable, err)
	}
	if !ok {
		_ = s.client.Del(ctx, liveKey(cred.IdentityKey))
		return sentinel.ErrConflict
	}
	return nil
}

func (s *RedisStore) GetByID(ctx context.Context, id domain.CredentialID) (*Credential, error) {
	raw, err := s.client.Get(ctx, credentialKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get credential: %v", sentinel.ErrUnavailable, err)
	}
	return fromRedisRaw(raw)
}

func (s *RedisStore) FindLive(ctx context.Context, key domain.IdentityKey, now time.Time) (*Credential, error) {
	idStr, err := s.client.Get(ctx, liveKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find live credential: %v", sentinel.ErrUnavailable, err)
	}

	id, err := domain.ParseCredentialID(idStr)
	if err != nil {
		return nil, fmt.Errorf("live index holds malformed id: %w", err)
	}
	cred, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cred.Live(now) {
		return nil, sentinel.ErrNotFound
	}
	return cred, nil
}

func (s *RedisStore) Consume(ctx context.Context, id domain.CredentialID, now time.Time) (*Credential, error) {
	status, err := consumeScript.Run(ctx, s.client,
		[]string{credentialKey(id)}, now.UnixNano(),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("%w: consume credential: %v", sentinel.ErrUnavailable, err)
	}

	switch status {
	case 1:
		cred, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		// Release the live slot so a consumed credential stops blocking the
		// next issuance, then mark the identity for the status read path.
		// Both run after the atomic flip, so a crash here loses bookkeeping,
		// never the consumption itself.
		if err := s.client.Del(ctx, liveKey(cred.IdentityKey)).Err(); err != nil {
			return nil, fmt.Errorf("%w: release live slot: %v", sentinel.ErrUnavailable, err)
		}
		if err := s.client.Set(ctx, consumedKey(cred.IdentityKey), "1", consumedRetention).Err(); err != nil {
			return nil, fmt.Errorf("%w: index consumed credential: %v", sentinel.ErrUnavailable, err)
		}
		return cred, nil
	case -1:
		return nil, sentinel.ErrNotFound
	case -2:
		return nil, sentinel.ErrAlreadyUsed
	case -3:
		return nil, sentinel.ErrExpired
	default:
		return nil, fmt.Errorf("consume credential: unexpected script status %d", status)
	}
}

func (s *RedisStore) HasConsumed(ctx context.Context, key domain.IdentityKey) (bool, error) {
	n, err := s.client.Exists(ctx, consumedKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: check consumed marker: %v", sentinel.ErrUnavailable, err)
	}
	return n > 0, nil
}

func toRedis(cred *Credential) redisCredential {
	rc := redisCredential{
		ID:          cred.ID.String(),
		IdentityKey: cred.IdentityKey.String(),
		Nonce:       cred.Nonce,
		IssuedAt:    cred.IssuedAt.UnixNano(),
		ExpiresAt:   cred.ExpiresAt.UnixNano(),
		Consumed:    cred.Consumed,
	}
	if cred.ConsumedAt != nil {
		rc.ConsumedAt = cred.ConsumedAt.UnixNano()
	}
	return rc
}

func fromRedisRaw(raw []byte) (*Credential, error) {
	var rc redisCredential
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}

	id, err := uuid.Parse(rc.ID)
	if err != nil {
		return nil, fmt.Errorf("decode credential id: %w", err)
	}
	key, err := domain.ParseIdentityKey(rc.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("decode credential identity key: %w", err)
	}

	cred := &Credential{
		ID:          domain.CredentialID(id),
		IdentityKey: key,
		Nonce:       rc.Nonce,
		IssuedAt:    time.Unix(0, rc.IssuedAt),
		ExpiresAt:   time.Unix(0, rc.ExpiresAt),
		Consumed:    rc.Consumed,
	}
	if rc.ConsumedAt != 0 {
		t := time.Unix(0, rc.ConsumedAt)
		cred.ConsumedAt = &t
	}
	return cred, nil
}
