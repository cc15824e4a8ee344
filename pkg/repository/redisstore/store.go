// Package redisstore keeps tokens in Redis.
//
// Each token is stored twice: the record under <prefix>:tok:<value> and the
// value under <prefix>:own:<owner>:<purpose>. Writes that touch both keys run
// as Lua scripts so the two never disagree. Keys carry no Redis TTL; expiry
// is decided by the validator and swept by DeleteIssuedBefore.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-accounts/pkg/domain"
)

// DefaultPrefix is the key namespace used when none is configured.
const DefaultPrefix = "acct"

const putScript = `
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2])
redis.call("SET", KEYS[2], ARGV[1])
return 1
`

var putLua = redis.NewScript(putScript)

// KEYS: own index, new token key, previous token key.
// ARGV: expected previous value ("" for none), new value, new record.
const replaceScript = `
local current = redis.call("GET", KEYS[1])
if ARGV[1] == "" then
  if current then
    return 0
  end
elseif current ~= ARGV[1] then
  return 0
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
if ARGV[1] ~= "" then
  redis.call("DEL", KEYS[3])
end
redis.call("SET", KEYS[2], ARGV[3])
redis.call("SET", KEYS[1], ARGV[2])
return 1
`

var replaceLua = redis.NewScript(replaceScript)

const deleteScript = `
local removed = redis.call("DEL", KEYS[1])
if redis.call("GET", KEYS[2]) == ARGV[1] then
  redis.call("DEL", KEYS[2])
end
return removed
`

var deleteLua = redis.NewScript(deleteScript)

var purposes = []domain.TokenPurpose{
	domain.TokenPurposeConfirmation,
	domain.TokenPurposeAuth,
	domain.TokenPurposePasswordReset,
}

type record struct {
	ID       uuid.UUID `json:"id"`
	OwnerID  uuid.UUID `json:"owner_id"`
	Purpose  string    `json:"purpose"`
	IssuedAt time.Time `json:"issued_at"`
}

// Store is a Redis-backed token store.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a token store using prefix as the key namespace.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) tokenKey(value string) string {
	return s.prefix + ":tok:" + value
}

func (s *Store) ownerKey(ownerID uuid.UUID, purpose domain.TokenPurpose) string {
	return s.prefix + ":own:" + ownerID.String() + ":" + string(purpose)
}

// Put inserts a token.
func (s *Store) Put(ctx context.Context, t *domain.Token) error {
	data, err := encode(t)
	if err != nil {
		return err
	}
	ok, err := putLua.Run(ctx, s.redis,
		[]string{s.tokenKey(t.Value), s.ownerKey(t.OwnerID, t.Purpose)},
		t.Value, data,
	).Int()
	if err != nil {
		return fmt.Errorf("redis put token: %w", err)
	}
	if ok == 0 {
		return domain.ErrTokenConflict
	}
	return nil
}

// Get retrieves a token by value.
func (s *Store) Get(ctx context.Context, value string) (*domain.Token, error) {
	data, err := s.redis.Get(ctx, s.tokenKey(value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get token: %w", err)
	}
	return decode(value, data)
}

// FindByOwnerAndPurpose retrieves the owner's token for purpose.
func (s *Store) FindByOwnerAndPurpose(ctx context.Context, ownerID uuid.UUID, purpose domain.TokenPurpose) (*domain.Token, error) {
	value, err := s.redis.Get(ctx, s.ownerKey(ownerID, purpose)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get owner index: %w", err)
	}
	return s.Get(ctx, value)
}

// Delete removes a token. Exactly one of several concurrent callers succeeds.
func (s *Store) Delete(ctx context.Context, t *domain.Token) error {
	removed, err := deleteLua.Run(ctx, s.redis,
		[]string{s.tokenKey(t.Value), s.ownerKey(t.OwnerID, t.Purpose)},
		t.Value,
	).Int()
	if err != nil {
		return fmt.Errorf("redis delete token: %w", err)
	}
	if removed == 0 {
		return domain.ErrTokenNotFound
	}
	return nil
}

// Replace swaps prev for next atomically. It fails with
// domain.ErrTokenConflict when the owner's slot no longer holds prev.
func (s *Store) Replace(ctx context.Context, prev, next *domain.Token) error {
	data, err := encode(next)
	if err != nil {
		return err
	}

	expected := ""
	prevKey := s.tokenKey(next.Value)
	if prev != nil {
		expected = prev.Value
		prevKey = s.tokenKey(prev.Value)
	}

	ok, err := replaceLua.Run(ctx, s.redis,
		[]string{s.ownerKey(next.OwnerID, next.Purpose), s.tokenKey(next.Value), prevKey},
		expected, next.Value, data,
	).Int()
	if err != nil {
		return fmt.Errorf("redis replace token: %w", err)
	}
	if ok == 0 {
		return domain.ErrTokenConflict
	}
	return nil
}

// DeleteByOwner removes every token of an owner.
func (s *Store) DeleteByOwner(ctx context.Context, ownerID uuid.UUID) error {
	for _, purpose := range purposes {
		t, err := s.FindByOwnerAndPurpose(ctx, ownerID, purpose)
		if errors.Is(err, domain.ErrTokenNotFound) {
			// A dangling index entry has no token to delete.
			if err := s.redis.Del(ctx, s.ownerKey(ownerID, purpose)).Err(); err != nil {
				return fmt.Errorf("redis delete owner index: %w", err)
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := s.Delete(ctx, t); err != nil && !errors.Is(err, domain.ErrTokenNotFound) {
			return err
		}
	}
	return nil
}

// DeleteIssuedBefore scans all tokens and removes those of purpose issued
// before cutoff.
func (s *Store) DeleteIssuedBefore(ctx context.Context, purpose domain.TokenPurpose, cutoff time.Time) (int64, error) {
	var deleted int64
	prefixLen := len(s.tokenKey(""))

	iter := s.redis.Scan(ctx, 0, s.tokenKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		t, err := s.Get(ctx, key[prefixLen:])
		if errors.Is(err, domain.ErrTokenNotFound) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		if t.Purpose != purpose || !t.IssuedAt.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, t); err != nil {
			if errors.Is(err, domain.ErrTokenNotFound) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan tokens: %w", err)
	}
	return deleted, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func encode(t *domain.Token) ([]byte, error) {
	data, err := json.Marshal(record{ID: t.ID, OwnerID: t.OwnerID, Purpose: string(t.Purpose), IssuedAt: t.IssuedAt.UTC()})
	if err != nil {
		return nil, fmt.Errorf("encode token: %w", err)
	}
	return data, nil
}

func decode(value string, data []byte) (*domain.Token, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	purpose, err := domain.ParseTokenPurpose(r.Purpose)
	if err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &domain.Token{ID: r.ID, OwnerID: r.OwnerID, Purpose: purpose, Value: value, IssuedAt: r.IssuedAt}, nil
}
