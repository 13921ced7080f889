package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps quota records in Redis hashes. Mutations run as Lua
// scripts so each one is atomic on the server.
//
// The quota hash and the secret-key index live under different keys, so the
// store targets a single Redis node rather than a cluster.
type RedisStore struct {
	rdb       redis.Cmdable
	keyPrefix string
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key prefix (default "ledger:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(rdb redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, keyPrefix: "ledger:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) quotaKey(userID string) string { return s.keyPrefix + "quota:" + userID }
func (s *RedisStore) secretKey(key string) string   { return s.keyPrefix + "secret:" + key }

// Script replies are {status, max_requests, requests_used, reset_date, secret_key}.
// status: 1 = applied, 0 = insufficient quota, -1 = record not found.

// KEYS[1] = quota hash; ARGV[1] = amount
var deductScript = redis.NewScript(`
local key = KEYS[1]
local amount = tonumber(ARGV[1])
if redis.call("EXISTS", key) == 0 then
    return {-1}
end
local status = 0
local max = tonumber(redis.call("HGET", key, "max_requests"))
local used = tonumber(redis.call("HGET", key, "requests_used"))
if max - used >= amount then
    redis.call("HINCRBY", key, "requests_used", amount)
    status = 1
end
local v = redis.call("HMGET", key, "max_requests", "requests_used", "reset_date", "secret_key")
return {status, v[1], v[2], v[3], v[4]}
`)

// KEYS[1] = quota hash; ARGV[1] = amount
var refundScript = redis.NewScript(`
local key = KEYS[1]
local amount = tonumber(ARGV[1])
if redis.call("EXISTS", key) == 0 then
    return {-1}
end
local used = redis.call("HINCRBY", key, "requests_used", -amount)
if used < 0 then
    redis.call("HSET", key, "requests_used", "0")
end
local v = redis.call("HMGET", key, "max_requests", "requests_used", "reset_date", "secret_key")
return {1, v[1], v[2], v[3], v[4]}
`)

// KEYS[1] = quota hash, KEYS[2] = secret index for ARGV[4]
// ARGV[1] = credits, ARGV[2] = mode, ARGV[3] = now (unix), ARGV[4] = secret, ARGV[5] = user id
var grantScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
    redis.call("HSET", key, "max_requests", ARGV[1], "requests_used", "0", "reset_date", ARGV[3], "secret_key", ARGV[4])
    redis.call("SET", KEYS[2], ARGV[5])
elseif ARGV[2] == "stack" then
    redis.call("HINCRBY", key, "max_requests", tonumber(ARGV[1]))
    redis.call("HSET", key, "reset_date", ARGV[3])
else
    redis.call("HSET", key, "max_requests", ARGV[1], "requests_used", "0", "reset_date", ARGV[3])
end
local v = redis.call("HMGET", key, "max_requests", "requests_used", "reset_date", "secret_key")
return {1, v[1], v[2], v[3], v[4]}
`)

// KEYS[1] = quota hash, KEYS[2] = secret index for ARGV[4]
// ARGV[1] = max, ARGV[2] = used, ARGV[3] = reset (unix), ARGV[4] = secret, ARGV[5] = user id
var createScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
    redis.call("HSET", key, "max_requests", ARGV[1], "requests_used", ARGV[2], "reset_date", ARGV[3], "secret_key", ARGV[4])
    redis.call("SET", KEYS[2], ARGV[5])
end
local v = redis.call("HMGET", key, "max_requests", "requests_used", "reset_date", "secret_key")
return {1, v[1], v[2], v[3], v[4]}
`)

func (s *RedisStore) Get(ctx context.Context, userID string) (*Record, error) {
	vals, err := s.rdb.HMGet(ctx, s.quotaKey(userID), "max_requests", "requests_used", "reset_date", "secret_key").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: reading quota: %w", ErrStoreUnavailable, err)
	}
	if vals[0] == nil {
		return nil, ErrNotFound
	}
	return parseRecord(userID, vals)
}

func (s *RedisStore) GetBySecretKey(ctx context.Context, secretKey string) (*Record, error) {
	userID, err := s.rdb.Get(ctx, s.secretKey(secretKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: reading key index: %w", ErrStoreUnavailable, err)
	}
	return s.Get(ctx, userID)
}

func (s *RedisStore) Deduct(ctx context.Context, userID string, amount int) (*Record, bool, error) {
	status, rec, err := s.run(ctx, deductScript, userID, []string{s.quotaKey(userID)}, amount)
	if err != nil {
		return nil, false, err
	}
	return rec, status == 1, nil
}

func (s *RedisStore) Refund(ctx context.Context, userID string, amount int) (*Record, error) {
	_, rec, err := s.run(ctx, refundScript, userID, []string{s.quotaKey(userID)}, amount)
	return rec, err
}

func (s *RedisStore) Grant(ctx context.Context, userID string, credits int, mode GrantMode, secretKey string, now time.Time) (*Record, error) {
	if mode != GrantStack && mode != GrantReplace {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidGrant, mode)
	}
	_, rec, err := s.run(ctx, grantScript, userID,
		[]string{s.quotaKey(userID), s.secretKey(secretKey)},
		credits, string(mode), now.Unix(), secretKey, userID)
	return rec, err
}

func (s *RedisStore) Create(ctx context.Context, rec *Record) (*Record, error) {
	_, out, err := s.run(ctx, createScript, rec.UserID,
		[]string{s.quotaKey(rec.UserID), s.secretKey(rec.SecretKey)},
		rec.MaxRequests, rec.RequestsUsed, rec.ResetDate.Unix(), rec.SecretKey, rec.UserID)
	return out, err
}

func (s *RedisStore) run(ctx context.Context, script *redis.Script, userID string, keys []string, args ...any) (int64, *Record, error) {
	reply, err := script.Run(ctx, s.rdb, keys, args...).Slice()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: running ledger script: %w", ErrStoreUnavailable, err)
	}
	if len(reply) == 0 {
		return 0, nil, fmt.Errorf("%w: empty script reply", ErrStoreUnavailable)
	}

	status, ok := reply[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("%w: unexpected script status %T", ErrStoreUnavailable, reply[0])
	}
	if status == -1 {
		return status, nil, ErrNotFound
	}
	if len(reply) != 5 {
		return 0, nil, fmt.Errorf("%w: unexpected script reply length %d", ErrStoreUnavailable, len(reply))
	}

	rec, err := parseRecord(userID, reply[1:])
	if err != nil {
		return 0, nil, err
	}
	return status, rec, nil
}

func parseRecord(userID string, vals []any) (*Record, error) {
	field := func(i int) string {
		s, _ := vals[i].(string)
		return s
	}

	maxReq, err := strconv.Atoi(field(0))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing max_requests: %w", ErrStoreUnavailable, err)
	}
	used, err := strconv.Atoi(field(1))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing requests_used: %w", ErrStoreUnavailable, err)
	}
	reset, err := strconv.ParseInt(field(2), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing reset_date: %w", ErrStoreUnavailable, err)
	}

	return &Record{
		UserID:       userID,
		MaxRequests:  maxReq,
		RequestsUsed: used,
		ResetDate:    time.Unix(reset, 0).UTC(),
		SecretKey:    field(3),
	}, nil
}
