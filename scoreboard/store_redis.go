package scoreboard

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Sorted-set member scores pack (score, recency) into the 53-bit float64
	// mantissa: score in the high 22 bits, an inverted seconds-since-2020
	// timestamp in the low 31 bits. ZREVRANGE order then equals the
	// leaderboard contract (higher score first, earlier achiever first on
	// ties) without client-side re-sorting. Scores above the cap saturate
	// the packing; the raw hash keeps the true value.
	//
	// Recency is second-granular: the mantissa has no room for milliseconds
	// alongside the score bits. Two users reaching the same score within the
	// same second tie on the packed value and fall back to Redis member
	// ordering, unlike MemoryStore which compares full timestamps and then
	// user IDs.
	packedScoreCap = 1<<22 - 1
	packedTimeBits = 1 << 31
	packEpoch      = 1577836800 // 2020-01-01 UTC
)

// upsertScript adds the delta to the raw score hash and refreshes the packed
// sorted-set entry, name and updated-at in one atomic step. Returns -1 when the
// delta would make the score negative (raw scores are never negative, so the
// sentinel cannot collide).
var upsertScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local delta = tonumber(ARGV[2])
local new = cur + delta
if new < 0 then return -1 end
redis.call('HSET', KEYS[1], ARGV[1], new)
local capped = new
if capped > 4194303 then capped = 4194303 end
redis.call('ZADD', KEYS[2], capped * 2147483648 + tonumber(ARGV[3]), ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[4])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[5])
return new
`)

// RedisStore keeps the leaderboard in Redis so multiple instances share one view.
type RedisStore struct {
	cli    *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a Store backed by the given client. Keys are namespaced
// under prefix (defaults to "lb").
func NewRedisStore(cli *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "lb"
	}
	return &RedisStore{cli: cli, prefix: prefix, now: time.Now}
}

func (s *RedisStore) rawKey() string     { return s.prefix + ":raw" }
func (s *RedisStore) rankKey() string    { return s.prefix + ":ranked" }
func (s *RedisStore) nameKey() string    { return s.prefix + ":names" }
func (s *RedisStore) updatedKey() string { return s.prefix + ":updated" }

func (s *RedisStore) Upsert(ctx context.Context, userID uint, username string, delta int64) (int64, error) {
	now := s.now()
	invTs := int64(packedTimeBits - 1 - (now.Unix() - packEpoch))
	if invTs < 0 {
		invTs = 0
	}

	res, err := upsertScript.Run(ctx, s.cli,
		[]string{s.rawKey(), s.rankKey(), s.nameKey(), s.updatedKey()},
		strconv.FormatUint(uint64(userID), 10),
		delta,
		invTs,
		username,
		now.UnixMilli(),
	).Int64()
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, ErrInvalidDelta
	}
	return res, nil
}

func (s *RedisStore) TopN(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	ids, err := s.cli.ZRevRange(ctx, s.rankKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.cli.Pipeline()
	raws := pipe.HMGet(ctx, s.rawKey(), ids...)
	names := pipe.HMGet(ctx, s.nameKey(), ids...)
	updated := pipe.HMGet(ctx, s.updatedKey(), ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(ids))
	for i, id := range ids {
		uid, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			continue
		}
		e := Entry{UserID: uint(uid)}
		if v, ok := raws.Val()[i].(string); ok {
			e.Score, _ = strconv.ParseInt(v, 10, 64)
		}
		if v, ok := names.Val()[i].(string); ok {
			e.Username = v
		}
		if v, ok := updated.Val()[i].(string); ok {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				e.UpdatedAt = time.UnixMilli(ms)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) Rank(ctx context.Context, userID uint) (int, error) {
	rank, err := s.cli.ZRevRank(ctx, s.rankKey(), strconv.FormatUint(uint64(userID), 10)).Result()
	if err == redis.Nil {
		return 0, ErrNotRanked
	}
	if err != nil {
		return 0, err
	}
	return int(rank) + 1, nil
}
