package redis

import (
	"context"
	"errors"
	"time"

	"github.com/ticketrush/onsale-service/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache implements domain.WaitingRoomCache on a single Redis instance.
//
// Keyspace:
//
//	wr:q:{event}            ZSET  token -> join instant (unix ms)
//	wr:tok:{event}:{token}  HASH  user_id, joined_at; TTL = token TTL
//	wr:wave:{event}         HASH  wave_end, last_advance (unix ms)
//	access:{event}:{token}  "1" with TTL = admission TTL
//	ratelimit:{scope}       fixed-window counter
type Cache struct {
	Client *redis.Client
}

func New(addr, pass string, db int) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	return &Cache{Client: rdb}
}

func queueKey(eventID uuid.UUID) string { return "wr:q:" + eventID.String() }
func waveKey(eventID uuid.UUID) string  { return "wr:wave:" + eventID.String() }
func tokenKey(eventID uuid.UUID, token string) string {
	return "wr:tok:" + eventID.String() + ":" + token
}
func accessKey(eventID uuid.UUID, token string) string {
	return "access:" + eventID.String() + ":" + token
}

func (c *Cache) Enqueue(ctx context.Context, eventID uuid.UUID, token, userID string, joinedAt time.Time, tokenTTL time.Duration) error {
	joinedMs := joinedAt.UnixMilli()

	pipe := c.Client.TxPipeline()
	pipe.HSet(ctx, tokenKey(eventID, token), "user_id", userID, "joined_at", joinedMs)
	pipe.Expire(ctx, tokenKey(eventID, token), tokenTTL)
	pipe.ZAdd(ctx, queueKey(eventID), redis.Z{Score: float64(joinedMs), Member: token})
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Cache) TokenUser(ctx context.Context, eventID uuid.UUID, token string) (string, error) {
	user, err := c.Client.HGet(ctx, tokenKey(eventID, token), "user_id").Result()
	if errors.Is(err, redis.Nil) {
		// token record TTL'd out; drop the stale queue member too
		_ = c.Client.ZRem(ctx, queueKey(eventID), token).Err()
		return "", domain.ErrInvalidToken
	}
	if err != nil {
		return "", err
	}
	return user, nil
}

func (c *Cache) Position(ctx context.Context, eventID uuid.UUID, token string) (int64, int64, error) {
	rank, err := c.Client.ZRank(ctx, queueKey(eventID), token).Result()
	if errors.Is(err, redis.Nil) {
		return 0, 0, domain.ErrInvalidToken
	}
	if err != nil {
		return 0, 0, err
	}
	total, err := c.Client.ZCard(ctx, queueKey(eventID)).Result()
	if err != nil {
		return 0, 0, err
	}
	return rank + 1, total, nil
}

// advanceWave runs the wave-cursor step atomically. The cursor never
// decreases, and moves at most once per interval regardless of how many
// status polls race.
var advanceWave = redis.NewScript(`
local we = tonumber(redis.call('HGET', KEYS[1], 'wave_end'))
local la = tonumber(redis.call('HGET', KEYS[1], 'last_advance'))
local now = tonumber(ARGV[1])
local total = tonumber(ARGV[2])
local size = tonumber(ARGV[3])
local interval = tonumber(ARGV[4])
if not we then
  we = math.min(total, size)
  redis.call('HSET', KEYS[1], 'wave_end', we, 'last_advance', now)
  return we
end
if total > we and now - (la or 0) >= interval then
  we = math.min(total, we + size)
  redis.call('HSET', KEYS[1], 'wave_end', we, 'last_advance', now)
end
return we
`)

func (c *Cache) AdvanceWave(ctx context.Context, eventID uuid.UUID, total int64, now time.Time, waveSize int, waveInterval time.Duration) (int64, error) {
	res, err := advanceWave.Run(ctx, c.Client,
		[]string{waveKey(eventID)},
		now.UnixMilli(), total, waveSize, waveInterval.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, err
	}
	return res, nil
}

func (c *Cache) GrantAdmission(ctx context.Context, eventID uuid.UUID, token string, ttl time.Duration) error {
	return c.Client.Set(ctx, accessKey(eventID, token), "1", ttl).Err()
}

func (c *Cache) HasAdmission(ctx context.Context, eventID uuid.UUID, token string) (bool, error) {
	n, err := c.Client.Exists(ctx, accessKey(eventID, token)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClearQueue drops the ordered set, wave cursor, and all per-token records
// for the event. Outstanding admission grants keep their own TTL.
func (c *Cache) ClearQueue(ctx context.Context, eventID uuid.UUID) error {
	tokens, err := c.Client.ZRange(ctx, queueKey(eventID), 0, -1).Result()
	if err != nil {
		return err
	}

	pipe := c.Client.TxPipeline()
	for _, tok := range tokens {
		pipe.Del(ctx, tokenKey(eventID, tok))
	}
	pipe.Del(ctx, queueKey(eventID), waveKey(eventID))
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Cache) QueueLength(ctx context.Context, eventID uuid.UUID) (int64, error) {
	return c.Client.ZCard(ctx, queueKey(eventID)).Result()
}

// AllowRequest: Simple Fixed Window Rate Limit
func (c *Cache) AllowRequest(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := "ratelimit:" + key
	count, err := c.Client.Incr(ctx, k).Result()
	if err != nil {
		return true, nil // fail open
	}
	if count == 1 {
		_ = c.Client.Expire(ctx, k, window).Err()
	}
	return count <= int64(limit), nil
}
