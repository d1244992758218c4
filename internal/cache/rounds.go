package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"roulette/internal/game"
)

const (
	REDIS_KEY_ROUND_PREFIX = "roulette:round:"
	DEFAULT_ROUND_TTL      = 24 * time.Hour
)

// storeIfNewer keeps a round hash of {rank, data}; a write whose status rank
// is below the cached one is ignored, so out-of-order notifications cannot
// move a cached round backwards.
var storeIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'rank')
if current and tonumber(current) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'rank', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RoundCache keeps the public projection of every round the scheduler
// touches, so read traffic does not hit the round store.
type RoundCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoundCache(client *redis.Client, ttl time.Duration) *RoundCache {
	if ttl <= 0 {
		ttl = DEFAULT_ROUND_TTL
	}
	return &RoundCache{client: client, ttl: ttl}
}

// RoundChanged stores the public view only; the secret key of an unrevealed
// round never reaches Redis. When the write fails the cached entry is
// evicted so readers fall back to the store.
func (c *RoundCache) RoundChanged(ctx context.Context, r game.Round) error {
	key := REDIS_KEY_ROUND_PREFIX + r.ID

	data, err := json.Marshal(r.Public())
	if err != nil {
		c.evict(ctx, key)
		return fmt.Errorf("marshal round %s: %w", r.ID, err)
	}

	stored, err := storeIfNewer.Run(ctx, c.client, []string{key}, r.Status.Rank(), data, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.evict(ctx, key)
		return fmt.Errorf("cache round %s: %w", r.ID, err)
	}
	if stored == 0 {
		log.Debug().Str("round_id", r.ID).Str("status", string(r.Status)).Msg("cached round is newer, skipped")
	}
	return nil
}

func (c *RoundCache) evict(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := c.client.Del(ctx, key).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to evict stale round")
	}
}

// Get returns the cached projection; ok is false on a miss.
func (c *RoundCache) Get(ctx context.Context, id string) (game.PublicRound, bool, error) {
	data, err := c.client.HGet(ctx, REDIS_KEY_ROUND_PREFIX+id, "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return game.PublicRound{}, false, nil
	}
	if err != nil {
		return game.PublicRound{}, false, fmt.Errorf("read cached round %s: %w", id, err)
	}

	var p game.PublicRound
	if err := json.Unmarshal(data, &p); err != nil {
		return game.PublicRound{}, false, fmt.Errorf("decode cached round %s: %w", id, err)
	}
	return p, true, nil
}
