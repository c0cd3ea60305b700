package redis

import (
	"context"
	"crypto/tls"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zlnvch/pixelwars/cache"
)

type RedisPixelWarsCache struct {
	client redis.UniversalClient
}

func NewRedisPixelWarsCache(ctx context.Context, devMode bool, redisEndpoint string) (*RedisPixelWarsCache, error) {
	opts := &redis.Options{Addr: redisEndpoint}
	if !devMode {
		// elasticache requires TLS
		opts.TLSConfig = &tls.Config{}
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisPixelWarsCache{client: client}, nil
}

// NewRedisPixelWarsCacheFromClient wraps an existing client.
func NewRedisPixelWarsCacheFromClient(client redis.UniversalClient) *RedisPixelWarsCache {
	return &RedisPixelWarsCache{client: client}
}

func (redisCache *RedisPixelWarsCache) Publish(ctx context.Context, channel string, message []byte) error {
	return redisCache.client.Publish(ctx, channel, message).Err()
}

func (redisCache *RedisPixelWarsCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		log.Printf("Could not subscribe to %s: %v", channel, err)
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					log.Printf("Pubsub channel closed: %s", channel)
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Keys share the {canvas} hash tag so one canvas lives in one cluster slot
func historyKey(canvasName string) string {
	return "canvas:{" + canvasName + "}:history"
}

func historyDataKey(canvasName string) string {
	return "canvas:{" + canvasName + "}:history:data"
}

func historyCompleteKey(canvasName string) string {
	return "canvas:{" + canvasName + "}:history:complete"
}

const cacheTTL = 10 * time.Minute

// Newest events kept and returned per canvas
const maxCachedEvents = 1000

// History is split in two structures:
//   - ZSet "canvas:{name}:history": event ids scored by write time
//   - Hash "canvas:{name}:history:data": event id -> JSON
//
// The ZSet gives ordering and trimming, the hash gives O(1) lookups by id.
func (redisCache *RedisPixelWarsCache) AddPixelEvent(ctx context.Context, canvasName string, eventId string, score int64, eventData []byte) error {
	return redisCache.AddPixelEventsBatch(ctx, canvasName, []cache.PixelEventCacheItem{
		{EventId: eventId, Score: score, Data: eventData},
	})
}

func (redisCache *RedisPixelWarsCache) AddPixelEventsBatch(ctx context.Context, canvasName string, events []cache.PixelEventCacheItem) error {
	if len(events) == 0 {
		return nil
	}

	key := historyKey(canvasName)
	dataKey := historyDataKey(canvasName)
	completeKey := historyCompleteKey(canvasName)

	zMembers := make([]redis.Z, len(events))
	hValues := make([]interface{}, len(events)*2)
	for i, e := range events {
		zMembers[i] = redis.Z{Score: float64(e.Score), Member: e.EventId}
		hValues[i*2] = e.EventId
		hValues[i*2+1] = e.Data
	}

	pipe := redisCache.client.Pipeline()
	pipe.ZAdd(ctx, key, zMembers...)
	pipe.HSet(ctx, dataKey, hValues...)
	pipe.Expire(ctx, completeKey, cacheTTL)
	pipe.Expire(ctx, key, cacheTTL)
	pipe.Expire(ctx, dataKey, cacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	return redisCache.trimHistory(ctx, key, dataKey)
}

// trimHistory drops everything below the newest maxCachedEvents ids from
// both the ZSet and the hash. Removal is by member, so ids added
// concurrently are never dropped by rank.
func (redisCache *RedisPixelWarsCache) trimHistory(ctx context.Context, key string, dataKey string) error {
	staleIds, err := redisCache.client.ZRange(ctx, key, 0, -maxCachedEvents-1).Result()
	if err != nil {
		return err
	}
	if len(staleIds) == 0 {
		return nil
	}

	members := make([]interface{}, len(staleIds))
	for i, id := range staleIds {
		members[i] = id
	}

	pipe := redisCache.client.Pipeline()
	pipe.ZRem(ctx, key, members...)
	pipe.HDel(ctx, dataKey, staleIds...)
	_, err = pipe.Exec(ctx)
	return err
}

func (redisCache *RedisPixelWarsCache) GetPixelEvents(ctx context.Context, canvasName string) ([][]byte, error) {
	key := historyKey(canvasName)
	dataKey := historyDataKey(canvasName)
	completeKey := historyCompleteKey(canvasName)

	ids, err := redisCache.client.ZRange(ctx, key, -maxCachedEvents, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return [][]byte{}, nil
	}

	values, err := redisCache.client.HMGet(ctx, dataKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	events := make([][]byte, 0, len(ids))
	for _, item := range values {
		if s, ok := item.(string); ok {
			events = append(events, []byte(s))
		}
	}

	pipe := redisCache.client.Pipeline()
	pipe.Expire(ctx, completeKey, cacheTTL)
	pipe.Expire(ctx, key, cacheTTL)
	pipe.Expire(ctx, dataKey, cacheTTL)
	_, _ = pipe.Exec(ctx)

	return events, nil
}

func (redisCache *RedisPixelWarsCache) SetHistoryComplete(ctx context.Context, canvasName string) error {
	return redisCache.client.Set(ctx, historyCompleteKey(canvasName), "true", cacheTTL).Err()
}

func (redisCache *RedisPixelWarsCache) IsHistoryComplete(ctx context.Context, canvasName string) (bool, error) {
	val, err := redisCache.client.Exists(ctx, historyCompleteKey(canvasName)).Result()
	if err != nil {
		return false, err
	}
	return val > 0, nil
}

func (redisCache *RedisPixelWarsCache) InvalidateHistory(ctx context.Context, canvasName string) error {
	return redisCache.client.Del(ctx,
		historyKey(canvasName),
		historyDataKey(canvasName),
		historyCompleteKey(canvasName),
	).Err()
}
