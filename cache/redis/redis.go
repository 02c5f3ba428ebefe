package redis

import (
	"context"
	"crypto/tls"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/lmarques/sigilo/cache"
)

type RedisSigiloCache struct {
	client redis.UniversalClient
}

func NewRedisSigiloCache(ctx context.Context, devMode bool, redisEndpoint string) (*RedisSigiloCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &RedisSigiloCache{client: client}, nil
}

func (redisCache *RedisSigiloCache) Publish(ctx context.Context, channel string, message []byte) error {
	if err := redisCache.client.Publish(ctx, channel, message).Err(); err != nil {
		return err
	}
	return nil
}

func (redisCache *RedisSigiloCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	// Ensure subscription is established
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		log.Printf("Pubsub channel closed: %s", channel)
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
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Redis keys carry hash tags so a chat's three keys land in one cluster slot
func buildChatKey(chatId string) string {
	return "chat:{" + chatId + "}"
}

func buildChatDataKey(chatId string) string {
	return "chat:{" + chatId + "}:data"
}

func buildChatCompleteKey(chatId string) string {
	return "chat:{" + chatId + "}:complete"
}

const cacheTTL = 10 * time.Minute

// maxCachedMessages bounds the hot window kept per chat
const maxCachedMessages = 200

// A chat's recent messages live in two structures. The ZSet ("chat:{id}")
// holds message keys scored by creation time, which keeps chronological order
// and allows O(1) removal by key. The Hash ("chat:{id}:data") maps message
// key to the serialized message, so an edit or soft-delete is just an HSet
// overwrite of the same field.
func (redisCache *RedisSigiloCache) AddMessage(ctx context.Context, chatId string, messageKey string, score int64, messageData []byte) error {
	key := buildChatKey(chatId)
	dataKey := buildChatDataKey(chatId)
	completeKey := buildChatCompleteKey(chatId)

	pipe := redisCache.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: messageKey})
	pipe.HSet(ctx, dataKey, messageKey, messageData)
	pipe.Expire(ctx, completeKey, cacheTTL)
	pipe.Expire(ctx, key, cacheTTL)
	pipe.Expire(ctx, dataKey, cacheTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return err
	}

	redisCache.trimToWindow(ctx, chatId)
	return nil
}

func (redisCache *RedisSigiloCache) AddMessagesBatch(ctx context.Context, chatId string, messages []cache.MessageCacheItem) error {
	if len(messages) == 0 {
		return nil
	}

	key := buildChatKey(chatId)
	dataKey := buildChatDataKey(chatId)
	completeKey := buildChatCompleteKey(chatId)

	zMembers := make([]redis.Z, len(messages))
	// Flat key, value, key, value... list is the cheapest form for HSet
	hValues := make([]interface{}, len(messages)*2)

	for i, m := range messages {
		zMembers[i] = redis.Z{
			Score:  float64(m.Score),
			Member: m.MessageKey,
		}
		hValues[i*2] = m.MessageKey
		hValues[i*2+1] = m.Data
	}

	pipe := redisCache.client.Pipeline()
	pipe.ZAdd(ctx, key, zMembers...)
	pipe.HSet(ctx, dataKey, hValues...)
	pipe.Expire(ctx, completeKey, cacheTTL)
	pipe.Expire(ctx, key, cacheTTL)
	pipe.Expire(ctx, dataKey, cacheTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return err
	}

	redisCache.trimToWindow(ctx, chatId)
	return nil
}

// trimToWindow evicts everything older than the newest maxCachedMessages
// entries, keeping the data Hash in step with the ZSet index. Best effort.
func (redisCache *RedisSigiloCache) trimToWindow(ctx context.Context, chatId string) {
	key := buildChatKey(chatId)
	dataKey := buildChatDataKey(chatId)

	evicted, err := redisCache.client.ZRange(ctx, key, 0, -int64(maxCachedMessages)-1).Result()
	if err != nil || len(evicted) == 0 {
		return
	}

	members := make([]interface{}, len(evicted))
	for i, m := range evicted {
		members[i] = m
	}

	pipe := redisCache.client.Pipeline()
	pipe.ZRem(ctx, key, members...)
	pipe.HDel(ctx, dataKey, evicted...)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("Failed to trim message cache for chat %s: %v", chatId, err)
	}
}

func (redisCache *RedisSigiloCache) GetMessages(ctx context.Context, chatId string) ([][]byte, error) {
	key := buildChatKey(chatId)
	dataKey := buildChatDataKey(chatId)
	completeKey := buildChatCompleteKey(chatId)

	// 1. Newest message keys from the ZSet, in score order
	ids, err := redisCache.client.ZRange(ctx, key, -maxCachedMessages, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return [][]byte{}, nil
	}

	// 2. Fetch data from Hash
	dataMap, err := redisCache.client.HMGet(ctx, dataKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	// 3. Assemble result
	messages := make([][]byte, 0, len(ids))
	for _, item := range dataMap {
		if item == nil {
			continue
		}
		if s, ok := item.(string); ok {
			messages = append(messages, []byte(s))
		}
	}

	// Refresh TTL
	pipe := redisCache.client.Pipeline()
	pipe.Expire(ctx, completeKey, cacheTTL)
	pipe.Expire(ctx, key, cacheTTL)
	pipe.Expire(ctx, dataKey, cacheTTL)
	_, _ = pipe.Exec(ctx)

	return messages, nil
}

func (redisCache *RedisSigiloCache) SetChatComplete(ctx context.Context, chatId string) error {
	completeKey := buildChatCompleteKey(chatId)
	return redisCache.client.Set(ctx, completeKey, "true", cacheTTL).Err()
}

func (redisCache *RedisSigiloCache) IsChatComplete(ctx context.Context, chatId string) (bool, error) {
	completeKey := buildChatCompleteKey(chatId)
	val, err := redisCache.client.Exists(ctx, completeKey).Result()
	if err != nil {
		return false, err
	}
	return val > 0, nil
}

func (redisCache *RedisSigiloCache) InvalidateChats(ctx context.Context, chatIds []string) error {
	if len(chatIds) == 0 {
		return nil
	}

	// Keys with different hash tags land in different cluster slots, so each
	// chat's trio is deleted in its own call.
	for _, chatId := range chatIds {
		key := buildChatKey(chatId)
		dataKey := buildChatDataKey(chatId)
		completeKey := buildChatCompleteKey(chatId)

		if err := redisCache.client.Del(ctx, key, dataKey, completeKey).Err(); err != nil {
			return err
		}
	}

	return nil
}
