package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const historyTTL = 24 * time.Hour

// HistoryCache is a read-through cache of a conversation's ordered message
// list. Every save invalidates the entry, so a hit always reflects the full
// persisted history. All failures degrade to the database and are only
// logged; a nil cache (or nil client) is a no-op.
type HistoryCache struct {
	client *redis.Client
}

func NewHistoryCache(client *redis.Client) *HistoryCache {
	return &HistoryCache{client: client}
}

func historyKey(conversationID string) string {
	return fmt.Sprintf("chat:history:%s", conversationID)
}

func (c *HistoryCache) Get(ctx context.Context, conversationID string) ([]Message, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, historyKey(conversationID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("history cache read failed")
		}
		return nil, false
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("history cache entry corrupt")
		return nil, false
	}
	return msgs, true
}

func (c *HistoryCache) Set(ctx context.Context, conversationID string, msgs []Message) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, historyKey(conversationID), data, historyTTL).Err(); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("history cache write failed")
	}
}

func (c *HistoryCache) Invalidate(ctx context.Context, conversationID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, historyKey(conversationID)).Err(); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("history cache invalidation failed")
	}
}
