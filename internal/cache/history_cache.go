package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"docchat/internal/model"
)

// HistoryCache keeps the recent-message window used for prompt assembly.
// Writers mark the document dirty and drop the window; readers skip the
// cache while the dirty marker is alive so a concurrent refill cannot
// resurrect a stale window.
type HistoryCache struct {
	client         *redisv9.Client
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewHistoryCache(client *redisv9.Client, historyTTL, dirtyMarkerTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &HistoryCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

// cachedHistory is the value stored under a document's history key. One key
// per document keeps invalidation to a single DEL.
type cachedHistory struct {
	Window   int             `json:"window"`
	Messages []model.Message `json:"messages"`
}

// GetHistory returns the cached window for a document. A window of a
// different size counts as a miss.
func (c *HistoryCache) GetHistory(ctx context.Context, documentID uint, window int) ([]model.Message, bool, error) {
	raw, err := c.client.Get(ctx, c.historyKey(documentID)).Result()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	var cached cachedHistory
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	if cached.Window != window {
		return nil, false, nil
	}
	return cached.Messages, true, nil
}

func (c *HistoryCache) SetHistory(ctx context.Context, documentID uint, window int, messages []model.Message) error {
	payload, err := json.Marshal(cachedHistory{Window: window, Messages: messages})
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.historyKey(documentID), payload, c.historyTTL).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

// Invalidate marks the document dirty and removes its cached window.
func (c *HistoryCache) Invalidate(ctx context.Context, documentID uint) error {
	if err := c.MarkDirty(ctx, documentID); err != nil {
		return err
	}
	return c.DeleteHistory(ctx, documentID)
}

func (c *HistoryCache) DeleteHistory(ctx context.Context, documentID uint) error {
	if err := c.client.Del(ctx, c.historyKey(documentID)).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) MarkDirty(ctx context.Context, documentID uint) error {
	if err := c.client.Set(ctx, c.dirtyKey(documentID), "1", c.dirtyMarkerTTL).Err(); err != nil {
		return fmt.Errorf("redis set dirty marker failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) IsDirty(ctx context.Context, documentID uint) (bool, error) {
	exists, err := c.client.Exists(ctx, c.dirtyKey(documentID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func (c *HistoryCache) historyKey(documentID uint) string {
	return fmt.Sprintf("docchat:history:%d", documentID)
}

func (c *HistoryCache) dirtyKey(documentID uint) string {
	return fmt.Sprintf("docchat:history:dirty:%d", documentID)
}
