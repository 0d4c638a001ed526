package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OrderStatusEntry — кэшированный статус заказа.
type OrderStatusEntry struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCache — write-through кэш статусов заказов поверх Redis.
// Кэш необязателен: при nil-клиенте все операции деградируют в no-op,
// а чтение статуса идёт напрямую в хранилище.
type StatusCache struct {
	rdb *redis.Client
}

// NewStatusCache создаёт кэш статусов. client может быть nil.
func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{rdb: client}
}

// Set записывает статус заказа с TTL.
func (c *StatusCache) Set(ctx context.Context, orderID, status string, updatedAt time.Time) error {
	if c == nil || c.rdb == nil {
		return nil
	}

	entry := OrderStatusEntry{Status: status, UpdatedAt: updatedAt.UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal status entry: %w", err)
	}

	key := fmt.Sprintf(KeyOrderStatus, orderID)
	return c.rdb.Set(ctx, key, data, TTLStatusCache).Err()
}

// Get возвращает закэшированный статус; (entry, false, nil) при промахе.
func (c *StatusCache) Get(ctx context.Context, orderID string) (OrderStatusEntry, bool, error) {
	if c == nil || c.rdb == nil {
		return OrderStatusEntry{}, false, nil
	}

	key := fmt.Sprintf(KeyOrderStatus, orderID)
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return OrderStatusEntry{}, false, nil
		}
		return OrderStatusEntry{}, false, fmt.Errorf("get status entry: %w", err)
	}

	var entry OrderStatusEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return OrderStatusEntry{}, false, fmt.Errorf("unmarshal status entry: %w", err)
	}

	return entry, true, nil
}

// Invalidate убирает запись из кэша (после удаления заказа).
func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	key := fmt.Sprintf(KeyOrderStatus, orderID)
	return c.rdb.Del(ctx, key).Err()
}
