package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// clientTimeout ограничивает каждую операцию с кэшем: кэш вспомогательный,
// медленный Redis не должен тормозить обработку заказов.
const clientTimeout = 2 * time.Second

// New создаёт Redis-клиент для кэша статусов заказов.
func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  clientTimeout,
		ReadTimeout:  clientTimeout,
		WriteTimeout: clientTimeout,
	})
}

// Exists проверяет наличие ключа.
func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}
