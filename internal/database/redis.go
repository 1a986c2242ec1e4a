package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lumenview/wallet-backend/internal/config"
)

// NewRedisClient creates a new Redis client using the provided cache
// configuration. The backing server must have the RedisTimeSeries module
// loaded; the price cache stores every token's series through TS.* commands.
//
// The function tests the connection with a PING command before returning.
// Returns an error if the connection fails or if PING returns an error.
func NewRedisClient(cacheConfig config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cacheConfig.Host, cacheConfig.Port),
		Password: cacheConfig.Password,
		DB:       cacheConfig.DB,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
