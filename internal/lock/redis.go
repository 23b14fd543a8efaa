package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only when the caller still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared across replicas via SET NX PX
type Redis struct {
	client *redis.Client
	prefix string
	logger *zap.SugaredLogger
}

// NewRedis creates a new Redis-backed locker
func NewRedis(client *redis.Client, logger *zap.SugaredLogger) *Redis {
	return &Redis{client: client, prefix: "pipeline:lock:", logger: logger}
}

// NewRedisClient parses url and verifies connectivity
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (l *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, models.ErrAlreadyProcessing
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err(); err != nil {
			l.logger.Warnw("Failed to release lock", "key", key, "error", err)
		}
	}, nil
}
