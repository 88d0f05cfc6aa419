package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"form-payment-svc/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func InitRedis(cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.Addr()))
	return rdb, nil
}

func formKey(id string) string {
	return fmt.Sprintf("form:%s", id)
}

func GetForm(ctx context.Context, rdb *redis.Client, id string) ([]byte, error) {
	return rdb.Get(ctx, formKey(id)).Bytes()
}

func SetForm(ctx context.Context, rdb *redis.Client, id string, form interface{}, ttl time.Duration) error {
	data, err := json.Marshal(form)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, formKey(id), data, ttl).Err()
}

func DeleteForm(ctx context.Context, rdb *redis.Client, id string) error {
	return rdb.Del(ctx, formKey(id)).Err()
}
