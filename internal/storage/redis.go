package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"pricewatch/internal/config"
	"pricewatch/internal/model"
)

type redisSample struct {
	AssetID   string    `json:"asset_id"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"ts"`
}

// RedisStore mirrors samples into a capped list per asset so other processes can
// read recent prices without touching PostgreSQL.
type RedisStore struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// NewRedisClient dials redis and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisStore wraps client. maxLen caps each asset list.
func NewRedisStore(client *redis.Client, prefix string, maxLen int) *RedisStore {
	if prefix == "" {
		prefix = "pricewatch:"
	}
	if maxLen <= 0 {
		maxLen = 24
	}
	return &RedisStore{client: client, prefix: prefix, maxLen: int64(maxLen)}
}

func (r *RedisStore) key(assetID string) string {
	return r.prefix + "samples:" + assetID
}

// Append pushes sample and trims the list to the newest maxLen entries.
func (r *RedisStore) Append(ctx context.Context, sample model.Sample) error {
	payload, err := json.Marshal(redisSample{AssetID: sample.AssetID, Price: sample.Price, Timestamp: sample.Timestamp})
	if err != nil {
		return fmt.Errorf("%w: encode sample: %v", ErrPersistence, err)
	}

	key := r.key(sample.AssetID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, -r.maxLen, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: redis append %s: %v", ErrPersistence, sample.AssetID, err)
	}
	return nil
}

// Recent returns up to limit of the newest mirrored samples, oldest first.
func (r *RedisStore) Recent(ctx context.Context, assetID string, limit int) ([]model.Sample, error) {
	if limit <= 0 {
		return []model.Sample{}, nil
	}
	raw, err := r.client.LRange(ctx, r.key(assetID), -int64(limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", assetID, err)
	}

	samples := make([]model.Sample, 0, len(raw))
	for _, item := range raw {
		var rs redisSample
		if err := json.Unmarshal([]byte(item), &rs); err != nil {
			return nil, fmt.Errorf("decode redis sample: %w", err)
		}
		samples = append(samples, model.Sample{AssetID: rs.AssetID, Price: rs.Price, Timestamp: rs.Timestamp.UTC()})
	}
	return samples, nil
}

// Close releases the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ SampleStore = (*RedisStore)(nil)
