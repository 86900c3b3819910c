package redis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const embeddingKeyPrefix = "embedding:"

// EmbeddingCache stores query vectors as little-endian float32 blobs.
type EmbeddingCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	slog.Info("redis_connected", "addr", addr)
	return client, nil
}

func NewEmbeddingCache(client *redis.Client, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{client: client, ttl: ttl}
}

func (c *EmbeddingCache) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, embeddingKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get embedding: %w", err)
	}
	vector, err := decodeVector(data)
	if err != nil {
		return nil, false, err
	}
	return vector, true, nil
}

func (c *EmbeddingCache) SetEmbedding(ctx context.Context, key string, vector []float32) error {
	if err := c.client.Set(ctx, embeddingKeyPrefix+key, encodeVector(vector), c.ttl).Err(); err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	return nil
}

func encodeVector(vector []float32) []byte {
	out := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("decode embedding: %d bytes is not a float32 vector", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out, nil
}
