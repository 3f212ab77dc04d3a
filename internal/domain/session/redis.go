package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/config"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/resilience"
	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "webterm:session:"

// RedisRepository stores zstd-compressed JSON snapshots in Redis. Every call
// goes through a circuit breaker so an unavailable Redis fails fast.
type RedisRepository struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	breaker *resilience.Breaker
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewRedisRepository connects to Redis and verifies the connection
func NewRedisRepository(ctx context.Context, cfg config.RedisConfig) (*RedisRepository, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisRepositoryFromClient(client, cfg.Prefix, cfg.TTL)
}

// NewRedisRepositoryFromClient wraps an existing client
func NewRedisRepositoryFromClient(client *redis.Client, prefix string, ttl time.Duration) (*RedisRepository, error) {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &RedisRepository{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		breaker: resilience.New("redis-sessions", resilience.Settings{
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (r *RedisRepository) key(id string) string {
	return r.prefix + id
}

// Breaker exposes the repository's circuit breaker
func (r *RedisRepository) Breaker() *resilience.Breaker {
	return r.breaker
}

func (r *RedisRepository) Save(ctx context.Context, snap *Snapshot) error {
	data, err := sonic.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", snap.ID, err)
	}
	compressed := r.encoder.EncodeAll(data, nil)

	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := r.client.Set(ctx, r.key(snap.ID), compressed, r.ttl).Err(); err != nil {
			return fmt.Errorf("save session %s: %w", snap.ID, err)
		}
		return nil
	})
}

func (r *RedisRepository) Load(ctx context.Context, id string) (*Snapshot, error) {
	data, err := resilience.Call(ctx, r.breaker, func(ctx context.Context) ([]byte, error) {
		data, err := r.client.Get(ctx, r.key(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			// a miss is a healthy answer
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if data == nil {
		return nil, ErrNotFound
	}

	raw, err := r.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress session %s: %w", id, err)
	}
	var snap Snapshot
	if err := sonic.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &snap, nil
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.client.Del(ctx, r.key(id)).Err()
	})
}

// Close releases the codec and the Redis client
func (r *RedisRepository) Close() error {
	r.decoder.Close()
	if err := r.encoder.Close(); err != nil {
		_ = r.client.Close()
		return err
	}
	return r.client.Close()
}
