package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"realty_bot/internal/model"
)

const fingerprintKeyPrefix = "realty:fp:"

// RedisIndex is an Index kept in Redis. Every fingerprint expires after the
// configured TTL.
type RedisIndex struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIndex connects to Redis and verifies the connection.
func NewRedisIndex(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisIndex, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisIndex{client: rdb, ttl: ttl}, nil
}

// LookupFingerprint returns the first delivery recorded for hash.
func (r *RedisIndex) LookupFingerprint(ctx context.Context, hash string) (model.ContentFingerprint, bool, error) {
	data, err := r.client.Get(ctx, fingerprintKeyPrefix+hash).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.ContentFingerprint{}, false, nil
	}
	if err != nil {
		return model.ContentFingerprint{}, false, fmt.Errorf("get fingerprint: %w", err)
	}
	var fp model.ContentFingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		return model.ContentFingerprint{}, false, fmt.Errorf("decode fingerprint: %w", err)
	}
	return fp, true, nil
}

// RecordFingerprint stores fp with SETNX so the first writer wins.
func (r *RedisIndex) RecordFingerprint(ctx context.Context, fp model.ContentFingerprint) (bool, error) {
	data, err := json.Marshal(fp)
	if err != nil {
		return false, fmt.Errorf("encode fingerprint: %w", err)
	}
	created, err := r.client.SetNX(ctx, fingerprintKeyPrefix+fp.Hash, data, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx fingerprint: %w", err)
	}
	return created, nil
}

// Close closes the Redis connection.
func (r *RedisIndex) Close() error {
	return r.client.Close()
}
