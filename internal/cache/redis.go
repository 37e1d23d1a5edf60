package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const redisKeyPrefix = "contentguard:"

// Redis is a cross-request cache provider backed by a Redis server. Values
// are JSON encoded, so callers get back generic decoded values
// (map[string]interface{}, []interface{}, float64, string, bool) rather than
// their original Go types; the access core only stores id slices and
// booleans, which round-trip cleanly.
//
// Entries carry no TTL. Correctness relies on the core flushing the cache
// synchronously on every group mutation.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed provider and verifies connectivity.
func NewRedis(addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// Get returns the cached value for key, if present.
func (r *Redis) Get(key Key) (interface{}, bool) {
	data, err := r.client.Get(context.Background(), redisKeyPrefix+key.String()).Result()
	if err != nil {
		return nil, false
	}

	var value interface{}
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		logrus.WithError(err).WithField("key", key.String()).Warn("Discarding undecodable cache entry")
		return nil, false
	}
	return value, true
}

// Add stores value under key.
func (r *Redis) Add(key Key, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		logrus.WithError(err).WithField("key", key.String()).Warn("Failed to encode cache entry")
		return
	}
	if err := r.client.Set(context.Background(), redisKeyPrefix+key.String(), data, 0).Err(); err != nil {
		logrus.WithError(err).Debug("Redis cache add failed")
	}
}

// Delete removes a single entry.
func (r *Redis) Delete(key Key) {
	r.client.Del(context.Background(), redisKeyPrefix+key.String())
}

// Flush removes every contentguard entry. Only keys under the contentguard
// prefix are touched so a shared Redis database is not wiped.
func (r *Redis) Flush() {
	ctx := context.Background()
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logrus.WithError(err).Error("Redis cache flush scan failed")
		return
	}
	if len(keys) > 0 {
		r.client.Del(ctx, keys...)
	}
	logrus.WithField("entries", len(keys)).Debug("Redis cache flushed")
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
