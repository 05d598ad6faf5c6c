package utils

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStatusStore mirrors digest delivery status into redis so that the
// operational monitoring read path doesn't hit the primary DB. The DB row
// stays the source of truth, a cache miss falls back to it.
type RedisStatusStore struct {
	inner     *redis.Client
	keyParser RedisKeyParser
}

// Mirrored statuses live this long. Monitoring only ever asks about recent
// dates, anything older is answered from the DB.
const digestStatusTTL = 72 * time.Hour

var ctx = context.Background()

func GetRedisStatusStore() (*RedisStatusStore, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT")),
		Password: os.Getenv("REDIS_PASSWD"),
		DB:       0, // use default DB
	})
	_, err := redisClient.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	return &RedisStatusStore{
		inner:     redisClient,
		keyParser: RedisKeyParser{delimiter: "__"},
	}, nil
}

type RedisKeyParser struct {
	delimiter string
}

func (r RedisKeyParser) DecodeDigestKey(key string) (string, string, error) {
	splits := strings.Split(key, r.delimiter)
	if len(splits) != 2 {
		return "", "", fmt.Errorf("invalid key: %s", key)
	}
	return splits[0], splits[1], nil
}

func (r RedisKeyParser) ValidateId(id string) bool {
	return !strings.Contains(id, r.delimiter)
}

func (r RedisKeyParser) EncodeDigestKey(userId string, date string) (string, error) {
	if !r.ValidateId(userId) || !r.ValidateId(date) {
		return "", fmt.Errorf("invalid userId or date")
	}
	return fmt.Sprintf("%s%s%s", userId, r.delimiter, date), nil
}

// SetDigestStatus mirrors the delivery status of (userId, date) into redis.
func (r *RedisStatusStore) SetDigestStatus(userId string, date string, status string) error {
	key, err := r.keyParser.EncodeDigestKey(userId, date)
	if err != nil {
		return err
	}
	return r.inner.Set(ctx, key, status, digestStatusTTL).Err()
}

// GetDigestStatus returns the mirrored status and whether the key was
// present. Absence is not an error, the caller falls back to the DB.
func (r *RedisStatusStore) GetDigestStatus(userId string, date string) (string, bool, error) {
	key, err := r.keyParser.EncodeDigestKey(userId, date)
	if err != nil {
		return "", false, err
	}
	status, err := r.inner.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return status, true, nil
}
