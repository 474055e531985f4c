package blob

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/sujalbistaa/rankfeed/internal/models"
)

const redisKeyPrefix = "blob:"

// RedisStore keeps blobs as plain keys. Entries never expire; content ids
// are immutable.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (s *RedisStore) Put(ctx context.Context, data []byte) (string, error) {
	id := ContentID(data)
	if id == models.EmptyRef {
		return id, nil
	}
	if err := s.client.SetNX(ctx, redisKey(id), data, 0).Err(); err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) ([]byte, error) {
	if id == models.EmptyRef {
		return []byte{}, nil
	}
	if err := checkID("Get", id); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound("Get")
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
