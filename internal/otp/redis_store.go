package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeKeyPrefix = "otp:challenge:"

// RedisStore keeps challenge state in Redis so it survives process restarts
// and is shared across instances. Keys carry a TTL slightly beyond the
// challenge expiry; expiry semantics themselves live in the gate.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a Redis-backed challenge store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, challenge Challenge, ttl time.Duration) error {
	payload, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("encode challenge: %w", err)
	}
	return s.client.Set(ctx, challengeKeyPrefix+challenge.ID, payload, ttl+time.Minute).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (Challenge, error) {
	payload, err := s.client.Get(ctx, challengeKeyPrefix+id).Result()
	if err == redis.Nil {
		return Challenge{}, ErrChallengeNotFound
	}
	if err != nil {
		return Challenge{}, err
	}
	var challenge Challenge
	if err := json.Unmarshal([]byte(payload), &challenge); err != nil {
		return Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	return challenge, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, challengeKeyPrefix+id).Err()
}
