package credentials

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/comfortcloud"
)

// DefaultRedisKey is the key used when none is configured.
const DefaultRedisKey = "comfortcloud:session"

// RedisStore keeps the session under a single Redis key. The entry carries
// no TTL: the refresh token inside it outlives the access token expiry, so
// Redis must not expire the session on its own.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ comfortcloud.SessionStore = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed session store. An empty key selects
// DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{
		client: client,
		key:    key,
	}
}

// Load returns the stored session, or (nil, nil) when the key is absent.
func (r *RedisStore) Load(ctx context.Context) (*comfortcloud.Session, error) {
	val, err := r.client.Get(ctx, r.key).Result()
	if err == redis.Nil {
		return nil, nil // not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session comfortcloud.Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("failed to parse stored session: %w", err)
	}

	return &session, nil
}

// Save stores the session under the configured key
func (r *RedisStore) Save(ctx context.Context, session *comfortcloud.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear deletes the session key
func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
