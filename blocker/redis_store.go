package blocker

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/toolink/appbridge/channel"
)

// redisStore implements the Store interface with one Redis hash per app
// group, so the main app sees the states extensions report from other
// processes.
type redisStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisStore creates a store backed by the hash
// appbridge:v1:<namespace>:extensions.
func NewRedisStore(client redis.Cmdable, namespace string) Store {
	return &redisStore{
		client: client,
		key:    StoreKey(namespace),
	}
}

// StoreKey returns the Redis hash holding the extension states of namespace.
func StoreKey(namespace string) string {
	return fmt.Sprintf("%s:%s:extensions", channel.KeyPrefix, namespace)
}

func (s *redisStore) SetEnabled(ctx context.Context, bundleID string, enabled bool) error {
	if bundleID == "" {
		return ErrEmptyBundleID
	}
	value := valueDisabled
	if enabled {
		value = valueEnabled
	}
	if err := s.client.HSet(ctx, s.key, bundleID, value).Err(); err != nil {
		log.Error().Err(err).Str("key", s.key).Str("bundle_id", bundleID).Msg("failed to record extension state")
		return fmt.Errorf("blocker: hset %s: %w", s.key, err)
	}
	log.Debug().Str("key", s.key).Str("bundle_id", bundleID).Bool("enabled", enabled).Msg("extension state recorded")
	return nil
}

func (s *redisStore) Enabled(ctx context.Context, bundleID string) (bool, bool, error) {
	value, err := s.client.HGet(ctx, s.key, bundleID).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("blocker: hget %s: %w", s.key, err)
	}
	return s.parse(bundleID, value), true, nil
}

func (s *redisStore) All(ctx context.Context) (map[string]bool, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("blocker: hgetall %s: %w", s.key, err)
	}
	out := make(map[string]bool, len(values))
	for id, value := range values {
		out[id] = s.parse(id, value)
	}
	return out, nil
}

// parse treats anything but "1" as disabled.
func (s *redisStore) parse(bundleID, value string) bool {
	switch value {
	case valueEnabled:
		return true
	case valueDisabled:
		return false
	default:
		log.Warn().Str("key", s.key).Str("bundle_id", bundleID).Str("value", value).Msg("unexpected extension state value, treating as disabled")
		return false
	}
}
