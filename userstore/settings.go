package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/blufax/authcore"
)

// SettingsStore implements authcore.SettingsProvider on Redis so admin
// changes apply without a restart. Missing keys fall back to the defaults
// given at construction.
type SettingsStore struct {
	redis    redis.UniversalClient
	key      string
	defaults authcore.Settings
}

func NewSettingsStore(redisClient redis.UniversalClient, prefix string, defaults authcore.Settings) *SettingsStore {
	if prefix == "" {
		prefix = "aset"
	}
	return &SettingsStore{redis: redisClient, key: prefix + ":settings", defaults: defaults}
}

// Settings implements authcore.SettingsProvider.
func (s *SettingsStore) Settings(ctx context.Context) (authcore.Settings, error) {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return s.defaults, nil
		}
		return authcore.Settings{}, fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	var settings authcore.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return authcore.Settings{}, fmt.Errorf("%w: corrupt settings record: %v", ErrStoreBackend, err)
	}
	return settings, nil
}

// Update persists a full settings snapshot.
func (s *SettingsStore) Update(ctx context.Context, settings authcore.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	if err := s.redis.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	return nil
}
