package cache

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/veloxapp/authcore/internal/models"
	"github.com/veloxapp/authcore/pkg/logger"
)

const (
	userCacheKey       = "me"
	userCacheNamespace = "user_profile"
)

// UserCache is the two-tier read-through cache for the signed-in user's
// profile. The memory tier (5m) fronts the disk tier (30m); the TTL asymmetry
// is intentional, since disk survives process restarts and memory does not.
type UserCache struct {
	memory *Memory[string, models.User]
	disk   *Disk
	log    *zap.Logger
}

// NewUserCache wires the two tiers over the shared database.
func NewUserCache(db *gorm.DB) (*UserCache, error) {
	disk, err := NewDisk(db, userCacheNamespace, PolicyLongLived.TTL)
	if err != nil {
		return nil, err
	}
	return &UserCache{
		memory: NewMemory[string, models.User](PolicyDefault),
		disk:   disk,
		log:    logger.WithModule("cache.user"),
	}, nil
}

// Get returns the cached user, trying memory first and backfilling it from a
// disk hit. A nil user with nil error is a cache miss; the caller is expected
// to hit the network.
func (c *UserCache) Get(ctx context.Context) (*models.User, error) {
	if user, ok := c.memory.Get(userCacheKey); ok {
		return &user, nil
	}

	data, ok, err := c.disk.Get(ctx, userCacheKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var user models.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		c.log.Warn("dropping undecodable cached user", zap.Error(err))
		if removeErr := c.disk.Remove(ctx, userCacheKey); removeErr != nil {
			c.log.Warn("removing undecodable cached user failed", zap.Error(removeErr))
		}
		return nil, nil
	}

	c.memory.Put(userCacheKey, user, 0)
	return &user, nil
}

// Set writes the user to both tiers, memory first.
func (c *UserCache) Set(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("cache: user is nil")
	}

	c.memory.Put(userCacheKey, *user, 0)

	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return c.disk.Put(ctx, userCacheKey, string(data), 0)
}

// GetOrLoad returns the cached user or invokes loader on a miss. Only a
// successful, non-nil loader result is materialized into the cache; a failed
// load leaves both tiers untouched.
func (c *UserCache) GetOrLoad(ctx context.Context, loader func(context.Context) (*models.User, error)) (*models.User, error) {
	user, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	loaded, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		return nil, nil
	}

	if err := c.Set(ctx, loaded); err != nil {
		c.log.Warn("caching loaded user failed", zap.Error(err))
	}
	return loaded, nil
}

// Clear wipes both tiers.
func (c *UserCache) Clear(ctx context.Context) error {
	c.memory.Clear()
	return c.disk.Clear(ctx)
}

// EvictExpired sweeps both tiers; used by the janitor.
func (c *UserCache) EvictExpired(ctx context.Context) error {
	c.memory.EvictExpired()
	_, err := c.disk.EvictExpired(ctx)
	return err
}
