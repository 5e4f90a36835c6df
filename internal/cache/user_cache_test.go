package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxapp/authcore/internal/models"
)

func newTestUserCache(t *testing.T) *UserCache {
	t.Helper()

	uc, err := NewUserCache(newTestDB(t))
	require.NoError(t, err)
	return uc
}

func testUser() *models.User {
	return &models.User{ID: "u1", Email: "ada@example.com", Name: "Ada"}
}

func TestUserCacheSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	uc := newTestUserCache(t)

	got, err := uc.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "empty cache reports a miss, not an error")

	require.NoError(t, uc.Set(ctx, testUser()))

	got, err = uc.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "ada@example.com", got.Email)
}

func TestUserCacheDiskHitBackfillsMemory(t *testing.T) {
	ctx := context.Background()
	uc := newTestUserCache(t)

	// Simulate a previous process: the profile is on disk but memory is cold.
	data, err := json.Marshal(testUser())
	require.NoError(t, err)
	require.NoError(t, uc.disk.Put(ctx, userCacheKey, string(data), 0))
	require.False(t, uc.memory.Contains(userCacheKey))

	got, err := uc.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.ID)

	assert.True(t, uc.memory.Contains(userCacheKey), "disk hit must warm the memory tier")
}

func TestUserCacheUndecodableDiskEntryDropped(t *testing.T) {
	ctx := context.Background()
	uc := newTestUserCache(t)

	require.NoError(t, uc.disk.Put(ctx, userCacheKey, `"not a user object"`, 0))

	got, err := uc.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err := uc.disk.Contains(ctx, userCacheKey)
	require.NoError(t, err)
	assert.False(t, ok, "undecodable entry must be removed")
}

func TestUserCacheGetOrLoadCachesSuccessfulLoad(t *testing.T) {
	ctx := context.Background()
	uc := newTestUserCache(t)

	calls := 0
	loader := func(context.Context) (*models.User, error) {
		calls++
		return testUser(), nil
	}

	got, err := uc.GetOrLoad(ctx, loader)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, calls)

	got, err = uc.GetOrLoad(ctx, loader)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, calls, "second read must be served from cache")
}

func TestUserCacheGetOrLoadFailedLoadNotCached(t *testing.T) {
	ctx := context.Background()
	uc := newTestUserCache(t)

	boom := errors.New("backend down")
	_, err := uc.GetOrLoad(ctx, func(context.Context) (*models.User, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := uc.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "a failed load must leave the cache untouched")
}

func TestUserCacheClearWipesBothTiers(t *testing.T) {
	ctx := context.Background()
	uc := newTestUserCache(t)

	require.NoError(t, uc.Set(ctx, testUser()))
	require.NoError(t, uc.Clear(ctx))

	assert.False(t, uc.memory.Contains(userCacheKey))
	ok, err := uc.disk.Contains(ctx, userCacheKey)
	require.NoError(t, err)
	assert.False(t, ok)
}
