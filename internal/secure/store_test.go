package secure

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/veloxapp/authcore/internal/storage"
	"github.com/veloxapp/authcore/pkg/crypto"
)

// fastKDFParams keeps key derivation cheap in tests.
var fastKDFParams = crypto.Argon2Parameters{Time: 1, Memory: 64, Threads: 1, KeyLength: 32}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "secure_test.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	return db
}

func newTestStore(t *testing.T, db *gorm.DB, masterKey string) *Store {
	t.Helper()

	store, err := NewStore(db, []byte(masterKey), WithArgon2Parameters(fastKDFParams))
	require.NoError(t, err)
	return store
}

func TestStoreSetGetRoundTrip(t *testing.T) {
	store := newTestStore(t, newTestDB(t), "master-key")

	require.NoError(t, store.Set("greeting", "hello"))

	value, ok := store.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "hello", value)

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestStoreValuesAreEncryptedAtRest(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db, "master-key")

	require.NoError(t, store.Set("token", "super-secret-value"))

	var item storage.SecureItem
	require.NoError(t, db.Take(&item, "key = ?", "token").Error)
	assert.NotContains(t, item.Ciphertext, "super-secret-value")
}

func TestStoreSetOverwrites(t *testing.T) {
	store := newTestStore(t, newTestDB(t), "master-key")

	require.NoError(t, store.Set("k", "first"))
	require.NoError(t, store.Set("k", "second"))

	value, ok := store.Get("k")
	require.True(t, ok)
	assert.Equal(t, "second", value)
}

func TestStoreUndecryptableRowIsSelfHealed(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db, "master-key")

	corrupt := storage.SecureItem{Key: "broken", Ciphertext: "@@not-ciphertext@@"}
	require.NoError(t, db.Save(&corrupt).Error)

	_, ok := store.Get("broken")
	assert.False(t, ok)

	var count int64
	require.NoError(t, db.Model(&storage.SecureItem{}).Where("key = ?", "broken").Count(&count).Error)
	assert.Zero(t, count, "undecryptable row must be deleted")
}

func TestStoreRotatedMasterKeyReportsAbsent(t *testing.T) {
	db := newTestDB(t)
	oldStore := newTestStore(t, db, "old-master-key")
	require.NoError(t, oldStore.Set("token", "value"))

	newStore := newTestStore(t, db, "new-master-key")
	_, ok := newStore.Get("token")
	assert.False(t, ok, "a rotated key must behave like an empty store, not a crash")
}

func TestStoreDeleteAndClear(t *testing.T) {
	store := newTestStore(t, newTestDB(t), "master-key")

	require.NoError(t, store.Set("a", "1"))
	require.NoError(t, store.Set("b", "2"))

	require.NoError(t, store.Delete("a"))
	_, ok := store.Get("a")
	assert.False(t, ok)

	// Deleting a missing key is fine.
	require.NoError(t, store.Delete("ghost"))

	require.NoError(t, store.Clear())
	_, ok = store.Get("b")
	assert.False(t, ok)
}

func TestNewStoreValidation(t *testing.T) {
	db := newTestDB(t)

	_, err := NewStore(nil, []byte("key"))
	require.Error(t, err)

	_, err = NewStore(db, nil)
	require.Error(t, err)

	_, err = NewStore(db, []byte("key"), WithSalt([]byte("short")), WithArgon2Parameters(fastKDFParams))
	require.Error(t, err)
}
