package secure

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/veloxapp/authcore/internal/storage"
	"github.com/veloxapp/authcore/pkg/crypto"
	"github.com/veloxapp/authcore/pkg/logger"
)

const saltLength = 16

// Store is a synchronous encrypted key-value store backed by the local
// database. Values are sealed with AES-256-GCM under a key derived from the
// device master key via Argon2id.
//
// A row that fails to decrypt (corrupted ciphertext, rotated master key) is
// deleted and reported as absent. Losing a cached credential forces a
// re-login; a store that can never be read again would lock the user out.
type Store struct {
	db  *gorm.DB
	key []byte
	log *zap.Logger
}

// Option configures the Store.
type Option func(*config)

type config struct {
	salt   []byte
	params crypto.Argon2Parameters
}

// WithSalt overrides the salt used for key derivation.
func WithSalt(salt []byte) Option {
	cp := make([]byte, len(salt))
	copy(cp, salt)
	return func(cfg *config) {
		cfg.salt = cp
	}
}

// WithArgon2Parameters overrides the key derivation cost factors.
func WithArgon2Parameters(params crypto.Argon2Parameters) Option {
	return func(cfg *config) {
		cfg.params = params
	}
}

// NewStore derives the encryption key from masterKey and returns a ready store.
func NewStore(db *gorm.DB, masterKey []byte, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("secure: database is required")
	}
	if len(masterKey) == 0 {
		return nil, errors.New("secure: master key is required")
	}

	cfg := config{params: crypto.DefaultArgon2Params()}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(cfg.salt) == 0 {
		cfg.salt = deriveSalt(masterKey)
	} else if len(cfg.salt) < saltLength {
		return nil, fmt.Errorf("secure: salt must be at least %d bytes (got %d)", saltLength, len(cfg.salt))
	}

	key, err := crypto.DeriveKeyArgon2id(masterKey, cfg.salt, cfg.params)
	if err != nil {
		return nil, fmt.Errorf("secure: derive key: %w", err)
	}

	return &Store{
		db:  db,
		key: key,
		log: logger.WithModule("secure"),
	}, nil
}

// Get returns the decrypted value for key. Missing keys, read failures, and
// undecryptable rows all report absent; undecryptable rows are removed so the
// store heals itself.
func (s *Store) Get(key string) (string, bool) {
	var item storage.SecureItem
	err := s.db.Take(&item, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false
	}
	if err != nil {
		s.log.Warn("secure store read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}

	plaintext, err := crypto.Decrypt(item.Ciphertext, s.key)
	if err != nil {
		s.log.Warn("secure store entry undecryptable, removing", zap.String("key", key))
		_ = s.Delete(key)
		return "", false
	}

	return string(plaintext), true
}

// Set encrypts and upserts the value for key.
func (s *Store) Set(key, value string) error {
	ciphertext, err := crypto.Encrypt([]byte(value), s.key)
	if err != nil {
		return fmt.Errorf("secure: encrypt %q: %w", key, err)
	}

	item := storage.SecureItem{Key: key, Ciphertext: ciphertext}
	return s.db.Save(&item).Error
}

// Delete removes the entry for key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	return s.db.Delete(&storage.SecureItem{}, "key = ?", key).Error
}

// Clear removes every entry in the store.
func (s *Store) Clear() error {
	return s.db.Where("1 = 1").Delete(&storage.SecureItem{}).Error
}

func deriveSalt(masterKey []byte) []byte {
	sum := sha256.Sum256(masterKey)
	return sum[:saltLength]
}
