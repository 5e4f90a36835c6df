package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config describes the on-device SQLite database used for durable state.
type Config struct {
	// Path is the database file location. Empty or ":memory:" opens an
	// in-memory database (tests, ephemeral sessions).
	Path string
}

// SecureItem is an encrypted key-value row. Values are AES-256-GCM
// ciphertexts produced by the secure store; the key column is plaintext.
type SecureItem struct {
	Key        string `gorm:"primaryKey;size:128"`
	Ciphertext string
	UpdatedAt  time.Time
}

// CacheDocument holds one serialized cache namespace as a single blob.
// The disk cache tier rewrites the whole document on every update.
type CacheDocument struct {
	Namespace string `gorm:"primaryKey;size:64"`
	Body      []byte
	UpdatedAt time.Time
}

// Open initialises the SQLite database and migrates the client schema.
func Open(cfg Config) (*gorm.DB, error) {
	dsn := buildDSN(cfg)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}

	if err := enableForeignKeys(db); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&SecureItem{}, &CacheDocument{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func buildDSN(cfg Config) string {
	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "", strings.EqualFold(path, ":memory:"):
		return "file::memory:?cache=shared&_foreign_keys=1"
	default:
		if err := ensureDir(path); err == nil {
			return fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", filepath.ToSlash(path))
		}
		return fmt.Sprintf("file:%s?_foreign_keys=1", filepath.ToSlash(path))
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o700)
}

func enableForeignKeys(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil && err != sql.ErrConnDone {
		return err
	}
	return nil
}
