package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/veloxapp/authcore/internal/storage"
	"github.com/veloxapp/authcore/pkg/logger"
	"github.com/veloxapp/authcore/pkg/metrics"
)

// diskEntry is the serialized form of one cached value inside a namespace
// document.
type diskEntry struct {
	Data      string    `json:"data"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (e diskEntry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Disk is the durable cache tier. Each logical namespace is stored as a
// single JSON document; every mutation is an atomic read-modify-write of the
// whole document inside a transaction, so readers never observe a partial
// write. A document that fails to decode degrades to an empty namespace;
// a corrupted cache must never crash the caller.
type Disk struct {
	db        *gorm.DB
	namespace string
	ttl       time.Duration
	log       *zap.Logger
	now       func() time.Time
}

// NewDisk builds a disk tier for one namespace with the given default TTL.
func NewDisk(db *gorm.DB, namespace string, ttl time.Duration) (*Disk, error) {
	if db == nil {
		return nil, errors.New("cache: database is required")
	}
	if namespace == "" {
		return nil, errors.New("cache: namespace is required")
	}
	if ttl <= 0 {
		ttl = PolicyLongLived.TTL
	}
	return &Disk{
		db:        db,
		namespace: namespace,
		ttl:       ttl,
		log:       logger.WithModule("cache.disk"),
		now:       time.Now,
	}, nil
}

// Get returns the serialized value for key. Expired entries are evicted as a
// side effect and reported as a miss.
func (d *Disk) Get(ctx context.Context, key string) (string, bool, error) {
	entries, err := d.load(d.db.WithContext(ctx))
	if err != nil {
		return "", false, err
	}

	entry, ok := entries[key]
	if !ok {
		metrics.CacheOps.WithLabelValues("disk", "miss").Inc()
		return "", false, nil
	}
	if entry.expired(d.now()) {
		metrics.CacheOps.WithLabelValues("disk", "miss").Inc()
		// Lazy eviction; a failed delete only means the entry expires again later.
		if err := d.Remove(ctx, key); err != nil {
			d.log.Warn("evicting expired entry failed", zap.String("namespace", d.namespace), zap.Error(err))
		}
		return "", false, nil
	}

	metrics.CacheOps.WithLabelValues("disk", "hit").Inc()
	return entry.Data, true, nil
}

// Contains reports whether key holds a live entry.
func (d *Disk) Contains(ctx context.Context, key string) (bool, error) {
	_, ok, err := d.Get(ctx, key)
	return ok, err
}

// Put stores the serialized value under key. ttl <= 0 uses the namespace default.
func (d *Disk) Put(ctx context.Context, key, data string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = d.ttl
	}
	expiresAt := d.now().Add(ttl)

	return d.update(ctx, func(entries map[string]diskEntry) {
		entries[key] = diskEntry{Data: data, ExpiresAt: expiresAt}
	})
}

// Remove deletes the entry for key.
func (d *Disk) Remove(ctx context.Context, key string) error {
	return d.update(ctx, func(entries map[string]diskEntry) {
		delete(entries, key)
	})
}

// Clear drops the whole namespace document.
func (d *Disk) Clear(ctx context.Context) error {
	return d.db.WithContext(ctx).
		Delete(&storage.CacheDocument{}, "namespace = ?", d.namespace).Error
}

// EvictExpired removes every expired entry and returns how many were dropped.
func (d *Disk) EvictExpired(ctx context.Context) (int, error) {
	now := d.now()
	evicted := 0
	err := d.update(ctx, func(entries map[string]diskEntry) {
		for key, entry := range entries {
			if entry.expired(now) {
				delete(entries, key)
				evicted++
			}
		}
	})
	return evicted, err
}

// update runs a full-document read-modify-write inside a transaction.
func (d *Disk) update(ctx context.Context, mutate func(map[string]diskEntry)) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entries, err := d.load(tx)
		if err != nil {
			return err
		}

		mutate(entries)

		body, err := json.Marshal(entries)
		if err != nil {
			return err
		}

		doc := storage.CacheDocument{Namespace: d.namespace, Body: body}
		return tx.Save(&doc).Error
	})
}

func (d *Disk) load(tx *gorm.DB) (map[string]diskEntry, error) {
	var doc storage.CacheDocument
	err := tx.Take(&doc, "namespace = ?", d.namespace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return map[string]diskEntry{}, nil
	}
	if err != nil {
		return nil, err
	}

	entries := map[string]diskEntry{}
	if len(doc.Body) > 0 {
		if err := json.Unmarshal(doc.Body, &entries); err != nil {
			d.log.Warn("corrupted cache document, starting empty",
				zap.String("namespace", d.namespace), zap.Error(err))
			return map[string]diskEntry{}, nil
		}
	}
	return entries, nil
}
