package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var digestBucket = []byte("digests")

// boltIndex 将映射保存在单个 bbolt bucket 中，适合条目很多的缓存表。
type boltIndex struct {
	db *bolt.DB
}

func openBoltIndex(path string, logger *logrus.Logger) (*boltIndex, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	opts := &bolt.Options{Timeout: 5 * time.Second}
	db, err := bolt.Open(abs, 0o644, opts)
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("open cache db: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"action": "cache_load",
			"path":   abs,
			"error":  err.Error(),
		}).Warn("cache_table_corrupt")
		if rmErr := RemoveFile(abs); rmErr != nil {
			return nil, fmt.Errorf("remove corrupt cache db: %w", rmErr)
		}
		db, err = bolt.Open(abs, 0o644, opts)
		if err != nil {
			return nil, fmt.Errorf("open cache db: %w", err)
		}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(digestBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache db: %w", err)
	}
	return &boltIndex{db: db}, nil
}

func (i *boltIndex) Lookup(ctx context.Context, digest string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := normalizeDigest(digest)

	var path string
	err := i.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(digestBucket).Get([]byte(key)); v != nil {
			path = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, ErrNotFound
	}
	return statEntry(key, path)
}

func (i *boltIndex) Record(ctx context.Context, digest, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := normalizeDigest(digest)
	if key == "" {
		return errors.New("digest required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve cached path: %w", err)
	}

	return i.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(digestBucket)
		if existing := b.Get([]byte(key)); existing != nil && fileExists(string(existing)) {
			return nil
		}
		return b.Put([]byte(key), []byte(abs))
	})
}

func (i *boltIndex) Remove(ctx context.Context, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := normalizeDigest(digest)
	return i.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(digestBucket).Delete([]byte(key))
	})
}

func (i *boltIndex) Entries(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result []Entry
	err := i.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(digestBucket).ForEach(func(k, v []byte) error {
			result = append(result, Entry{Digest: string(k), FilePath: string(v)})
			return nil
		})
	})
	return result, err
}

func (i *boltIndex) Close() error {
	return i.db.Close()
}
