package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	checkpointBucket = "checkpoints"
	offsetValueBytes = 8
)

// boltStore implements a Store backed by BoltDB.
type boltStore struct {
	db *bolt.DB
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(checkpointBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	return &boltStore{db: db}, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Checkpoint returns the last committed offset for the partition.
func (b *boltStore) Checkpoint(topic string, partition int32) (int64, bool, error) {
	if b == nil || b.db == nil {
		return 0, false, nil
	}

	var (
		offset int64
		ok     bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(checkpointBucket))
		if bucket == nil {
			return fmt.Errorf("checkpoint bucket missing")
		}
		offset, ok = decodeOffset(bucket.Get(checkpointKey(topic, partition)))
		return nil
	})
	return offset, ok, err
}

// Commit records offset for the partition. Offsets never move backwards.
func (b *boltStore) Commit(topic string, partition int32, offset int64) error {
	if b == nil || b.db == nil {
		return nil
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(checkpointBucket))
		if bucket == nil {
			return fmt.Errorf("checkpoint bucket missing")
		}
		key := checkpointKey(topic, partition)
		if current, ok := decodeOffset(bucket.Get(key)); ok && current >= offset {
			return nil
		}
		buf := make([]byte, offsetValueBytes)
		binary.BigEndian.PutUint64(buf, uint64(offset))
		return bucket.Put(key, buf)
	})
}

func checkpointKey(topic string, partition int32) []byte {
	return []byte(topic + "/" + strconv.FormatInt(int64(partition), 10))
}

// decodeOffset decodes the offset from the stored byte slice.
func decodeOffset(value []byte) (int64, bool) {
	if len(value) != offsetValueBytes {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(value)), true
}
