package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/batchcompose/batchcompose/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketInstances   = []byte("instances")
	bucketComposition = []byte("composition")
)

// BoltStore implements Store using BoltDB. Bolt transactions give the
// atomic snapshot semantics: a snapshot is one read-write transaction,
// committed or not at all.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the state database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "batchcompose.db")

	// Fail fast when another process holds the file lock instead of
	// blocking forever.
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketInstances, bucketComposition} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveSnapshot rewrites both buckets inside a single transaction.
func (s *BoltStore) SaveSnapshot(records []types.InstanceRecord, desired types.DesiredComposition) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := resetBucket(tx, bucketInstances); err != nil {
			return err
		}
		b := tx.Bucket(bucketInstances)
		for i := range records {
			data, err := json.Marshal(&records[i])
			if err != nil {
				return fmt.Errorf("failed to marshal instance %s: %w", records[i].ID, err)
			}
			if err := b.Put([]byte(records[i].ID), data); err != nil {
				return err
			}
		}

		if err := resetBucket(tx, bucketComposition); err != nil {
			return err
		}
		b = tx.Bucket(bucketComposition)
		for key, target := range desired {
			var val [8]byte
			binary.BigEndian.PutUint64(val[:], uint64(target))
			if err := b.Put([]byte(key.String()), val[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadSnapshot reconstructs the registry content and desired composition
// from the last committed snapshot.
func (s *BoltStore) LoadSnapshot() ([]types.InstanceRecord, types.DesiredComposition, error) {
	var records []types.InstanceRecord
	desired := make(types.DesiredComposition)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		if err := b.ForEach(func(k, v []byte) error {
			var rec types.InstanceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal instance %s: %w", k, err)
			}
			records = append(records, rec)
			return nil
		}); err != nil {
			return err
		}

		b = tx.Bucket(bucketComposition)
		return b.ForEach(func(k, v []byte) error {
			key, err := types.ParseCompositionKey(string(k))
			if err != nil {
				return err
			}
			if len(v) != 8 {
				return fmt.Errorf("malformed target for %s", k)
			}
			desired[key] = int(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return records, desired, nil
}

func resetBucket(tx *bolt.Tx, name []byte) error {
	if tx.Bucket(name) != nil {
		if err := tx.DeleteBucket(name); err != nil {
			return fmt.Errorf("failed to reset bucket %s: %w", name, err)
		}
	}
	_, err := tx.CreateBucket(name)
	return err
}
