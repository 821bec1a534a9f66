package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/burrowd/burrow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketEvents = []byte("events")
	bucketJobs   = []byte("jobs")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketEvents,
			bucketJobs,
		}

		for _, bucket := range buckets {
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

// sequenceKey encodes a sequence number as a big-endian key so bucket
// iteration order equals append order.
func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// AppendEvent persists one appended event keyed by its sequence number.
func (s *BoltStore) AppendEvent(event *types.Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(event.Sequence), data)
	})
}

// LoadEvents returns all persisted events in ascending sequence order.
func (s *BoltStore) LoadEvents() ([]*types.Event, error) {
	var events []*types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		return b.ForEach(func(k, v []byte) error {
			var event types.Event
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			events = append(events, &event)
			return nil
		})
	})
	return events, err
}

// PutJob upserts a completion job record.
func (s *BoltStore) PutJob(job *types.CompletionJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.RequestID), data)
	})
}

// GetJob returns a persisted job, or nil if unknown.
func (s *BoltStore) GetJob(requestID string) (*types.CompletionJob, error) {
	var job *types.CompletionJob
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(requestID))
		if data == nil {
			return nil
		}
		job = &types.CompletionJob{}
		return json.Unmarshal(data, job)
	})
	return job, err
}

// ListJobs returns all persisted job records.
func (s *BoltStore) ListJobs() ([]*types.CompletionJob, error) {
	var jobs []*types.CompletionJob
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.CompletionJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}
