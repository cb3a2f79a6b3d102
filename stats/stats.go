// Package stats implements a service for tracking which files the server
// has handed out. Counters are persisted in BoltDB so they survive restarts.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/charmbracelet/log"

	"github.com/ospolova/SHTS/metrics"
)

const recordKey = "record"

// Record is the per-path unit stored in the database, one bucket per
// request path.
type Record struct {
	// Hits is the count of requests for the path.
	Hits uint64

	// Bytes is the total of response body bytes written for the path.
	Bytes int64

	// LastStatus is the HTTP status of the most recent response.
	LastStatus int

	// LastAccess is the time of the most recent request.
	LastAccess time.Time
}

// PathRecord pairs a Record with the path it belongs to, for snapshots.
type PathRecord struct {
	Path string
	Record
}

// Service is a service that interacts with the statistics database.
type Service struct {
	db     *bolt.DB
	logger *log.Logger
}

// Connect opens the database, creating parent directories if needed.
func (s *Service) Connect(dbPath string, mode os.FileMode, options *bolt.Options) (err error) {
	if err = os.MkdirAll(filepath.Dir(dbPath), 0770); err != nil {
		return
	}
	s.db, err = bolt.Open(dbPath, mode, options)
	return
}

// Close closes the database connection.
func (s *Service) Close() (err error) {
	err = s.db.Close()
	return
}

// SetLogger sets the logger.
func (s *Service) SetLogger(logger *log.Logger) {
	s.logger = logger
}

// Add accounts one served request for the given path.
func (s *Service) Add(path string, status int, bytes int64) (err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(path))
		if err != nil {
			return fmt.Errorf("create bucket \"%s\": %w", path, err)
		}

		var rec Record
		if prev := b.Get([]byte(recordKey)); prev != nil {
			if err := json.Unmarshal(prev, &rec); err != nil {
				return fmt.Errorf("unmarshal record \"%s\": %w", path, err)
			}
		}

		rec.Hits++
		rec.Bytes += bytes
		rec.LastStatus = status
		rec.LastAccess = time.Now()

		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(recordKey), value); err != nil {
			return fmt.Errorf("put record: %w", err)
		}
		return nil
	})
	return
}

// Snapshot returns the records of all the paths served so far.
func (s *Service) Snapshot() (records []PathRecord, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			value := b.Get([]byte(recordKey))
			if value == nil {
				return fmt.Errorf("bucket \"%s\" has no record", name)
			}

			var rec Record
			if err := json.Unmarshal(value, &rec); err != nil {
				return err
			}
			records = append(records, PathRecord{Path: string(name), Record: rec})
			return nil
		})
	})
	return
}

// Reset drops all the collected records.
func (s *Service) Reset() (err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		var names [][]byte
		err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, name)
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("delete bucket \"%s\": %w", name, err)
			}
		}
		return nil
	})
	return
}

// Observe periodically logs the totals and refreshes the tracked-paths
// gauge. It is meant to be run in its own goroutine.
func (s *Service) Observe(frequency *time.Ticker) {
	for {
		<-frequency.C
		records, err := s.Snapshot()
		if err != nil {
			s.logger.Error("Failed to read statistics", "err", err)
			continue
		}

		var hits uint64
		var bytes int64
		for _, r := range records {
			hits += r.Hits
			bytes += r.Bytes
		}
		metrics.UpdatePathsTracked(len(records))
		s.logger.Info("Access statistics", "paths", len(records), "hits", hits, "bytes", bytes)
	}
}
