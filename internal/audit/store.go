// Package audit provides the durable decision log. Every served prediction
// is appended exactly once; records are immutable after the append and are
// queryable per subject and in aggregate.
//
// BoltDB is the storage engine. Its single-writer transactions give
// per-record atomicity for free: concurrent appends serialize on the write
// lock and a record is either fully durable or absent.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"fintech-approve/internal/feature"
	"fintech-approve/internal/policy"
)

const (
	recordsBucket  = "records"  // Global time-ordered decision log
	subjectsBucket = "subjects" // Per-subject index with full record copies

	// anonymousSubject keys records served without a resolved caller
	// identity.
	anonymousSubject = "anonymous"

	dbFileName = "approval-audit.db"
)

// Record is one appended audit row. Owned exclusively by the store once
// appended; callers receive copies.
type Record struct {
	ID        string              `json:"id"`
	Subject   string              `json:"subject,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Decision  policy.Decision     `json:"decision"`
	Input     feature.Application `json:"input"`
}

// StorageError wraps a storage engine failure. Audit persistence failures are
// surfaced distinctly so the pipeline can apply its retry-then-downgrade
// policy without inspecting bbolt internals.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Stats is the aggregate view over the whole log.
type Stats struct {
	TotalDecisions int            `json:"total_decisions"`
	Approved       int            `json:"approved"`
	Rejected       int            `json:"rejected"`
	ApprovalRate   float64        `json:"approval_rate"`
	RiskBands      map[string]int `json:"risk_bands"`
	Recent         []Record       `json:"recent"`
}

// Store persists decision records using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the audit database under dataPath and ensures the
// buckets exist.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, dbFileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(recordsBucket)); err != nil {
			return fmt.Errorf("create records bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(subjectsBucket)); err != nil {
			return fmt.Errorf("create subjects bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &StorageError{Op: "init", Err: err}
	}

	return &Store{db: db}, nil
}

// Close closes the database. Safe to call on a store that never opened.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Append durably stores one record and returns its assigned id. A zero
// Timestamp is filled with the current UTC time. The record and its subject
// index entry commit in a single transaction.
func (s *Store) Append(rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", &StorageError{Op: "marshal", Err: err}
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		key := recordKey(rec.Timestamp, rec.ID)
		if err := tx.Bucket([]byte(recordsBucket)).Put(key, data); err != nil {
			return err
		}
		return tx.Bucket([]byte(subjectsBucket)).Put(subjectKey(rec.Subject, rec.Timestamp, rec.ID), data)
	})
	if err != nil {
		return "", &StorageError{Op: "append", Err: err}
	}
	return rec.ID, nil
}

// History returns all records for a subject, newest first. An empty subject
// selects anonymous records. Unknown subjects yield an empty slice, not an
// error.
func (s *Store) History(subject string) ([]Record, error) {
	prefix := subjectPrefix(subject)

	var records []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(subjectsBucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // Skip malformed records
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "history", Err: err}
	}

	// Keys sort oldest first; reverse for newest-first ordering.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Aggregate scans the full log and returns counts, the risk-band
// distribution, and the most recent recentLimit records (newest first).
func (s *Store) Aggregate(recentLimit int) (Stats, error) {
	stats := Stats{RiskBands: map[string]int{}}

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(recordsBucket))

		if err := b.ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // Skip malformed records
			}
			stats.TotalDecisions++
			if rec.Decision.Verdict == policy.VerdictApproved {
				stats.Approved++
			} else {
				stats.Rejected++
			}
			stats.RiskBands[string(rec.Decision.RiskBand)]++
			return nil
		}); err != nil {
			return err
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(stats.Recent) < recentLimit; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			stats.Recent = append(stats.Recent, rec)
		}
		return nil
	})
	if err != nil {
		return Stats{}, &StorageError{Op: "aggregate", Err: err}
	}

	if stats.TotalDecisions > 0 {
		stats.ApprovalRate = float64(stats.Approved) / float64(stats.TotalDecisions)
	}
	if stats.Recent == nil {
		stats.Recent = []Record{}
	}
	return stats, nil
}

func recordKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", ts.UnixNano(), id))
}

// subjectKey uses a NUL delimiter so one subject can never be a key prefix of
// another.
func subjectKey(subject string, ts time.Time, id string) []byte {
	return append(subjectPrefix(subject), recordKey(ts, id)...)
}

func subjectPrefix(subject string) []byte {
	if subject == "" {
		subject = anonymousSubject
	}
	return append([]byte(subject), 0)
}
