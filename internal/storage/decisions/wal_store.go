// Package decisions keeps an append-only journal of every decision the engine made.
package decisions

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/statefuse/internal/domain"
)

const (
	DefaultDir        = "./wal/decisions"
	segmentLimit      = 100
	maxSegments       = 10
	walDirPermissions = 0o755

	decisionKey = "decision"
)

// Entry journaled decision with its WAL index.
type Entry struct {
	Index    uint64                `json:"index"`
	Decision domain.DecisionRecord `json:"decision"`
}

// WALStore persists decision records in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed decision journal.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	if err := os.MkdirAll(dir, walDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure WAL directory %s", dir)
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "decision_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init decision WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Append writes the decision to the journal.
func (s *WALStore) Append(rec domain.DecisionRecord) error {
	if s == nil || s.wal == nil {
		return errors.New("decision store is not initialized")
	}
	if rec.CycleID == "" {
		return errors.New("decision cycle id is required")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal decision")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, decisionKey, payload)
}

// EntriesAfter returns all decisions written after the provided WAL index.
// Indexes evicted with old segments are skipped.
func (s *WALStore) EntriesAfter(index uint64) ([]Entry, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("decision store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	entries := make([]Entry, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil || key != decisionKey {
			continue
		}

		var rec domain.DecisionRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, errors.Wrapf(err, "decode decision at index %d", idx)
		}
		entries = append(entries, Entry{Index: idx, Decision: rec})
	}

	return entries, nil
}

// Tail returns up to n most recent decisions, oldest first.
func (s *WALStore) Tail(n int) ([]Entry, error) {
	current := s.CurrentIndex()
	from := uint64(0)
	if n > 0 && current > uint64(n) {
		from = current - uint64(n)
	}
	return s.EntriesAfter(from)
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("decision store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
