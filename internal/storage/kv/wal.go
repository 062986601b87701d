package kv

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"
)

const (
	DefaultWALDir = "./wal/state"

	walPrefix         = "kv_"
	segmentThreshold  = 1000
	maxSegments       = 100
	walDirPermissions = 0o755

	setKeyPrefix = "set:"
	delKeyPrefix = "del:"
)

// tombstone payload written for deletions.
var tombstone = []byte{0}

// WALStore durable store on top of a gowal write-ahead log.
// The log is replayed into memory on open; every mutation is appended.
type WALStore struct {
	wal  *gowal.Wal
	mu   sync.RWMutex
	data map[string][]byte
	l    *zap.Logger
}

// NewWALStore opens (or creates) the WAL in dir and replays it.
func NewWALStore(dir string, l *zap.Logger) (*WALStore, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if dir == "" {
		dir = DefaultWALDir
	}

	if err := os.MkdirAll(dir, walDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure WAL directory %s", dir)
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           walPrefix,
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init state WAL")
	}

	s := &WALStore{
		wal:  wal,
		data: make(map[string][]byte),
		l:    l.With(zap.String("component", "kv_wal")),
	}

	for msg := range wal.Iterator() {
		switch {
		case strings.HasPrefix(msg.Key, setKeyPrefix):
			s.data[strings.TrimPrefix(msg.Key, setKeyPrefix)] = msg.Value
		case strings.HasPrefix(msg.Key, delKeyPrefix):
			delete(s.data, strings.TrimPrefix(msg.Key, delKeyPrefix))
		default:
			s.l.Warn("skipping unknown WAL record", zap.String("key", msg.Key))
		}
	}

	// re-append live keys so segment eviction never drops rarely written values
	if err := s.checkpoint(); err != nil {
		_ = wal.Close()
		return nil, err
	}

	s.l.Info("state WAL replayed", zap.Int("keys", len(s.data)), zap.Uint64("index", wal.CurrentIndex()))

	return s, nil
}

func (s *WALStore) checkpoint() error {
	for k, v := range s.data {
		if err := s.append(setKeyPrefix+k, v); err != nil {
			return errors.Wrapf(err, "checkpoint key %s", k)
		}
	}
	return nil
}

func (s *WALStore) append(key string, payload []byte) error {
	return s.wal.Write(s.wal.CurrentIndex()+1, key, payload)
}

func (s *WALStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *WALStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.append(setKeyPrefix+key, value); err != nil {
		return errors.Wrapf(err, "write key %s", key)
	}
	s.data[key] = append([]byte(nil), value...)

	return nil
}

func (s *WALStore) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[key]
	return ok, nil
}

func (s *WALStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return nil
	}
	if err := s.append(delKeyPrefix+key, tombstone); err != nil {
		return errors.Wrapf(err, "delete key %s", key)
	}
	delete(s.data, key)

	return nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
