// Package simstate persists the simulated exchange wallet between runs.
package simstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/statefuse/internal/domain"
)

// DefaultDir is used when no directory is configured.
const DefaultDir = "./wal/simulate"

const stateDirEnv = "STATEFUSE_SIMULATE_STATE_DIR"

// Store keeps one JSON file per trading pair.
type Store struct {
	path string
}

// NewStore creates a store for pair under dir. An empty dir falls back to
// $STATEFUSE_SIMULATE_STATE_DIR and then DefaultDir.
func NewStore(dir string, pair domain.Pair) (*Store, error) {
	if dir == "" {
		dir = os.Getenv(stateDirEnv)
	}
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create simulate state dir")
	}

	name := fmt.Sprintf("%s.json", strings.ToLower(pair.String()))
	return &Store{path: filepath.Join(dir, name)}, nil
}

// Wallet simulated balances. Base may be negative while short.
type Wallet struct {
	Pair  string          `json:"pair"`
	Base  decimal.Decimal `json:"base"`
	Quote decimal.Decimal `json:"quote"`
}

// Load reads the wallet. A missing file returns nil.
func (s *Store) Load() (*Wallet, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read simulate state")
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var w Wallet
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, errors.Wrap(err, "decode simulate state")
	}

	return &w, nil
}

// Save writes the wallet atomically via a temp file.
func (s *Store) Save(w Wallet) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode simulate state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write simulate state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist simulate state")
	}

	return nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}
