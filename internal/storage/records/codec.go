// Package records stores engine entities in a kv.Store as versioned JSON envelopes.
package records

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/storage/kv"
)

const schemaVersion = 1

// Keys used in the store.
const (
	KeyCurrentState    = "state/current"
	KeyStateHistory    = "state/history"
	KeyTransitionCount = "state/transition_count"
	KeyLock            = "lock/state"
	KeyPositionPrefix  = "position/"
	KeyTradeLog        = "trades/log"
	KeyTradeStats      = "trades/stats"
	KeyLastTradeAt     = "trades/last_trade_at"
	KeyActiveStrategy  = "strategy/active"
	KeyLastDecision    = "decision/last"
	KeyEngineStats     = "engine/stats"
	KeyRiskParams      = "risk/params"
	KeyFusionWindow    = "fusion/window"
)

type envelope struct {
	V    int             `json:"v"`
	Data json.RawMessage `json:"data"`
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal record")
	}
	return json.Marshal(envelope{V: schemaVersion, Data: data})
}

func decode(payload []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return errors.Wrapf(domain.ErrCorruptState, "decode envelope: %v", err)
	}
	if env.V != schemaVersion {
		return errors.Wrapf(domain.ErrCorruptState, "unsupported record version %d", env.V)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Wrapf(domain.ErrCorruptState, "decode record: %v", err)
	}
	return nil
}

// load reads key into out. found is false when the key is absent.
func load(ctx context.Context, store kv.Store, key string, out any) (found bool, err error) {
	payload, err := store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "load %s", key)
	}
	if err := decode(payload, out); err != nil {
		return true, errors.Wrapf(err, "load %s", key)
	}
	return true, nil
}

func save(ctx context.Context, store kv.Store, key string, v any) error {
	payload, err := encode(v)
	if err != nil {
		return errors.Wrapf(err, "save %s", key)
	}
	if err := store.Set(ctx, key, payload); err != nil {
		return errors.Wrapf(err, "save %s", key)
	}
	return nil
}

// trimTail keeps at most limit trailing elements.
func trimTail[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return append([]T(nil), items[len(items)-limit:]...)
	}
	return items
}
