package records

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/storage/kv"
)

// HistoryLimit number of transition records kept.
const HistoryLimit = 20

// StateRepo persists the current market state and its transition history.
type StateRepo struct {
	store kv.Store
}

func NewStateRepo(store kv.Store) *StateRepo {
	return &StateRepo{store: store}
}

// Current returns the stored state. A missing record is UNKNOWN.
// Corrupt records return UNKNOWN together with an error wrapping domain.ErrCorruptState.
func (r *StateRepo) Current(ctx context.Context) (domain.MarketState, error) {
	var state domain.MarketState
	found, err := load(ctx, r.store, KeyCurrentState, &state)
	if err != nil {
		return domain.StateUnknown, err
	}
	if !found {
		return domain.StateUnknown, nil
	}
	if !state.IsValid() {
		return domain.StateUnknown, errors.Wrapf(domain.ErrCorruptState, "unknown state %q", state)
	}
	return state, nil
}

func (r *StateRepo) SetCurrent(ctx context.Context, state domain.MarketState) error {
	return save(ctx, r.store, KeyCurrentState, state)
}

// History returns transition records oldest first.
func (r *StateRepo) History(ctx context.Context) ([]domain.TransitionRecord, error) {
	var history []domain.TransitionRecord
	if _, err := load(ctx, r.store, KeyStateHistory, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// AppendHistory appends rec and evicts the oldest records above HistoryLimit.
func (r *StateRepo) AppendHistory(ctx context.Context, rec domain.TransitionRecord) error {
	history, err := r.History(ctx)
	if err != nil && !errors.Is(err, domain.ErrCorruptState) {
		return err
	}
	history = trimTail(append(history, rec), HistoryLimit)
	return save(ctx, r.store, KeyStateHistory, history)
}

func (r *StateRepo) TransitionCount(ctx context.Context) (int, error) {
	var n int
	if _, err := load(ctx, r.store, KeyTransitionCount, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *StateRepo) IncTransitionCount(ctx context.Context) (int, error) {
	n, err := r.TransitionCount(ctx)
	if err != nil && !errors.Is(err, domain.ErrCorruptState) {
		return 0, err
	}
	n++
	return n, save(ctx, r.store, KeyTransitionCount, n)
}

// LockRepo persists the state lock record.
type LockRepo struct {
	store kv.Store
}

func NewLockRepo(store kv.Store) *LockRepo {
	return &LockRepo{store: store}
}

// Get returns the held lock or nil when unlocked.
func (r *LockRepo) Get(ctx context.Context) (*domain.Lock, error) {
	var lock domain.Lock
	found, err := load(ctx, r.store, KeyLock, &lock)
	if err != nil || !found {
		return nil, err
	}
	return &lock, nil
}

func (r *LockRepo) Put(ctx context.Context, lock domain.Lock) error {
	return save(ctx, r.store, KeyLock, lock)
}

func (r *LockRepo) Delete(ctx context.Context) error {
	return errors.Wrap(r.store.Delete(ctx, KeyLock), "delete lock")
}
