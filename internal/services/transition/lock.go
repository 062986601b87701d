package transition

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/events"
	"go.uber.org/zap"
)

// AcquireLock takes the state lock for owner. It returns false when another
// owner holds an unexpired lock. Expired locks are force-released and replaced.
func (m *Manager) AcquireLock(ctx context.Context, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	held, err := m.locks.Get(ctx)
	switch {
	case errors.Is(err, domain.ErrCorruptState):
		m.l.Error("lock record is corrupt, replacing", zap.Error(err))
	case err != nil:
		return false, errors.Wrap(err, "read lock")
	case held != nil && !held.Expired(now, m.cfg.LockTimeout):
		return false, nil
	case held != nil:
		m.l.Warn("lock expired, force releasing",
			zap.String("owner", held.OwnerID),
			zap.Time("held_since", held.HeldSince),
		)
		m.sink.Emit(events.New(events.LockExpired, now, map[string]any{
			"owner":      held.OwnerID,
			"held_since": held.HeldSince,
			"new_owner":  owner,
		}))
	}

	if err := m.locks.Put(ctx, domain.Lock{HeldSince: now, OwnerID: owner}); err != nil {
		return false, errors.Wrap(err, "write lock")
	}

	return true, nil
}

// Release clears the lock if owner still holds it.
func (m *Manager) Release(ctx context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, err := m.locks.Get(ctx)
	if err != nil && !errors.Is(err, domain.ErrCorruptState) {
		return errors.Wrap(err, "read lock")
	}
	if held != nil && held.OwnerID != owner {
		m.l.Warn("lock is held by another owner, not releasing",
			zap.String("owner", owner),
			zap.String("holder", held.OwnerID),
		)
		return nil
	}

	return m.locks.Delete(ctx)
}

// ForceUnlock clears the lock regardless of owner.
func (m *Manager) ForceUnlock(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, _ := m.locks.Get(ctx)
	if err := m.locks.Delete(ctx); err != nil {
		return err
	}

	fields := map[string]any{}
	if held != nil {
		fields["owner"] = held.OwnerID
		fields["held_since"] = held.HeldSince
	}
	m.l.Warn("lock force released by administrator")
	m.sink.Emit(events.New(events.LockForced, m.clock.Now(), fields))

	return nil
}

// Lock returns the current lock record, nil when unlocked.
func (m *Manager) Lock(ctx context.Context) (*domain.Lock, error) {
	return m.locks.Get(ctx)
}

// WithLock runs op while holding the state lock for owner and always releases it.
// When the lock is held elsewhere op is skipped and fallback's value is returned.
func WithLock[T any](ctx context.Context, m *Manager, owner string, op func(ctx context.Context) (T, error), fallback func() T) (T, error) {
	acquired, err := m.AcquireLock(ctx, owner)
	if err != nil {
		return fallback(), err
	}
	if !acquired {
		return fallback(), nil
	}

	defer func() {
		if err := m.Release(context.WithoutCancel(ctx), owner); err != nil {
			m.l.Error("failed to release lock", zap.String("owner", owner), zap.Error(err))
		}
	}()

	return op(ctx)
}
