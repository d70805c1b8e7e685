package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/CrowderSoup/taskboard/database"
)

// DefaultLockTTL is how long a lock survives without renewal.
const DefaultLockTTL = 5 * time.Minute

// LockManager hands out the single edit lock a task may carry.
//
// Uniqueness lives in the database: the lock row is keyed by task id and
// acquired with an insert-if-absent, so concurrent acquirers resolve to one
// winner even across processes. Expired locks are only removed by Sweep;
// until then they keep blocking other users.
type LockManager struct {
	data        *database.DataService
	broadcaster Broadcaster
	logger      *slog.Logger
	ttl         time.Duration
	now         func() time.Time
}

func NewLockManager(data *database.DataService, broadcaster Broadcaster, ttl time.Duration, logger *slog.Logger) *LockManager {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &LockManager{
		data:        data,
		broadcaster: broadcaster,
		logger:      logger.With("component", "locks"),
		ttl:         ttl,
		now:         time.Now,
	}
}

// TTL returns the lock time-to-live.
func (m *LockManager) TTL() time.Duration {
	return m.ttl
}

// AcquireResult describes a granted lock.
type AcquireResult struct {
	Lock     database.Lock
	Extended bool
}

// Acquire locks taskID for userID, or refreshes the lock if userID already
// holds it. A lock held by anyone else yields *LockConflictError.
func (m *LockManager) Acquire(ctx context.Context, taskID, userID int64) (*AcquireResult, error) {
	task, err := m.data.GetTask(ctx, taskID)
	if err != nil {
		return nil, translate(err)
	}
	user, err := m.data.GetUser(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}

	// The second pass covers a lock released between insert and read.
	for i := 0; i < 2; i++ {
		now := m.now()
		lock := database.Lock{TaskID: taskID, UserID: userID, UserName: user.Name, LockedAt: now}

		inserted, err := m.data.InsertLockIfAbsent(ctx, lock)
		if err != nil {
			return nil, translate(err)
		}
		if inserted {
			m.logger.Info("task locked", "task", taskID, "user", userID)
			m.broadcaster.Publish(task.BoardID, EventTaskLocked, LockedPayload{
				TaskID:   taskID,
				UserID:   userID,
				UserName: user.Name,
				LockedAt: now,
			})
			return &AcquireResult{Lock: lock}, nil
		}

		held, err := m.data.GetLock(ctx, taskID)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if held.UserID != userID {
			return nil, &LockConflictError{
				TaskID:     taskID,
				HolderID:   held.UserID,
				HolderName: held.UserName,
				LockedAt:   held.LockedAt,
				Age:        now.Sub(held.LockedAt),
			}
		}

		renewed, err := m.data.RenewLock(ctx, taskID, userID, now)
		if err != nil {
			return nil, err
		}
		if !renewed {
			continue
		}
		m.logger.Debug("lock extended", "task", taskID, "user", userID)
		lock.LockedAt = now
		return &AcquireResult{Lock: lock, Extended: true}, nil
	}
	return nil, errors.New("lock state changed during acquire, try again")
}

// Release drops userID's lock on taskID. Releasing a task that is not
// locked is a no-op and reports false.
func (m *LockManager) Release(ctx context.Context, taskID, userID int64) (bool, error) {
	task, err := m.data.GetTask(ctx, taskID)
	if err != nil {
		return false, translate(err)
	}

	held, err := m.data.GetLock(ctx, taskID)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if held.UserID != userID {
		return false, ErrNotLockHolder
	}

	deleted, err := m.data.DeleteLock(ctx, taskID, userID)
	if err != nil {
		return false, err
	}
	if !deleted {
		// Swept or released concurrently.
		return false, nil
	}

	m.logger.Info("task unlocked", "task", taskID, "user", userID)
	m.broadcaster.Publish(task.BoardID, EventTaskUnlocked, UnlockedPayload{TaskID: taskID})
	return true, nil
}

// LockStatus is the lock state of a task as seen by one user.
type LockStatus struct {
	Locked bool
	Owner  bool
	Lock   *database.Lock
	Age    time.Duration
}

// Check reports whether taskID is locked and whether userID holds it.
func (m *LockManager) Check(ctx context.Context, taskID, userID int64) (*LockStatus, error) {
	if _, err := m.data.GetTask(ctx, taskID); err != nil {
		return nil, translate(err)
	}
	held, err := m.data.GetLock(ctx, taskID)
	if errors.Is(err, database.ErrNotFound) {
		return &LockStatus{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &LockStatus{
		Locked: true,
		Owner:  userID != 0 && held.UserID == userID,
		Lock:   held,
		Age:    m.now().Sub(held.LockedAt),
	}, nil
}

// Sweep deletes every lock older than the TTL and announces each one.
func (m *LockManager) Sweep(ctx context.Context) (int, error) {
	reclaimed, err := m.data.DeleteLocksOlderThan(ctx, m.now().Add(-m.ttl))
	if err != nil {
		return 0, err
	}
	for _, l := range reclaimed {
		m.logger.Info("expired lock reclaimed", "task", l.TaskID, "user", l.UserID, "locked_at", l.LockedAt)
		m.broadcaster.Publish(l.BoardID, EventTaskUnlocked, UnlockedPayload{TaskID: l.TaskID})
	}
	return len(reclaimed), nil
}

// SweepInterval returns a sweep period that is well inside ttl.
func SweepInterval(requested, ttl time.Duration) time.Duration {
	if requested <= 0 || requested >= ttl {
		return ttl / 5
	}
	return requested
}

// RunSweeper sweeps immediately and then every interval until ctx is done.
// Sweep failures are logged and retried on the next tick.
func (m *LockManager) RunSweeper(ctx context.Context, interval time.Duration) error {
	interval = SweepInterval(interval, m.ttl)
	m.logger.Info("lock sweeper started", "interval", interval, "ttl", m.ttl)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("lock sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			m.logger.Info("lock sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}
