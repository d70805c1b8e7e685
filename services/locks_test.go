package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/taskboard/database"
	"github.com/CrowderSoup/taskboard/internal/testutil"
)

func TestAcquire_HeldByOtherUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u10 := testutil.User(t, f.data, "Ten")
	u11 := testutil.User(t, f.data, "Eleven")
	b := testutil.Board(t, f.data, "Main", u10)
	task := testutil.Task(t, f.data, b, u10, "Five")

	res, err := f.locks.Acquire(ctx, task.ID, u10.ID)
	require.NoError(t, err)
	assert.False(t, res.Extended)

	f.clock.Advance(30 * time.Second)
	_, err = f.locks.Acquire(ctx, task.ID, u11.ID)
	var lc *LockConflictError
	require.ErrorAs(t, err, &lc)
	assert.Equal(t, u10.ID, lc.HolderID)
	assert.Equal(t, "Ten", lc.HolderName)
	assert.Equal(t, 30*time.Second, lc.Age)

	held, err := f.data.GetLock(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, u10.ID, held.UserID, "no row for the loser")

	released, err := f.locks.Release(ctx, task.ID, u10.ID)
	require.NoError(t, err)
	assert.True(t, released)

	res, err = f.locks.Acquire(ctx, task.ID, u11.ID)
	require.NoError(t, err)
	assert.Equal(t, u11.ID, res.Lock.UserID)

	locked := f.events.named(EventTaskLocked)
	require.Len(t, locked, 2)
	assert.Equal(t, b.ID, locked[0].BoardID)
	assert.Len(t, f.events.named(EventTaskUnlocked), 1)
}

func TestAcquire_ConcurrentExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := testutil.Board(t, f.data, "Main", nil)
	u1 := testutil.User(t, f.data, "One")
	u2 := testutil.User(t, f.data, "Two")
	task := testutil.Task(t, f.data, b, u1, "Contended")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, u := range []*database.User{u1, u2} {
		i, u := i, u
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.locks.Acquire(ctx, task.ID, u.ID)
		}()
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var lc *LockConflictError
		if assert.ErrorAs(t, err, &lc) {
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
	assert.Len(t, f.events.named(EventTaskLocked), 1)
}

func TestAcquire_SameUserRenews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := testutil.User(t, f.data, "Ada")
	b := testutil.Board(t, f.data, "Main", u)
	task := testutil.Task(t, f.data, b, u, "Mine")

	first, err := f.locks.Acquire(ctx, task.ID, u.ID)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	second, err := f.locks.Acquire(ctx, task.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, second.Extended)
	assert.True(t, second.Lock.LockedAt.After(first.Lock.LockedAt))

	held, err := f.data.GetLock(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, held.LockedAt.Equal(f.clock.Now()))
	assert.Len(t, f.events.named(EventTaskLocked), 1, "renewal does not announce")
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := testutil.User(t, f.data, "Ada")
	other := testutil.User(t, f.data, "Bob")
	b := testutil.Board(t, f.data, "Main", u)
	task := testutil.Task(t, f.data, b, u, "Mine")

	released, err := f.locks.Release(ctx, task.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, released, "releasing an unlocked task is a no-op")

	_, err = f.locks.Acquire(ctx, task.ID, u.ID)
	require.NoError(t, err)

	_, err = f.locks.Release(ctx, task.ID, other.ID)
	assert.ErrorIs(t, err, ErrNotLockHolder)

	_, err = f.locks.Release(ctx, 9999, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := testutil.User(t, f.data, "Ada")
	other := testutil.User(t, f.data, "Bob")
	b := testutil.Board(t, f.data, "Main", u)
	task := testutil.Task(t, f.data, b, u, "Mine")

	status, err := f.locks.Check(ctx, task.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, status.Locked)

	_, err = f.locks.Acquire(ctx, task.ID, u.ID)
	require.NoError(t, err)

	status, err = f.locks.Check(ctx, task.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.True(t, status.Owner)

	status, err = f.locks.Check(ctx, task.ID, other.ID)
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.False(t, status.Owner)
	assert.Equal(t, "Ada", status.Lock.UserName)
}

func TestSweep_ReclaimsExpiredLocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	holder := testutil.User(t, f.data, "Holder")
	next := testutil.User(t, f.data, "Next")
	b := testutil.Board(t, f.data, "Main", holder)
	old := testutil.Task(t, f.data, b, holder, "Old")
	recent := testutil.Task(t, f.data, b, holder, "Recent")

	_, err := f.locks.Acquire(ctx, old.ID, holder.ID)
	require.NoError(t, err)
	f.clock.Advance(4 * time.Minute)
	_, err = f.locks.Acquire(ctx, recent.ID, holder.ID)
	require.NoError(t, err)

	// Expired but not yet swept: still blocks.
	f.clock.Advance(90 * time.Second)
	_, err = f.locks.Acquire(ctx, old.ID, next.ID)
	var lc *LockConflictError
	require.ErrorAs(t, err, &lc)

	n, err := f.locks.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	unlocked := f.events.named(EventTaskUnlocked)
	require.Len(t, unlocked, 1)
	assert.Equal(t, UnlockedPayload{TaskID: old.ID}, unlocked[0].Payload)

	res, err := f.locks.Acquire(ctx, old.ID, next.ID)
	require.NoError(t, err)
	assert.Equal(t, next.ID, res.Lock.UserID)

	_, err = f.locks.Acquire(ctx, recent.ID, next.ID)
	assert.ErrorAs(t, err, &lc, "younger lock survives the sweep")
}

func TestRunSweeper_StopsWithContext(t *testing.T) {
	f := newFixture(t)
	u := testutil.User(t, f.data, "Ada")
	b := testutil.Board(t, f.data, "Main", u)
	task := testutil.Task(t, f.data, b, u, "Mine")

	_, err := f.locks.Acquire(context.Background(), task.ID, u.ID)
	require.NoError(t, err)
	f.clock.Advance(DefaultLockTTL + time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.locks.RunSweeper(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		return len(f.events.named(EventTaskUnlocked)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweepInterval(t *testing.T) {
	assert.Equal(t, 30*time.Second, SweepInterval(30*time.Second, 5*time.Minute))
	assert.Equal(t, time.Minute, SweepInterval(10*time.Minute, 5*time.Minute))
	assert.Equal(t, time.Minute, SweepInterval(0, 5*time.Minute))
}
