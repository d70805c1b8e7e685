package services

import (
	"sync"
	"testing"
	"time"

	"github.com/CrowderSoup/taskboard/database"
	"github.com/CrowderSoup/taskboard/internal/testutil"
)

type published struct {
	BoardID int64
	Event   string
	Payload any
}

// recordingBroadcaster keeps every published event in order.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingBroadcaster) Publish(boardID int64, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{BoardID: boardID, Event: event, Payload: payload})
}

func (r *recordingBroadcaster) named(event string) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	data     *database.DataService
	events   *recordingBroadcaster
	clock    *fakeClock
	recorder *Recorder
	guard    *VersionGuard
	tasks    *TaskService
	resolver *Resolver
	locks    *LockManager
	dir      *Directory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ds := testutil.NewDataService(t)
	events := &recordingBroadcaster{}
	clock := newFakeClock()

	recorder := NewRecorder(ds, events, nil)
	recorder.now = clock.Now
	guard := NewVersionGuard(ds, events, nil)
	guard.now = clock.Now
	tasks := NewTaskService(ds, guard, recorder, events, nil)
	tasks.now = clock.Now
	resolver := NewResolver(ds, recorder, events, nil)
	resolver.now = clock.Now
	locks := NewLockManager(ds, events, DefaultLockTTL, nil)
	locks.now = clock.Now
	dir := NewDirectory(ds, events, nil)
	dir.now = clock.Now

	return &fixture{
		data:     ds,
		events:   events,
		clock:    clock,
		recorder: recorder,
		guard:    guard,
		tasks:    tasks,
		resolver: resolver,
		locks:    locks,
		dir:      dir,
	}
}

func ptr[T any](v T) *T { return &v }
