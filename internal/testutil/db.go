package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CrowderSoup/taskboard/database"
)

var seq atomic.Int64

// NewDataService creates an in-memory gateway with all migrations applied.
// It automatically closes the database when the test completes.
func NewDataService(t *testing.T) *database.DataService {
	t.Helper()

	db, err := database.InitDB(":memory:")
	if err != nil {
		t.Fatalf("creating test database: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("closing test database: %v", err)
		}
	})

	return database.NewDataService(db)
}

// User seeds a user with a unique email.
func User(t *testing.T, ds *database.DataService, name string) *database.User {
	t.Helper()

	email := fmt.Sprintf("user%d@example.com", seq.Add(1))
	u, err := ds.CreateUser(context.Background(), name, email, time.Now())
	if err != nil {
		t.Fatalf("seeding user %q: %v", name, err)
	}
	return u
}

// Board seeds a board owned by owner.
func Board(t *testing.T, ds *database.DataService, name string, owner *database.User) *database.Board {
	t.Helper()

	var ownerID *int64
	if owner != nil {
		ownerID = &owner.ID
	}
	b, err := ds.CreateBoard(context.Background(), name, "", ownerID, time.Now())
	if err != nil {
		t.Fatalf("seeding board %q: %v", name, err)
	}
	return b
}

// Task seeds a Todo task on board created by creator.
func Task(t *testing.T, ds *database.DataService, board *database.Board, creator *database.User, title string) *database.Task {
	t.Helper()

	task, err := ds.CreateTask(context.Background(), database.NewTask{
		Title:       title,
		Status:      database.StatusTodo,
		Priority:    database.PriorityMedium,
		BoardID:     board.ID,
		CreatedByID: creator.ID,
	}, time.Now())
	if err != nil {
		t.Fatalf("seeding task %q: %v", title, err)
	}
	return task
}

// AssignedTask seeds a task with the given status assigned to assignee.
func AssignedTask(t *testing.T, ds *database.DataService, board *database.Board, creator, assignee *database.User, title string, status database.Status) *database.Task {
	t.Helper()

	task, err := ds.CreateTask(context.Background(), database.NewTask{
		Title:          title,
		Status:         status,
		Priority:       database.PriorityMedium,
		AssignedUserID: &assignee.ID,
		BoardID:        board.ID,
		CreatedByID:    creator.ID,
	}, time.Now())
	if err != nil {
		t.Fatalf("seeding task %q: %v", title, err)
	}
	return task
}
