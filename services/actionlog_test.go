package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/taskboard/database"
	"github.com/CrowderSoup/taskboard/internal/testutil"
)

func TestRecord_FailureIsSwallowed(t *testing.T) {
	f := newFixture(t)

	// user 777 does not exist, so the insert violates a foreign key
	assert.NotPanics(t, func() {
		f.recorder.Record(context.Background(), 1, 1, 777, database.ActionUpdate, nil, nil)
	})
	assert.Empty(t, f.events.named(EventActionLogged), "nothing is announced for a failed write")
}

func TestRecord_SurvivesCancelledContext(t *testing.T) {
	f := newFixture(t)
	u := testutil.User(t, f.data, "Ada")
	b := testutil.Board(t, f.data, "Main", u)
	task := testutil.Task(t, f.data, b, u, "Setup")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.recorder.Record(ctx, b.ID, task.ID, u.ID, database.ActionUpdate, task, task)

	logs, err := f.recorder.Recent(context.Background(), &b.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Setup", logs[0].TaskTitle)
}

func TestRecent_LimitAndOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := testutil.User(t, f.data, "Ada")
	b := testutil.Board(t, f.data, "Main", u)
	task := testutil.Task(t, f.data, b, u, "Busy")

	for i := 0; i < 30; i++ {
		_, err := f.tasks.Update(ctx, task.ID, u.ID, nil, database.TaskPatch{Description: ptr("again")})
		require.NoError(t, err)
	}

	logs, err := f.recorder.Recent(ctx, nil)
	require.NoError(t, err)
	require.Len(t, logs, database.RecentLogLimit)
	for i := 1; i < len(logs); i++ {
		assert.Greater(t, logs[i-1].ID, logs[i].ID, "same timestamp falls back to id order")
	}
}
