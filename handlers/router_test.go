package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/taskboard/database"
	"github.com/CrowderSoup/taskboard/handlers"
	"github.com/CrowderSoup/taskboard/internal/testutil"
	"github.com/CrowderSoup/taskboard/services"
)

type env struct {
	data    *database.DataService
	hub     *services.Hub
	handler http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()

	ds := testutil.NewDataService(t)
	hub := services.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})

	sessions, err := services.NewSessionService("test-secret", time.Hour)
	require.NoError(t, err)

	recorder := services.NewRecorder(ds, hub, nil)
	guard := services.NewVersionGuard(ds, hub, nil)

	h := handlers.NewRouter(handlers.Deps{
		Data:      ds,
		Hub:       hub,
		Directory: services.NewDirectory(ds, hub, nil),
		Sessions:  sessions,
		Tasks:     services.NewTaskService(ds, guard, recorder, hub, nil),
		Locks:     services.NewLockManager(ds, hub, services.DefaultLockTTL, nil),
		Resolver:  services.NewResolver(ds, recorder, hub, nil),
		Recorder:  recorder,
	})
	return &env{data: ds, hub: hub, handler: h}
}

func (e *env) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestUpdate_StaleVersionReturnsConflictAndResolves(t *testing.T) {
	e := newEnv(t)
	alice := testutil.User(t, e.data, "Alice")
	bob := testutil.User(t, e.data, "Bob")
	board := testutil.Board(t, e.data, "Launch", alice)
	task := testutil.Task(t, e.data, board, alice, "Write copy")
	path := fmt.Sprintf("/api/tasks/%d", task.ID)

	rec := e.do(t, http.MethodPut, path, map[string]any{
		"title": "Write launch copy", "user_id": alice.ID, "client_version": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeBody[database.Task](t, rec).Version)

	rec = e.do(t, http.MethodPut, path, map[string]any{
		"description": "from bob", "user_id": bob.ID, "client_version": 1,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var conflict struct {
		Error         string          `json:"error"`
		ConflictID    int64           `json:"conflict_id"`
		ServerVersion database.Task   `json:"serverVersion"`
		ClientVersion json.RawMessage `json:"clientVersion"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conflict))
	assert.NotZero(t, conflict.ConflictID)
	assert.Equal(t, 2, conflict.ServerVersion.Version)
	assert.Equal(t, "Write launch copy", conflict.ServerVersion.Title)
	assert.Contains(t, string(conflict.ClientVersion), "from bob")

	rec = e.do(t, http.MethodGet, fmt.Sprintf("/api/conflicts/user/%d", bob.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[[]database.ConflictSummary](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, "Write launch copy", pending[0].TaskTitle)

	resolvePath := fmt.Sprintf("/api/conflicts/%d/resolve", conflict.ConflictID)
	rec = e.do(t, http.MethodPost, resolvePath, map[string]any{"resolution": "overwrite", "user_id": bob.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decodeBody[struct {
		Task     database.Task     `json:"task"`
		Conflict database.Conflict `json:"conflict"`
	}](t, rec)
	assert.Equal(t, "from bob", resolved.Task.Description)
	assert.Equal(t, 3, resolved.Task.Version)
	assert.True(t, resolved.Conflict.Resolved)

	rec = e.do(t, http.MethodPost, resolvePath, map[string]any{"resolution": "overwrite", "user_id": bob.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResolve_UnknownResolution(t *testing.T) {
	e := newEnv(t)
	alice := testutil.User(t, e.data, "Alice")
	board := testutil.Board(t, e.data, "Launch", alice)
	task := testutil.Task(t, e.data, board, alice, "Write copy")

	e.do(t, http.MethodPut, fmt.Sprintf("/api/tasks/%d", task.ID), map[string]any{"title": "A", "user_id": alice.ID, "client_version": 1})
	rec := e.do(t, http.MethodPut, fmt.Sprintf("/api/tasks/%d", task.ID), map[string]any{"title": "B", "user_id": alice.ID, "client_version": 1})
	require.Equal(t, http.StatusConflict, rec.Code)
	conflictID := decodeBody[map[string]any](t, rec)["conflict_id"]

	rec = e.do(t, http.MethodPost, fmt.Sprintf("/api/conflicts/%v/resolve", conflictID), map[string]any{"resolution": "rebase", "user_id": alice.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLocks_HolderExclusivity(t *testing.T) {
	e := newEnv(t)
	alice := testutil.User(t, e.data, "Alice")
	bob := testutil.User(t, e.data, "Bob")
	board := testutil.Board(t, e.data, "Launch", alice)
	task := testutil.Task(t, e.data, board, alice, "Write copy")
	base := fmt.Sprintf("/api/locks/%d", task.ID)

	rec := e.do(t, http.MethodPost, base+"/lock", map[string]any{"user_id": alice.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Task locked successfully", decodeBody[map[string]any](t, rec)["message"])

	rec = e.do(t, http.MethodPost, base+"/lock", map[string]any{"user_id": alice.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Lock extended", decodeBody[map[string]any](t, rec)["message"])

	rec = e.do(t, http.MethodPost, base+"/lock", map[string]any{"user_id": bob.ID})
	require.Equal(t, http.StatusLocked, rec.Code)
	locked := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, locked["locked"])
	assert.Equal(t, false, locked["owner"])
	assert.Equal(t, "Alice", locked["lockedBy"])
	assert.Contains(t, locked["error"], "Alice")

	rec = e.do(t, http.MethodPost, base+"/unlock", map[string]any{"user_id": bob.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodGet, fmt.Sprintf("%s?user_id=%d", base, bob.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	check := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, check["locked"])
	assert.Equal(t, false, check["owner"])

	rec = e.do(t, http.MethodPost, base+"/unlock", map[string]any{"user_id": alice.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Task unlocked successfully", decodeBody[map[string]any](t, rec)["message"])

	rec = e.do(t, http.MethodPost, base+"/lock", map[string]any{"user_id": bob.ID})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateTask_Validation(t *testing.T) {
	e := newEnv(t)
	alice := testutil.User(t, e.data, "Alice")
	board := testutil.Board(t, e.data, "Launch", alice)

	create := func(title string) *httptest.ResponseRecorder {
		return e.do(t, http.MethodPost, "/api/tasks", map[string]any{
			"title": title, "board_id": board.ID, "user_id": alice.ID,
		})
	}

	rec := create("Ship it")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	task := decodeBody[database.Task](t, rec)
	assert.Equal(t, database.StatusTodo, task.Status)
	assert.Equal(t, database.PriorityMedium, task.Priority)
	assert.Equal(t, alice.ID, task.CreatedByID)
	assert.Equal(t, 1, task.Version)

	assert.Equal(t, http.StatusBadRequest, create("Ship it").Code)
	assert.Equal(t, http.StatusBadRequest, create("In Progress").Code)
	assert.Equal(t, http.StatusBadRequest, create("   ").Code)
}

func TestNotFoundAndBadIDs(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/tasks/999", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/boards/999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/logs/recent?boardId=abc", nil).Code)
}

func TestSession_TokenIdentifiesActor(t *testing.T) {
	e := newEnv(t)
	alice := testutil.User(t, e.data, "Alice")
	board := testutil.Board(t, e.data, "Launch", alice)
	task := testutil.Task(t, e.data, board, alice, "Write copy")

	rec := e.do(t, http.MethodPost, "/api/session", map[string]any{"user_id": alice.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	token, _ := decodeBody[map[string]any](t, rec)["token"].(string)
	require.NotEmpty(t, token)

	rec = e.do(t, http.MethodPatch, fmt.Sprintf("/api/tasks/%d/status", task.ID),
		map[string]any{"status": "Done"}, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, database.StatusDone, decodeBody[database.Task](t, rec).Status)

	rec = e.do(t, http.MethodGet, fmt.Sprintf("/api/logs/recent?boardId=%d", board.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeBody[[]database.ActionLogEntry](t, rec)
	require.NotEmpty(t, logs)
	assert.Equal(t, database.ActionStatusChange, logs[0].ActionType)
	assert.Equal(t, alice.ID, logs[0].UserID)

	rec = e.do(t, http.MethodGet, "/api/boards", nil, "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBoards_CRUD(t *testing.T) {
	e := newEnv(t)
	alice := testutil.User(t, e.data, "Alice")

	rec := e.do(t, http.MethodPost, "/api/boards", map[string]any{"name": "Roadmap", "owner_user_id": alice.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	board := decodeBody[database.Board](t, rec)
	testutil.Task(t, e.data, &board, alice, "Plan Q3")

	rec = e.do(t, http.MethodGet, fmt.Sprintf("/api/boards/%d", board.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[database.BoardDetail](t, rec)
	assert.Len(t, detail.Tasks[database.StatusTodo], 1)

	rec = e.do(t, http.MethodPut, fmt.Sprintf("/api/boards/%d", board.ID), map[string]any{"name": "Roadmap 2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Roadmap 2", decodeBody[database.Board](t, rec).Name)

	rec = e.do(t, http.MethodDelete, fmt.Sprintf("/api/boards/%d", board.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, fmt.Sprintf("/api/boards/%d", board.ID), nil).Code)
}

func TestWebSocket_ReceivesBoardEvents(t *testing.T) {
	e := newEnv(t)
	alice := testutil.User(t, e.data, "Alice")
	board := testutil.Board(t, e.data, "Launch", alice)

	srv := httptest.NewServer(e.handler)
	t.Cleanup(srv.Close)

	url := fmt.Sprintf("ws%s/api/ws?user_id=%d", strings.TrimPrefix(srv.URL, "http"), alice.ID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "join-board", "data": map[string]int64{"boardId": board.ID}}))
	next := func() map[string]any {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}
	assert.Equal(t, "joined-board", next()["type"])

	rec := e.do(t, http.MethodPost, "/api/tasks", map[string]any{"title": "Ship it", "board_id": board.ID, "user_id": alice.ID})
	require.Equal(t, http.StatusCreated, rec.Code)

	seen := map[string]bool{}
	for !seen[services.EventTaskCreated] {
		seen[next()["type"].(string)] = true
	}
	assert.True(t, seen[services.EventActionLogged])
}

func TestWebSocket_RejectsUnknownUser(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/ws?user_id=42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/ws", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdate_UnknownActorIsRejected(t *testing.T) {
	e := newEnv(t)
	alice := testutil.User(t, e.data, "Alice")
	board := testutil.Board(t, e.data, "Launch", alice)
	task := testutil.Task(t, e.data, board, alice, "Write copy")
	path := fmt.Sprintf("/api/tasks/%d", task.ID)

	for _, version := range []int{1, 0} {
		rec := e.do(t, http.MethodPut, path, map[string]any{
			"description": "ghost", "user_id": 999, "client_version": version,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	}

	rec := e.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[database.Task](t, rec).Version)
}
