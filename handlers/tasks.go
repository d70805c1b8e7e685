package handlers

import (
	"net/http"

	"github.com/CrowderSoup/taskboard/database"
	"github.com/CrowderSoup/taskboard/services"
)

// TaskHandler serves the task endpoints.
type TaskHandler struct {
	tasks *services.TaskService
}

func NewTaskHandler(tasks *services.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

type createTaskRequest struct {
	services.CreateTaskInput
	UserID int64 `json:"user_id"`
}

type updateTaskRequest struct {
	database.TaskPatch
	UserID        int64 `json:"user_id"`
	ClientVersion *int  `json:"client_version"`
}

type statusRequest struct {
	Status database.Status `json:"status"`
	UserID int64           `json:"user_id"`
}

type actorRequest struct {
	UserID int64 `json:"user_id"`
}

func (h *TaskHandler) ListByBoard(w http.ResponseWriter, r *http.Request) {
	boardID, ok := pathID(r, "boardID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Board ID is required")
		return
	}
	tasks, err := h.tasks.ListByBoard(r.Context(), boardID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r, "taskID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID is required")
		return
	}
	task, err := h.tasks.Get(r.Context(), taskID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decode(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.CreatedByID == 0 {
		if id, ok := actor(r, req.UserID); ok {
			req.CreatedByID = id
		}
	}

	task, err := h.tasks.Create(r.Context(), req.CreateTaskInput)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// Update applies a partial edit. Sending client_version opts into
// conflict detection; a stale version gets 409 with both snapshots.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r, "taskID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID is required")
		return
	}
	var req updateTaskRequest
	if err := decode(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	userID, ok := actor(r, req.UserID)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID and user ID are required")
		return
	}

	task, err := h.tasks.Update(r.Context(), taskID, userID, req.ClientVersion, req.TaskPatch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r, "taskID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID is required")
		return
	}
	var req actorRequest
	if err := decode(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	userID, ok := actor(r, req.UserID)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID and user ID are required")
		return
	}

	if err := h.tasks.Delete(r.Context(), taskID, userID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

func (h *TaskHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r, "taskID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID is required")
		return
	}
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	userID, ok := actor(r, req.UserID)
	if !ok || req.Status == "" {
		writeMessage(w, http.StatusBadRequest, "Task ID, status, and user ID are required")
		return
	}

	task, err := h.tasks.ChangeStatus(r.Context(), taskID, userID, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Assign(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r, "taskID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID is required")
		return
	}
	assigneeID, ok := pathID(r, "userID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Assignee user ID is required")
		return
	}
	var req actorRequest
	if err := decode(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	userID, ok := actor(r, req.UserID)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID and user ID are required")
		return
	}

	task, err := h.tasks.Assign(r.Context(), taskID, userID, assigneeID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) SmartAssign(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r, "taskID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID is required")
		return
	}
	var req actorRequest
	if err := decode(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	userID, ok := actor(r, req.UserID)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID and user ID are required")
		return
	}

	res, err := h.tasks.SmartAssign(r.Context(), taskID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
