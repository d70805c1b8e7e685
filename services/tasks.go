package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CrowderSoup/taskboard/database"
)

// TaskService runs every task mutation through the VersionGuard, records
// it in the action log and publishes it to the task's board once it has
// committed.
type TaskService struct {
	data        *database.DataService
	guard       *VersionGuard
	recorder    *Recorder
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

func NewTaskService(data *database.DataService, guard *VersionGuard, recorder *Recorder, broadcaster Broadcaster, logger *slog.Logger) *TaskService {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{
		data:        data,
		guard:       guard,
		recorder:    recorder,
		broadcaster: broadcaster,
		logger:      logger.With("component", "tasks"),
		now:         time.Now,
	}
}

// CreateTaskInput holds a new task. Status defaults to Todo and priority
// to Medium.
type CreateTaskInput struct {
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Status         database.Status   `json:"status"`
	Priority       database.Priority `json:"priority"`
	AssignedUserID *int64            `json:"assigned_user_id"`
	BoardID        int64             `json:"board_id"`
	CreatedByID    int64             `json:"created_by_id"`
}

func (s *TaskService) Create(ctx context.Context, in CreateTaskInput) (*database.Task, error) {
	if err := validateTitle(in.Title); err != nil {
		return nil, err
	}
	if in.BoardID == 0 {
		return nil, invalid("board_id", "board_id is required")
	}
	if in.CreatedByID == 0 {
		return nil, invalid("created_by_id", "created_by_id is required")
	}
	if in.Status == "" {
		in.Status = database.StatusTodo
	}
	if in.Priority == "" {
		in.Priority = database.PriorityMedium
	}
	if !in.Status.Valid() {
		return nil, invalid("status", "unknown status %q", in.Status)
	}
	if !in.Priority.Valid() {
		return nil, invalid("priority", "unknown priority %q", in.Priority)
	}

	if _, err := s.data.GetBoard(ctx, in.BoardID); err != nil {
		return nil, translate(err)
	}
	if err := requireUser(ctx, s.data, "created_by_id", in.CreatedByID); err != nil {
		return nil, err
	}
	if in.AssignedUserID != nil {
		if err := requireUser(ctx, s.data, "assigned_user_id", *in.AssignedUserID); err != nil {
			return nil, err
		}
	}

	taken, err := s.data.TitleTaken(ctx, in.BoardID, in.Title, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, invalid("title", "task title must be unique within a board")
	}

	task, err := s.data.CreateTask(ctx, database.NewTask{
		Title:          in.Title,
		Description:    in.Description,
		Status:         in.Status,
		Priority:       in.Priority,
		AssignedUserID: in.AssignedUserID,
		BoardID:        in.BoardID,
		CreatedByID:    in.CreatedByID,
	}, s.now())
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("task created", "task", task.ID, "board", task.BoardID, "user", in.CreatedByID)
	s.recorder.Record(ctx, task.BoardID, task.ID, in.CreatedByID, database.ActionCreate, nil, task)
	s.broadcaster.Publish(task.BoardID, EventTaskCreated, task)
	return task, nil
}

func (s *TaskService) Get(ctx context.Context, id int64) (*database.Task, error) {
	task, err := s.data.GetTask(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return task, nil
}

// ListByBoard returns a board's tasks, newest first.
func (s *TaskService) ListByBoard(ctx context.Context, boardID int64) ([]database.Task, error) {
	if _, err := s.data.GetBoard(ctx, boardID); err != nil {
		return nil, translate(err)
	}
	return s.data.ListTasksByBoard(ctx, boardID)
}

// Update applies a partial edit. With a non-nil baseVersion a stale edit
// fails with *VersionConflictError instead of being written.
func (s *TaskService) Update(ctx context.Context, taskID, userID int64, baseVersion *int, patch database.TaskPatch) (*database.Task, error) {
	if patch.AssignedUserID.Set && patch.AssignedUserID.Value != nil {
		if err := requireUser(ctx, s.data, "assigned_user_id", *patch.AssignedUserID.Value); err != nil {
			return nil, err
		}
	}

	before, after, err := s.guard.Apply(ctx, Mutation{
		TaskID:      taskID,
		UserID:      userID,
		BaseVersion: baseVersion,
		Patch:       patch,
	})
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, after.BoardID, after.ID, userID, database.ActionUpdate, before, after)
	s.broadcaster.Publish(after.BoardID, EventTaskUpdated, after)
	return after, nil
}

// ChangeStatus moves a task to another column.
func (s *TaskService) ChangeStatus(ctx context.Context, taskID, userID int64, status database.Status) (*database.Task, error) {
	if status == "" {
		return nil, invalid("status", "status is required")
	}

	before, after, err := s.guard.Apply(ctx, Mutation{
		TaskID: taskID,
		UserID: userID,
		Patch:  database.TaskPatch{Status: &status},
	})
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, after.BoardID, after.ID, userID, database.ActionStatusChange,
		map[string]database.Status{"status": before.Status},
		map[string]database.Status{"status": after.Status})
	s.broadcaster.Publish(after.BoardID, EventTaskStatusChanged, StatusChangedPayload{
		TaskID:    after.ID,
		OldStatus: before.Status,
		NewStatus: after.Status,
	})
	return after, nil
}

// Assign gives the task to assigneeID.
func (s *TaskService) Assign(ctx context.Context, taskID, userID, assigneeID int64) (*database.Task, error) {
	assignee, err := s.data.GetUser(ctx, assigneeID)
	if err != nil {
		return nil, translate(err)
	}

	before, after, err := s.guard.Apply(ctx, Mutation{
		TaskID: taskID,
		UserID: userID,
		Patch:  database.TaskPatch{AssignedUserID: database.SomeID(assignee.ID)},
	})
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, after.BoardID, after.ID, userID, database.ActionAssign,
		map[string]*int64{"assigned_user_id": before.AssignedUserID},
		map[string]*int64{"assigned_user_id": after.AssignedUserID})
	s.broadcaster.Publish(after.BoardID, EventTaskAssigned, AssignedPayload{
		TaskID:   after.ID,
		UserID:   assignee.ID,
		UserName: assignee.Name,
	})
	return after, nil
}

// SmartAssignResult is the reassigned task and who it went to.
type SmartAssignResult struct {
	Task        *database.Task `json:"task"`
	Assignee    database.User  `json:"assignee"`
	ActiveTasks int            `json:"active_tasks"`
	Message     string         `json:"message"`
}

// SmartAssign gives the task to the user with the fewest tasks that are
// not Done, breaking ties by lowest user id.
func (s *TaskService) SmartAssign(ctx context.Context, taskID, userID int64) (*SmartAssignResult, error) {
	if _, err := s.data.GetTask(ctx, taskID); err != nil {
		return nil, translate(err)
	}

	candidate, err := s.data.LeastLoadedUser(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("no users available for assignment: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	before, after, err := s.guard.Apply(ctx, Mutation{
		TaskID: taskID,
		UserID: userID,
		Patch:  database.TaskPatch{AssignedUserID: database.SomeID(candidate.ID)},
	})
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, after.BoardID, after.ID, userID, database.ActionSmartAssign,
		map[string]*int64{"assigned_user_id": before.AssignedUserID},
		map[string]*int64{"assigned_user_id": after.AssignedUserID})
	s.broadcaster.Publish(after.BoardID, EventTaskAssigned, AssignedPayload{
		TaskID:   after.ID,
		UserID:   candidate.ID,
		UserName: candidate.Name,
	})

	return &SmartAssignResult{
		Task:        after,
		Assignee:    candidate.User,
		ActiveTasks: candidate.ActiveTasks,
		Message: fmt.Sprintf("Task smartly assigned to %s who has %d active tasks",
			candidate.Name, candidate.ActiveTasks),
	}, nil
}

// Delete removes the task along with its locks, conflicts and logs. The
// delete entry written afterwards is the only log row that outlives it.
func (s *TaskService) Delete(ctx context.Context, taskID, userID int64) error {
	if err := requireUser(ctx, s.data, "user_id", userID); err != nil {
		return err
	}
	current, err := s.data.GetTask(ctx, taskID)
	if err != nil {
		return translate(err)
	}
	if err := s.data.DeleteTask(ctx, taskID); err != nil {
		return translate(err)
	}

	s.logger.Info("task deleted", "task", taskID, "board", current.BoardID, "user", userID)
	s.recorder.Record(ctx, current.BoardID, current.ID, userID, database.ActionDelete, current, nil)
	s.broadcaster.Publish(current.BoardID, EventTaskDeleted, TaskDeletedPayload{TaskID: taskID})
	return nil
}

// requireUser reports an unknown user id as a validation error on field.
func requireUser(ctx context.Context, data *database.DataService, field string, id int64) error {
	_, err := data.GetUser(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return invalid(field, "unknown user %d", id)
	}
	return err
}
