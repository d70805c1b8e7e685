package handlers

import (
	"net/http"

	"github.com/CrowderSoup/taskboard/services"
)

// BoardHandler serves board CRUD.
type BoardHandler struct {
	dir *services.Directory
}

func NewBoardHandler(dir *services.Directory) *BoardHandler {
	return &BoardHandler{dir: dir}
}

type createBoardRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerUserID *int64 `json:"owner_user_id"`
}

type updateBoardRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (h *BoardHandler) List(w http.ResponseWriter, r *http.Request) {
	boards, err := h.dir.ListBoards(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boards)
}

func (h *BoardHandler) Get(w http.ResponseWriter, r *http.Request) {
	boardID, ok := pathID(r, "boardID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Board ID is required")
		return
	}
	board, err := h.dir.GetBoard(r.Context(), boardID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *BoardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBoardRequest
	if err := decode(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.OwnerUserID == nil {
		if id, ok := actor(r, 0); ok {
			req.OwnerUserID = &id
		}
	}

	board, err := h.dir.CreateBoard(r.Context(), req.Name, req.Description, req.OwnerUserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, board)
}

func (h *BoardHandler) Update(w http.ResponseWriter, r *http.Request) {
	boardID, ok := pathID(r, "boardID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Board ID is required")
		return
	}
	var req updateBoardRequest
	if err := decode(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	board, err := h.dir.UpdateBoard(r.Context(), boardID, req.Name, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *BoardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	boardID, ok := pathID(r, "boardID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Board ID is required")
		return
	}
	if err := h.dir.DeleteBoard(r.Context(), boardID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Board deleted successfully"})
}
