package handlers

import (
	"net/http"
	"time"

	"github.com/CrowderSoup/taskboard/database"
	"github.com/CrowderSoup/taskboard/services"
)

// UserHandler serves user registration and session tokens.
type UserHandler struct {
	dir      *services.Directory
	sessions *services.SessionService
}

func NewUserHandler(dir *services.Directory, sessions *services.SessionService) *UserHandler {
	return &UserHandler{dir: dir, sessions: sessions}
}

type createUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type sessionResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *database.User `json:"user"`
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.dir.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decode(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	user, err := h.dir.CreateUser(r.Context(), req.Name, req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// CreateSession issues a token for an existing user.
func (h *UserHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decode(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.UserID <= 0 {
		writeMessage(w, http.StatusBadRequest, "User ID is required")
		return
	}

	user, err := h.dir.GetUser(r.Context(), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, expiresAt, err := h.sessions.Issue(user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Token: token, ExpiresAt: expiresAt, User: user})
}
