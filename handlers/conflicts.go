package handlers

import (
	"net/http"

	"github.com/CrowderSoup/taskboard/services"
)

type ConflictHandler struct {
	resolver *services.Resolver
}

func NewConflictHandler(resolver *services.Resolver) *ConflictHandler {
	return &ConflictHandler{resolver: resolver}
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
	UserID     int64  `json:"user_id"`
}

// ListForUser returns the user's unresolved conflicts.
func (h *ConflictHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "userID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "User ID is required")
		return
	}
	conflicts, err := h.resolver.ListForUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}

func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	conflictID, ok := pathID(r, "conflictID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Conflict ID is required")
		return
	}
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	userID, ok := actor(r, req.UserID)
	if !ok || req.Resolution == "" {
		writeMessage(w, http.StatusBadRequest, "Conflict ID, resolution type, and user ID are required")
		return
	}

	res, err := h.resolver.Resolve(r.Context(), conflictID, userID, req.Resolution)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Conflict resolved successfully",
		"task":     res.Task,
		"conflict": res.Conflict,
	})
}
