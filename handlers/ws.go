package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/CrowderSoup/taskboard/services"
)

// SocketHandler upgrades connections onto the board hub.
type SocketHandler struct {
	hub      *services.Hub
	dir      *services.Directory
	sessions *services.SessionService
	upgrader websocket.Upgrader
}

func NewSocketHandler(hub *services.Hub, dir *services.Directory, sessions *services.SessionService, checkOrigin func(*http.Request) bool) *SocketHandler {
	return &SocketHandler{
		hub:      hub,
		dir:      dir,
		sessions: sessions,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

// HandleWebSocket identifies the caller by ?token= or ?user_id= and
// attaches the connection to the hub. Boards are joined afterwards with
// join-board messages.
func (h *SocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var userID int64
	if token := r.URL.Query().Get("token"); token != "" {
		id, err := h.sessions.Verify(token)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "invalid token")
			return
		}
		userID = id
	} else if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeMessage(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		userID = id
	} else {
		writeMessage(w, http.StatusBadRequest, "user_id or token is required")
		return
	}

	if _, err := h.dir.GetUser(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "user", userID, "error", err)
		return
	}

	client := h.hub.Attach(conn, userID)
	slog.Debug("websocket client attached", "client", client.ID, "user", userID)
}
