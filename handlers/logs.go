package handlers

import (
	"net/http"
	"strconv"

	"github.com/CrowderSoup/taskboard/services"
)

type LogHandler struct {
	recorder *services.Recorder
}

func NewLogHandler(recorder *services.Recorder) *LogHandler {
	return &LogHandler{recorder: recorder}
}

// Recent returns the newest audit entries, optionally for ?boardId=.
func (h *LogHandler) Recent(w http.ResponseWriter, r *http.Request) {
	var boardID *int64
	if v := r.URL.Query().Get("boardId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeMessage(w, http.StatusBadRequest, "Invalid board ID")
			return
		}
		boardID = &id
	}

	logs, err := h.recorder.Recent(r.Context(), boardID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
