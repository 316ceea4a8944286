package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/docintel/internal/requestlog"
)

type LogsHandler struct {
	store *requestlog.Store
}

func NewLogsHandler(store *requestlog.Store) *LogsHandler {
	return &LogsHandler{store: store}
}

func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
