package handlers

import (
	"net/http"
	"os"
)

// DashboardHandler serves a single static HTML page from disk.
type DashboardHandler struct {
	path string
}

func NewDashboardHandler(path string) *DashboardHandler {
	return &DashboardHandler{path: path}
}

func (h *DashboardHandler) Serve(w http.ResponseWriter, r *http.Request) {
	info, err := os.Stat(h.path)
	if err != nil || info.IsDir() {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "dashboard not found"})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeFile(w, r, h.path)
}
