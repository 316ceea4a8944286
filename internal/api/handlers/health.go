package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nikhilbhutani/docintel/internal/apperr"
)

// CredentialStatus reports whether the brokered token is usable.
type CredentialStatus interface {
	Valid() bool
}

// EngineProbe reports whether the local OCR engine can run.
type EngineProbe interface {
	IsAvailable(ctx context.Context) bool
}

type HealthHandler struct {
	credential CredentialStatus
	ocr        EngineProbe
}

func NewHealthHandler(credential CredentialStatus, ocr EngineProbe) *HealthHandler {
	return &HealthHandler{credential: credential, ocr: ocr}
}

func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "API is live!"})
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}

	if h.credential != nil {
		if h.credential.Valid() {
			checks["credential"] = "ok"
		} else {
			checks["credential"] = "unhealthy: no valid access token"
		}
	}

	if h.ocr != nil {
		if h.ocr.IsAvailable(r.Context()) {
			checks["ocr"] = "ok"
		} else {
			checks["ocr"] = "unhealthy: tesseract not available"
		}
	}

	status := http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, status, map[string]interface{}{"status": statusStr(status), "checks": checks})
}

func statusStr(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "unhealthy"
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError renders err as {"error": message} with the status of its kind.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.Status(err), map[string]string{"error": apperr.Message(err)})
}
