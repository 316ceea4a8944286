package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/docintel/internal/requestlog"
)

// AppHeader identifies the calling application in the request log.
const AppHeader = "App-Identifier"

// Logging writes one structured line per request.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status(ww),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimiddleware.GetReqID(r.Context()),
				"remote", r.RemoteAddr,
			)
		})
	}
}

// RequestLog appends a record for every request to store. A failed write is
// logged and does not affect the response.
func RequestLog(store *requestlog.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			end := time.Now()

			app := r.Header.Get(AppHeader)
			if app == "" {
				app = "unknown"
			}
			id := chimiddleware.GetReqID(r.Context())
			if id == "" {
				id = uuid.NewString()
			}

			rec := requestlog.Record{
				ID:        id,
				App:       app,
				Path:      r.URL.Path,
				Method:    r.Method,
				Status:    status(ww),
				Duration:  end.Sub(start).Seconds(),
				Timestamp: float64(end.UnixNano()) / 1e9,
			}
			if err := store.Append(rec); err != nil {
				logger.Error("request log write failed", "error", err, "path", rec.Path)
			}
		})
	}
}

// RequestID sets a UUID request ID, honouring an incoming X-Request-ID, and
// echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(chimiddleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(chimiddleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), chimiddleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func status(ww chimiddleware.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}
