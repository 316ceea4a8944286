package handlers

import (
	"context"
	"log/slog"
	"net/http"
)

// TokenSource returns the current delegated-access token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenHandler serves the brokered token. Callers are authenticated by
// middleware before reaching it.
type TokenHandler struct {
	tokens TokenSource
	logger *slog.Logger
}

func NewTokenHandler(tokens TokenSource, logger *slog.Logger) *TokenHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenHandler{tokens: tokens, logger: logger}
}

func (h *TokenHandler) AccessToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.tokens.Token(r.Context())
	if err != nil {
		h.logger.Error("access token unavailable", "error", err)
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"access_token": tok})
}
