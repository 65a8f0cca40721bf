package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pulse/internal/middleware"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// GetMessages — страница истории чата, новые первыми. Истёкшие исчезающие сообщения не попадают.
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	if !h.member(w, r.Context(), chatID, middleware.GetUserID(r.Context())) {
		return
	}
	limit := queryInt(r, "limit", defaultMessageLimit)
	if limit <= 0 || limit > maxMessageLimit {
		limit = defaultMessageLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	messages, err := h.messages.GetChatMessages(r.Context(), chatID, h.clock.Now(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}
