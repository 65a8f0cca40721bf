package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pulse/internal/middleware"
	"github.com/pulse/internal/review"
)

type ReviewSubmitter interface {
	Submit(ctx context.Context, s review.Submission) review.Result
}

type ReviewHandler struct {
	relay ReviewSubmitter
	users UserLookup
}

func NewReviewHandler(relay ReviewSubmitter, users UserLookup) *ReviewHandler {
	return &ReviewHandler{relay: relay, users: users}
}

// Submit пересылает отзыв в вебхук. Ответ всегда {success, error}; имя по умолчанию — из профиля.
func (h *ReviewHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var sub review.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, review.Result{Error: "invalid body"})
		return
	}
	if strings.TrimSpace(sub.Username) == "" {
		if u, err := h.users.GetByID(r.Context(), middleware.GetUserID(r.Context())); err == nil {
			sub.Username = u.Username
		}
	}
	if err := review.Validate(sub); err != nil {
		writeJSON(w, http.StatusBadRequest, review.Result{Error: err.Error()})
		return
	}
	res := h.relay.Submit(r.Context(), sub)
	switch {
	case res.Success:
		writeJSON(w, http.StatusOK, res)
	case res.Error == review.MsgDisabled:
		writeJSON(w, http.StatusServiceUnavailable, res)
	default:
		writeJSON(w, http.StatusBadGateway, res)
	}
}
