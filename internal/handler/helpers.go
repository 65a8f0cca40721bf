package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/model"
	"github.com/pulse/internal/presence"
	"github.com/pulse/internal/typing"
)

type errorResponse struct {
	Error string `json:"error"`
}

// Realtime — часть ws.Hub, которой пользуются HTTP-обработчики.
type Realtime interface {
	Online(userID string) bool
	Typing(chatID, viewerID string) []typing.Typer
	BroadcastPresence(ctx context.Context, userID string)
	BroadcastMood(ctx context.Context, userID string, mood *model.Mood)
	BroadcastStoryPosted(ctx context.Context, s *model.Story)
}

// UserLookup — чтение профилей для сборки UserPublic.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*model.User, error)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// viewerStatus — собственный статус зрителя; он влияет на то, что зритель видит у других.
func viewerStatus(ctx context.Context, users UserLookup, viewerID string) presence.Status {
	u, err := users.GetByID(ctx, viewerID)
	if err != nil || u.PresenceStatus == "" {
		return presence.StatusOnline
	}
	return u.PresenceStatus
}

// publicUsers собирает UserPublic для ids в том же порядке; неизвестные пропускаются.
func publicUsers(ctx context.Context, users UserLookup, rt Realtime, ids []string, viewer presence.Status, now time.Time) ([]model.UserPublic, error) {
	byID, err := users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.UserPublic, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, u.ToPublic(viewer, rt.Online(id), now))
	}
	return out, nil
}
