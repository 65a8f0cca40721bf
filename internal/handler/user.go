package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/middleware"
	"github.com/pulse/internal/model"
	"github.com/pulse/internal/presence"
	"github.com/pulse/internal/repository"
	"github.com/pulse/internal/streak"
	"github.com/pulse/internal/timers"
)

const (
	// MoodLifetime — сколько живёт настроение.
	MoodLifetime = 24 * time.Hour
	maxMoodText  = 80
	maxMoodEmoji = 8
	searchLimit  = 20
)

type UserStore interface {
	UserLookup
	Upsert(ctx context.Context, u *model.User) error
	SearchByUsername(ctx context.Context, query string, limit int) ([]model.User, error)
	SetPresenceStatus(ctx context.Context, id string, status presence.Status) error
	SetMood(ctx context.Context, id string, mood *model.Mood) error
}

type StreakReader interface {
	Get(ctx context.Context, userID string) (streak.Record, error)
}

type UserHandler struct {
	users   UserStore
	streaks StreakReader
	rt      Realtime
	clock   timers.Clock
}

func NewUserHandler(users UserStore, streaks StreakReader, rt Realtime, clock timers.Clock) *UserHandler {
	return &UserHandler{users: users, streaks: streaks, rt: rt, clock: timers.OrReal(clock)}
}

// MeResponse — собственный профиль: выбранный статус виден только владельцу.
type MeResponse struct {
	model.UserPublic
	PresenceStatus presence.Status `json:"presence_status"`
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{
		UserPublic:     user.ToPublic(user.PresenceStatus, h.rt.Online(userID), h.clock.Now()),
		PresenceStatus: user.PresenceStatus,
	})
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	viewer := viewerStatus(r.Context(), h.users, middleware.GetUserID(r.Context()))
	writeJSON(w, http.StatusOK, user.ToPublic(viewer, h.rt.Online(id), h.clock.Now()))
}

// GetPresence возвращает статус пользователя так, как его видит текущий зритель.
func (h *UserHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	viewer := viewerStatus(r.Context(), h.users, middleware.GetUserID(r.Context()))
	subject := presence.Connected(user.PresenceStatus, h.rt.Online(id))
	writeJSON(w, http.StatusOK, presence.Resolve(subject, viewer, user.LastSeenAt, h.clock.Now()))
}

func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, []model.UserPublic{})
		return
	}
	users, err := h.users.SearchByUsername(r.Context(), q, searchLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	currentUserID := middleware.GetUserID(r.Context())
	viewer := viewerStatus(r.Context(), h.users, currentUserID)
	now := h.clock.Now()
	result := make([]model.UserPublic, 0, len(users))
	for i := range users {
		if users[i].ID != currentUserID {
			result = append(result, users[i].ToPublic(viewer, h.rt.Online(users[i].ID), now))
		}
	}
	writeJSON(w, http.StatusOK, result)
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus меняет выбранный статус и рассылает контактам новое представление.
func (h *UserHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	status, err := presence.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "status must be one of online, idle, dnd, invisible")
		return
	}
	userID := middleware.GetUserID(r.Context())
	if err := h.users.SetPresenceStatus(r.Context(), userID, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}
	h.rt.BroadcastPresence(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]presence.Status{"status": status})
}

type UpdateMoodRequest struct {
	Emoji string `json:"emoji"`
	Text  string `json:"text"`
}

// UpdateMood ставит настроение на сутки; пустые emoji и text снимают его.
func (h *UserHandler) UpdateMood(w http.ResponseWriter, r *http.Request) {
	var req UpdateMoodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Emoji = strings.TrimSpace(req.Emoji)
	req.Text = strings.TrimSpace(req.Text)
	if utf8.RuneCountInString(req.Emoji) > maxMoodEmoji || utf8.RuneCountInString(req.Text) > maxMoodText {
		writeError(w, http.StatusBadRequest, "mood is too long")
		return
	}
	var mood *model.Mood
	if req.Emoji != "" || req.Text != "" {
		mood = &model.Mood{Emoji: req.Emoji, Text: req.Text, ExpiresAt: h.clock.Now().Add(MoodLifetime)}
	}
	userID := middleware.GetUserID(r.Context())
	if err := h.users.SetMood(r.Context(), userID, mood); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update mood")
		return
	}
	h.rt.BroadcastMood(r.Context(), userID, mood)
	if mood == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, mood)
}

func (h *UserHandler) GetStreak(w http.ResponseWriter, r *http.Request) {
	rec, err := h.streaks.Get(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get streak")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// EnsureUser заводит профиль при первом запросе в dev-режиме, где нет auth-сервиса.
func (h *UserHandler) EnsureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.GetUserID(r.Context())
		if userID != "" {
			if _, err := h.users.GetByID(r.Context(), userID); errors.Is(err, repository.ErrNotFound) {
				u := &model.User{ID: userID, Username: userID, CreatedAt: h.clock.Now().UTC()}
				if err := h.users.Upsert(r.Context(), u); err != nil {
					logger.Errorf("dev: upsert user %s: %v", userID, err)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
