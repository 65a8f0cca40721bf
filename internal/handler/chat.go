package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/middleware"
	"github.com/pulse/internal/model"
	"github.com/pulse/internal/presence"
	"github.com/pulse/internal/repository"
	"github.com/pulse/internal/timers"
	"github.com/pulse/internal/typing"
)

type ChatStore interface {
	GetUserChats(ctx context.Context, userID string) ([]model.Chat, error)
	FindPersonalChat(ctx context.Context, userID1, userID2 string) (*model.Chat, error)
	CreatePersonal(ctx context.Context, userID, peerID string, now time.Time) (*model.Chat, error)
	GetMemberIDs(ctx context.Context, chatID string) ([]string, error)
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}

type MessageReader interface {
	GetChatMessages(ctx context.Context, chatID string, now time.Time, limit, offset int) ([]model.Message, error)
	GetLastMessage(ctx context.Context, chatID string, now time.Time) (*model.Message, error)
}

type ChatHandler struct {
	chats    ChatStore
	users    UserLookup
	messages MessageReader
	rt       Realtime
	clock    timers.Clock
}

func NewChatHandler(chats ChatStore, users UserLookup, messages MessageReader, rt Realtime, clock timers.Clock) *ChatHandler {
	return &ChatHandler{chats: chats, users: users, messages: messages, rt: rt, clock: timers.OrReal(clock)}
}

type CreatePersonalChatRequest struct {
	UserID string `json:"user_id"`
}

func (h *ChatHandler) GetChats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chats, err := h.chats.GetUserChats(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get chats")
		return
	}
	viewer := viewerStatus(r.Context(), h.users, userID)
	result := make([]model.ChatWithLastMessage, 0, len(chats))
	for i := range chats {
		enriched, err := h.enrichChat(r.Context(), &chats[i], viewer)
		if err != nil {
			logger.Errorf("enrich chat %s: %v", chats[i].ID, err)
			continue
		}
		result = append(result, *enriched)
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ChatHandler) CreatePersonalChat(w http.ResponseWriter, r *http.Request) {
	var req CreatePersonalChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	currentUserID := middleware.GetUserID(r.Context())
	if req.UserID == currentUserID {
		writeError(w, http.StatusBadRequest, "cannot create chat with yourself")
		return
	}
	viewer := viewerStatus(r.Context(), h.users, currentUserID)

	existing, err := h.chats.FindPersonalChat(r.Context(), currentUserID, req.UserID)
	if err == nil {
		h.respondChat(w, r.Context(), existing, viewer, http.StatusOK)
		return
	}
	if !errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to find chat")
		return
	}

	if _, err := h.users.GetByID(r.Context(), req.UserID); err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	chat, err := h.chats.CreatePersonal(r.Context(), currentUserID, req.UserID, h.clock.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create chat")
		return
	}
	h.respondChat(w, r.Context(), chat, viewer, http.StatusCreated)
}

// GetTyping — кто сейчас печатает в чате (по событиям шины, без самого зрителя).
func (h *ChatHandler) GetTyping(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	userID := middleware.GetUserID(r.Context())
	if !h.member(w, r.Context(), chatID, userID) {
		return
	}
	typers := h.rt.Typing(chatID, userID)
	if typers == nil {
		typers = []typing.Typer{}
	}
	writeJSON(w, http.StatusOK, typers)
}

// member пишет ответ сам, если пользователь не участник чата.
func (h *ChatHandler) member(w http.ResponseWriter, ctx context.Context, chatID, userID string) bool {
	ok, err := h.chats.IsMember(ctx, chatID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return false
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a member of this chat")
		return false
	}
	return true
}

func (h *ChatHandler) respondChat(w http.ResponseWriter, ctx context.Context, chat *model.Chat, viewer presence.Status, status int) {
	enriched, err := h.enrichChat(ctx, chat, viewer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enrich chat")
		return
	}
	writeJSON(w, status, enriched)
}

func (h *ChatHandler) enrichChat(ctx context.Context, chat *model.Chat, viewer presence.Status) (*model.ChatWithLastMessage, error) {
	now := h.clock.Now()
	memberIDs, err := h.chats.GetMemberIDs(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	members, err := publicUsers(ctx, h.users, h.rt, memberIDs, viewer, now)
	if err != nil {
		return nil, err
	}
	last, err := h.messages.GetLastMessage(ctx, chat.ID, now)
	if err != nil {
		return nil, err
	}
	return &model.ChatWithLastMessage{Chat: *chat, LastMessage: last, Members: members}, nil
}
