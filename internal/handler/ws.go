package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/middleware"
	"github.com/pulse/internal/ws"
)

// WSHandler поднимает WebSocket: presence, typing, просмотр историй и запись голосовых идут через него.
type WSHandler struct {
	hub      *ws.Hub
	users    UserLookup
	origins  map[string]struct{}
	upgrader websocket.Upgrader
}

// NewWSHandler создаёт обработчик. allowedOrigins — как в CORS: список через запятую, "*" или пусто — любой.
func NewWSHandler(hub *ws.Hub, users UserLookup, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub, users: users}
	if v := strings.TrimSpace(allowedOrigins); v != "" && v != "*" {
		h.origins = make(map[string]struct{})
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				h.origins[o] = struct{}{}
			}
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin пропускает запросы без Origin (нативные клиенты).
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.origins == nil {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}
	// Имя нужно заранее: оно уходит в typing-события без запроса к БД на каждое нажатие.
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("ws upgrade user=%s: %v", middleware.Mask(userID), err)
		return
	}

	// Соединение живёт дольше запроса: контекст не наследует r.Context().
	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, userID, user.Username)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
