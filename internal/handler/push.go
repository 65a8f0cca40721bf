package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/middleware"
	"github.com/pulse/internal/push"
)

// PushService — клиент микросервиса пушей (push.Client).
type PushService interface {
	Enabled() bool
	Subscribe(ctx context.Context, userID string, sub push.PushSubscription) error
	Unsubscribe(ctx context.Context, userID, endpoint string) error
	PublicKey(ctx context.Context) (string, error)
}

// PushHandler — подписка браузера на пуши (рубежи серии, сообщения оффлайн).
type PushHandler struct {
	svc PushService

	mu        sync.Mutex
	publicKey string
}

// NewPushHandler создаёт обработчик. publicKey из конфига; пустой — ключ спрашиваем у сервиса.
func NewPushHandler(svc PushService, publicKey string) *PushHandler {
	return &PushHandler{svc: svc, publicKey: publicKey}
}

// PushConfig — то, что нужно фронту для PushManager.subscribe().
type PushConfig struct {
	Enabled        bool   `json:"enabled"`
	VAPIDPublicKey string `json:"vapid_public_key,omitempty"`
}

// GetConfig отдаёт VAPID-ключ. Пока сервис недоступен, пуши считаются выключенными.
func (h *PushHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Enabled() {
		writeJSON(w, http.StatusOK, PushConfig{})
		return
	}
	key, err := h.vapidKey(r.Context())
	if err != nil {
		logger.Warnf("push config: %v", err)
	}
	writeJSON(w, http.StatusOK, PushConfig{Enabled: key != "", VAPIDPublicKey: key})
}

func (h *PushHandler) vapidKey(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.publicKey != "" {
		return h.publicKey, nil
	}
	key, err := h.svc.PublicKey(ctx)
	if err != nil {
		return "", err
	}
	h.publicKey = key
	return key, nil
}

type SubscribeRequest struct {
	Subscription push.PushSubscription `json:"subscription"`
}

// Subscribe сохраняет подписку текущего пользователя.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if !req.Subscription.Valid() {
		writeError(w, http.StatusBadRequest, "subscription.endpoint and subscription.keys required")
		return
	}
	if !h.svc.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "push disabled")
		return
	}
	if err := h.svc.Subscribe(r.Context(), userID, req.Subscription); err != nil {
		logger.Errorf("push subscribe user=%s: %v", userID, err)
		writeError(w, http.StatusBadGateway, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.svc.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe user=%s: %v", userID, err)
		writeError(w, http.StatusBadGateway, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
