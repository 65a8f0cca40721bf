package push

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/pulse/internal/logger"
)

const (
	redisKeyPrefix  = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
	notifyTimeout   = 10 * time.Second
)

// SubscriptionStore хранит подписки браузеров по пользователю.
type SubscriptionStore interface {
	Add(ctx context.Context, userID string, sub PushSubscription) error
	Remove(ctx context.Context, userID, endpoint string) error
	List(ctx context.Context, userID string) ([]PushSubscription, error)
}

// Sender доставляет payload одной подписке и возвращает HTTP-статус push-сервиса браузера.
type Sender func(ctx context.Context, payload []byte, sub PushSubscription) (int, error)

// RedisSubscriptions — подписки в списке Redis, не больше maxSubsPerUser, TTL продлевается при записи.
type RedisSubscriptions struct {
	rdb *redis.Client
}

func NewRedisSubscriptions(rdb *redis.Client) *RedisSubscriptions {
	return &RedisSubscriptions{rdb: rdb}
}

// Add заменяет подписку с тем же endpoint (браузер переподписался с новыми ключами).
func (s *RedisSubscriptions) Add(ctx context.Context, userID string, sub PushSubscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	kept, err := s.without(ctx, userID, sub.Endpoint)
	if err != nil {
		return err
	}
	key := redisKeyPrefix + userID
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		for _, v := range kept {
			pipe.RPush(ctx, key, v)
		}
		pipe.RPush(ctx, key, string(raw))
		pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
		pipe.Expire(ctx, key, subscriptionTTL)
		return nil
	})
	return err
}

func (s *RedisSubscriptions) Remove(ctx context.Context, userID, endpoint string) error {
	kept, err := s.without(ctx, userID, endpoint)
	if err != nil {
		return err
	}
	key := redisKeyPrefix + userID
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		for _, v := range kept {
			pipe.RPush(ctx, key, v)
		}
		if len(kept) > 0 {
			pipe.Expire(ctx, key, subscriptionTTL)
		}
		return nil
	})
	return err
}

func (s *RedisSubscriptions) List(ctx context.Context, userID string) ([]PushSubscription, error) {
	list, err := s.rdb.LRange(ctx, redisKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	subs := make([]PushSubscription, 0, len(list))
	for _, item := range list {
		var sub PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// without — сырые записи пользователя, кроме подписки с endpoint.
func (s *RedisSubscriptions) without(ctx context.Context, userID, endpoint string) ([]string, error) {
	list, err := s.rdb.LRange(ctx, redisKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	kept := list[:0]
	for _, item := range list {
		var sub PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

// WebPushSender подписывает запросы VAPID-ключами. keys == nil — отправка отключена.
func WebPushSender(keys *VAPIDKeys, subscriber string) Sender {
	if keys == nil || keys.PublicKey == "" || keys.PrivateKey == "" {
		return nil
	}
	opts := &webpush.Options{
		Subscriber:      subscriber,
		VAPIDPublicKey:  keys.PublicKey,
		VAPIDPrivateKey: keys.PrivateKey,
		TTL:             30,
	}
	return func(ctx context.Context, payload []byte, sub PushSubscription) (int, error) {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}, opts)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		return resp.StatusCode, nil
	}
}

// Server — HTTP API микросервиса пушей. Вызывается только из API (сеть сервисов).
type Server struct {
	subs      SubscriptionStore
	send      Sender
	publicKey string
}

// NewServer создаёт сервер. send == nil — подписки сохраняются, отправка не выполняется.
func NewServer(subs SubscriptionStore, send Sender, publicKey string) *Server {
	return &Server{subs: subs, send: send, publicKey: publicKey}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Route("/api", func(r chi.Router) {
		r.Get("/vapid-public", s.handleVAPIDPublic)
		r.Post("/subscribe", s.handleSubscribe)
		r.Delete("/subscribe", s.handleUnsubscribe)
		r.Post("/notify", s.handleNotify)
	})
	return r
}

func (s *Server) handleVAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if s.publicKey == "" {
		http.Error(w, "push not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(s.publicKey))
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || !req.Subscription.Valid() {
		http.Error(w, "user_id and subscription (endpoint, keys.p256dh, keys.auth) required", http.StatusBadRequest)
		return
	}
	if err := s.subs.Add(r.Context(), req.UserID, req.Subscription); err != nil {
		logger.Errorf("push subscribe: %v", err)
		http.Error(w, "failed to save subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Endpoint == "" {
		http.Error(w, "user_id and endpoint required", http.StatusBadRequest)
		return
	}
	if err := s.subs.Remove(r.Context(), req.UserID, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe: %v", err)
		http.Error(w, "failed to remove subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleNotify рассылает уведомление на все подписки пользователя. Подписки, которые
// браузер отозвал (404/410), удаляются.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), notifyTimeout)
	defer cancel()
	subs, err := s.subs.List(ctx, req.UserID)
	if err != nil {
		logger.Errorf("push notify list: %v", err)
		http.Error(w, "failed to get subscriptions", http.StatusInternalServerError)
		return
	}
	if s.send != nil {
		payload, _ := json.Marshal(map[string]any{"title": req.Title, "body": req.Body, "data": req.Data})
		for _, sub := range subs {
			status, err := s.send(ctx, payload, sub)
			if err != nil {
				logger.Errorf("push send %s: %v", sub.Endpoint[:min(50, len(sub.Endpoint))], err)
				continue
			}
			if status == http.StatusGone || status == http.StatusNotFound {
				if err := s.subs.Remove(ctx, req.UserID, sub.Endpoint); err != nil {
					logger.Warnf("push drop expired subscription: %v", err)
				}
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
