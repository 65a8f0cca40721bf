package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pulse/internal/logger"
)

// secretHeader совпадает с middleware.InternalSecretHeader сервиса пушей.
const secretHeader = "X-Internal-Secret"

// Client вызывает микросервис пуш-уведомлений. Пустой URL — все методы no-op.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

func NewClient(baseURL, secret string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled — задан ли URL сервиса.
func (c *Client) Enabled() bool { return c.baseURL != "" }

type SubscribeRequest struct {
	UserID       string           `json:"user_id"`
	Subscription PushSubscription `json:"subscription"`
}

// PushSubscription — подписка из браузера (PushManager.subscribe()).
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Valid — есть всё, что нужно для шифрования payload.
func (s PushSubscription) Valid() bool {
	return s.Endpoint != "" && s.Keys.P256dh != "" && s.Keys.Auth != ""
}

type NotifyRequest struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

func (c *Client) Subscribe(ctx context.Context, userID string, sub PushSubscription) error {
	if !c.Enabled() {
		return nil
	}
	if _, err := c.call(ctx, http.MethodPost, "/api/subscribe", SubscribeRequest{UserID: userID, Subscription: sub}); err != nil {
		return fmt.Errorf("push.Subscribe: %w", err)
	}
	return nil
}

func (c *Client) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if !c.Enabled() {
		return nil
	}
	body := map[string]string{"user_id": userID, "endpoint": endpoint}
	if _, err := c.call(ctx, http.MethodDelete, "/api/subscribe", body); err != nil {
		return fmt.Errorf("push.Unsubscribe: %w", err)
	}
	return nil
}

// Notify отправляет пуш пользователю. Ошибки только логируются: пуш не должен ломать
// основной сценарий (рубеж серии, сообщение оффлайн-участнику).
func (c *Client) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if !c.Enabled() {
		return
	}
	if _, err := c.call(ctx, http.MethodPost, "/api/notify", NotifyRequest{UserID: userID, Title: title, Body: body, Data: data}); err != nil {
		logger.Errorf("push notify user=%s: %v", userID, err)
	}
}

// PublicKey запрашивает у сервиса VAPID-ключ, которым браузер подписывается.
func (c *Client) PublicKey(ctx context.Context) (string, error) {
	if !c.Enabled() {
		return "", nil
	}
	raw, err := c.call(ctx, http.MethodGet, "/api/vapid-public", nil)
	if err != nil {
		return "", fmt.Errorf("push.PublicKey: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// call выполняет запрос; успехом считаются 200 и 204.
func (c *Client) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set(secretHeader, c.secret)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return raw, nil
}
