package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/storage"
)

// RateLimiter ограничивает запросы по IP и по user_id поверх общего RateStore (Redis или память),
// поэтому лимит действует на все инстансы API сразу.
type RateLimiter struct {
	store   storage.RateStore
	perIP   int
	perUser int
	window  time.Duration
}

// NewRateLimiter создаёт лимитер: perIP запросов с одного IP и perIP/2 от одного пользователя за window.
func NewRateLimiter(store storage.RateStore, perIP int, window time.Duration) *RateLimiter {
	perUser := perIP / 2
	if perUser < 1 {
		perUser = 1
	}
	return &RateLimiter{store: store, perIP: perIP, perUser: perUser, window: window}
}

func clientIP(r *http.Request) string {
	if x := r.Header.Get("X-Real-Ip"); x != "" {
		return x
	}
	if x := r.Header.Get("X-Forwarded-For"); x != "" {
		if i := strings.Index(x, ","); i > 0 {
			return strings.TrimSpace(x[:i])
		}
		return x
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// allow при ошибке хранилища пропускает запрос: лимит не должен ронять API.
func (l *RateLimiter) allow(r *http.Request, key string, limit int) bool {
	ok, err := l.store.Allow(r.Context(), key, limit, l.window)
	if err != nil {
		logger.Errorf("ratelimit %s: %v", key, err)
		return true
	}
	return ok
}

// Handler — middleware для /api/*. 429 при превышении.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(r, "rl:ip:"+clientIP(r), l.perIP) {
			http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
			return
		}
		if userID := GetUserID(r.Context()); userID != "" {
			if !l.allow(r, "rl:u:"+userID, l.perUser) {
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
