package middleware

import (
	"net"
	"net/http"
	"strings"
)

// InternalSecretHeader — заголовок, которым API подписывает вызовы внутренних сервисов.
const InternalSecretHeader = "X-Internal-Secret"

// InternalOnly разрешает запрос только с приватных IP или при совпадении InternalSecretHeader с secret.
// Загрузка в audio-сервис не экспонируется наружу: туда пишет только API из той же сети.
func InternalOnly(secret string) func(http.Handler) http.Handler {
	secret = strings.TrimSpace(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" && r.Header.Get(InternalSecretHeader) == secret {
				next.ServeHTTP(w, r)
				return
			}
			if isPrivateIP(clientIP(r)) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
