package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pulse/internal/logger"
)

// RecoverJSON ловит панику обработчика: логирует её со стеком и, если заголовки ещё
// не ушли, отвечает JSON 500. http.ErrAbortHandler пробрасывается дальше.
// Обёртка chi сохраняет http.Hijacker, так что WebSocket upgrade работает.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Errorf("panic recovered %s %s user=%s: %v", r.Method, r.URL.Path, Mask(GetUserID(r.Context())), rec)
			logger.Debugf("%s", debug.Stack())
			if ww.Status() == 0 {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(ww, r)
	})
}
