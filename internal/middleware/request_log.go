package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pulse/internal/logger"
)

// RequestLog меряет время запроса по шаблону маршрута chi (/api/stories/{id}, а не id),
// медленные пишет в лог через logger.LogDuration, ответы 5xx — всегда.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		logger.LogDuration("http "+r.Method+" "+route, start)
		if ww.Status() >= http.StatusInternalServerError {
			logger.Warnf("http %s %s user=%s status=%d", r.Method, route, Mask(GetUserID(r.Context())), ww.Status())
		}
	})
}
