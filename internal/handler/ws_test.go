package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pulse/internal/middleware"
)

func TestWSCheckOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	open := NewWSHandler(nil, nil, " * ")
	assert.True(t, open.checkOrigin(req("https://evil.example")))

	h := NewWSHandler(nil, nil, "https://app.example, https://m.app.example")
	assert.True(t, h.checkOrigin(req("https://m.app.example")))
	assert.True(t, h.checkOrigin(req("")))
	assert.False(t, h.checkOrigin(req("https://evil.example")))
}

func TestServeWSRejectsBeforeUpgrade(t *testing.T) {
	f := newFixture()
	h := middleware.DevAuth(http.HandlerFunc(NewWSHandler(nil, f.users, "https://app.example").ServeWS))

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("X-User-Id", "u1")
	r.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("X-User-Id", "ghost")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
