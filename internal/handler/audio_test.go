package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/internal/audioserver"
	"github.com/pulse/internal/config"
	"github.com/pulse/internal/middleware"
)

func audioRouter(h *AudioHandler) chi.Router {
	r := chi.NewRouter()
	r.Post("/api/audio/upload", h.Upload)
	r.Get("/api/audio/{filename}", h.Serve)
	return r
}

func TestAudioServeLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.webm"), []byte("opus"), 0o644))
	h := NewAudioHandler(&config.Config{MaxUploadSize: 1 << 20}, "", audioserver.New(dir, 1<<20))
	r := audioRouter(h)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audio/clip.webm", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "opus", rec.Body.String())
	assert.Equal(t, "audio/webm", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audio/missing.ogg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAudioProxyForwardsSecret(t *testing.T) {
	var gotSecret, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get(middleware.InternalSecretHeader)
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"url":"/api/audio/x.ogg","size":` + strconv.Itoa(len(body)) + `}`))
	}))
	defer upstream.Close()

	h := NewAudioHandler(&config.Config{AudioServiceURL: upstream.URL + "/", MaxUploadSize: 1 << 20}, "s3cret", nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/audio/upload", strings.NewReader("abc"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	audioRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "s3cret", gotSecret)
	assert.Equal(t, "/upload", gotPath)
	assert.Equal(t, `{"url":"/api/audio/x.ogg","size":3}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestAudioProxyUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	h := NewAudioHandler(&config.Config{AudioServiceURL: url, MaxUploadSize: 1 << 20}, "", nil)
	rec := httptest.NewRecorder()
	audioRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audio/a.ogg", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
