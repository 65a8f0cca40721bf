package audioserver

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveClip(t *testing.T) {
	svc := New(t.TempDir(), 0)
	resp, err := svc.SaveClip(context.Background(), []byte("OggS-data"), "audio/webm;codecs=opus")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.URL, "/api/audio/"))
	assert.True(t, strings.HasSuffix(resp.URL, ".webm"))
	assert.Equal(t, int64(9), resp.FileSize)

	data, err := os.ReadFile(filepath.Join(svc.UploadDir, strings.TrimPrefix(resp.URL, "/api/audio/")))
	require.NoError(t, err)
	assert.Equal(t, "OggS-data", string(data))

	_, err = svc.SaveClip(context.Background(), []byte("x"), "image/png")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = svc.SaveClip(context.Background(), nil, "audio/webm")
	assert.ErrorIs(t, err, ErrEmpty)
}

func newAudioServer(svc *Service) *httptest.Server {
	r := chi.NewRouter()
	r.Post("/upload", svc.Upload)
	r.Get("/audio/{filename}", func(w http.ResponseWriter, r *http.Request) {
		svc.Serve(w, r, chi.URLParam(r, "filename"))
	})
	return httptest.NewServer(r)
}

func TestClientRoundTrip(t *testing.T) {
	svc := New(t.TempDir(), 0)
	srv := newAudioServer(svc)
	defer srv.Close()

	resp, err := NewClient(srv.URL, "").SaveClip(context.Background(), []byte("clip-bytes"), "audio/ogg")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(resp.URL, ".ogg"))

	get, err := http.Get(srv.URL + "/audio/" + strings.TrimPrefix(resp.URL, "/api/audio/"))
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)
	assert.Equal(t, "audio/ogg", get.Header.Get("Content-Type"))
}

func TestUploadRejectsNonAudio(t *testing.T) {
	svc := New(t.TempDir(), 0)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("png"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	svc.Upload(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "only audio files are allowed")
}

func TestServeRejectsTraversal(t *testing.T) {
	svc := New(t.TempDir(), 0)
	rec := httptest.NewRecorder()
	svc.Serve(rec, httptest.NewRequest(http.MethodGet, "/audio/x", nil), "../etc/passwd")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
