package handler

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulse/internal/audioserver"
	"github.com/pulse/internal/config"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/middleware"
)

// AudioHandler отдаёт голосовые: проксирует в микросервис audio или, если он не задан,
// работает с локальным каталогом.
type AudioHandler struct {
	local       *audioserver.Service
	audioClient *http.Client
	audioBase   string
	secret      string
	maxSize     int64
}

// NewAudioHandler создаёт handler. Пустой cfg.AudioServiceURL — файлы хранит local.
func NewAudioHandler(cfg *config.Config, secret string, local *audioserver.Service) *AudioHandler {
	h := &AudioHandler{local: local, secret: secret, maxSize: cfg.MaxUploadSize}
	if cfg.AudioServiceURL != "" {
		h.audioClient = &http.Client{Timeout: 60 * time.Second}
		h.audioBase = strings.TrimSuffix(cfg.AudioServiceURL, "/")
	}
	return h
}

func (h *AudioHandler) proxied() bool { return h.audioBase != "" }

// Upload проксирует POST на микросервис audio (multipart "file").
func (h *AudioHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if !h.proxied() {
		h.local.Upload(w, r)
		return
	}
	proxyReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, h.audioBase+"/upload", nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	proxyReq.Header.Set("Content-Type", r.Header.Get("Content-Type"))
	if h.secret != "" {
		proxyReq.Header.Set(middleware.InternalSecretHeader, h.secret)
	}
	proxyReq.Body = http.MaxBytesReader(w, r.Body, h.maxSize)
	if r.ContentLength > 0 {
		proxyReq.ContentLength = r.ContentLength
	}
	resp, err := h.audioClient.Do(proxyReq)
	if err != nil {
		logger.Errorf("audio upload proxy: request failed: %v", err)
		writeError(w, http.StatusBadGateway, "audio service unavailable")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		logger.Errorf("audio upload proxy: upstream status=%d body=%s", resp.StatusCode, bytes.TrimSpace(body))
		copyHeaders(w, resp, "Content-Type")
		w.WriteHeader(resp.StatusCode)
		w.Write(body)
		return
	}
	copyHeaders(w, resp, "Content-Length", "Content-Type")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// Serve отдаёт файл по имени.
func (h *AudioHandler) Serve(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(chi.URLParam(r, "filename"))
	if filename == "" || filename == "." || strings.Contains(filename, "..") {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if !h.proxied() {
		h.local.Serve(w, r, filename)
		return
	}
	proxyReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, h.audioBase+"/audio/"+url.PathEscape(filename), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp, err := h.audioClient.Do(proxyReq)
	if err != nil {
		logger.Errorf("audio serve proxy: request failed: %v", err)
		writeError(w, http.StatusBadGateway, "audio service unavailable")
		return
	}
	defer resp.Body.Close()
	copyHeaders(w, resp, "Content-Length", "Content-Type", "Content-Disposition")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func copyHeaders(w http.ResponseWriter, resp *http.Response, keys ...string) {
	for _, k := range keys {
		if v := resp.Header.Values(k); len(v) > 0 {
			w.Header()[http.CanonicalHeaderKey(k)] = v
		}
	}
}
