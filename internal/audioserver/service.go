package audioserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pulse/internal/logger"
)

// Разрешённые расширения и MIME для голосовых (opus/webm, ogg, m4a).
var allowedExt = map[string]bool{
	".ogg": true, ".oga": true, ".webm": true, ".m4a": true, ".mp4": true,
}

var allowedMime = map[string]bool{
	"audio/ogg": true, "audio/webm": true, "audio/mp4": true, "audio/mpeg": true,
	"audio/x-m4a": true, "video/webm": true, "audio/opus": true,
	"audio/aac": true, "audio/x-aac": true,
}

// extByMime — расширение файла для клипа, записанного на сервере.
var extByMime = map[string]string{
	"audio/webm": ".webm", "video/webm": ".webm", "audio/ogg": ".ogg", "audio/opus": ".ogg",
	"audio/mp4": ".m4a", "audio/x-m4a": ".m4a", "audio/aac": ".m4a", "audio/x-aac": ".m4a",
}

const maxUploadSize = 25 << 20 // 25 MB

var (
	ErrUnsupported = errors.New("audioserver: unsupported audio type")
	ErrEmpty       = errors.New("audioserver: empty clip")
)

// UploadResponse — ответ после успешной загрузки.
type UploadResponse struct {
	URL         string `json:"url"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

// Service хранит голосовые на диске: загрузки из браузера (Upload) и клипы, записанные
// через WebSocket (SaveClip).
type Service struct {
	UploadDir     string
	MaxUploadSize int64
	// URLPrefix — префикс публичного URL файла.
	URLPrefix string
}

// New создаёт сервис с заданным каталогом и лимитом размера (в байтах).
func New(uploadDir string, maxSize int64) *Service {
	if maxSize <= 0 || maxSize > maxUploadSize {
		maxSize = maxUploadSize
	}
	return &Service{UploadDir: uploadDir, MaxUploadSize: maxSize, URLPrefix: "/api/audio/"}
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("audioserver writeJSON: %v", err)
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// baseMime отрезает параметры: "audio/webm;codecs=opus" -> "audio/webm".
func baseMime(ct string) string {
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// SaveClip сохраняет записанный клип и возвращает его публичный URL.
func (s *Service) SaveClip(ctx context.Context, data []byte, mimeType string) (UploadResponse, error) {
	if len(data) == 0 {
		return UploadResponse{}, ErrEmpty
	}
	ext, ok := extByMime[baseMime(mimeType)]
	if !ok {
		return UploadResponse{}, fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}
	if int64(len(data)) > s.MaxUploadSize {
		return UploadResponse{}, fmt.Errorf("audioserver: clip of %d bytes exceeds limit", len(data))
	}
	name, n, err := s.store(ctx, bytes.NewReader(data), ext)
	if err != nil {
		return UploadResponse{}, err
	}
	logger.Infof("audioserver clip: ok filename=%s size=%d", name, n)
	return UploadResponse{URL: s.URLPrefix + name, FileName: "voice" + ext, FileSize: n, ContentType: "voice"}, nil
}

// store пишет src в новый файл <uuid><ext>. Недописанный файл удаляется.
func (s *Service) store(ctx context.Context, src io.Reader, ext string) (string, int64, error) {
	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("audioserver: mkdir %s: %w", s.UploadDir, err)
	}
	name := uuid.NewString() + ext
	dstPath := filepath.Join(s.UploadDir, name)
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", 0, fmt.Errorf("audioserver: create %s: %w", dstPath, err)
	}
	n, err := copyWithContext(ctx, dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dstPath)
		return "", 0, err
	}
	return name, n, nil
}

// Upload обрабатывает POST multipart/form-data с полем "file" (только аудио).
func (s *Service) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadSize)

	if err := r.ParseMultipartForm(s.MaxUploadSize); err != nil {
		logger.Errorf("audioserver upload: parse multipart: %v", err)
		s.writeError(w, http.StatusBadRequest, "file too large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(strings.ReplaceAll(header.Filename, "+", " ")))
	if !allowedExt[ext] {
		logger.Warnf("audioserver upload: disallowed extension filename=%q", header.Filename)
		s.writeError(w, http.StatusBadRequest, "only audio files are allowed")
		return
	}
	// Пустой Content-Type допустим: часть браузеров его не выставляет, тогда решает расширение.
	if ct := baseMime(header.Header.Get("Content-Type")); ct != "" && !allowedMime[ct] {
		logger.Warnf("audioserver upload: disallowed content-type filename=%q content_type=%q", header.Filename, ct)
		s.writeError(w, http.StatusBadRequest, "only audio content type allowed")
		return
	}

	name, n, err := s.store(ctx, file, ext)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Errorf("audioserver upload: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}
	logger.Infof("audioserver upload: ok filename=%s size=%d", name, n)
	s.writeJSON(w, http.StatusOK, UploadResponse{
		URL:         s.URLPrefix + name,
		FileName:    "voice" + ext,
		FileSize:    n,
		ContentType: "voice",
	})
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var n int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		nr, err := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			n += int64(nw)
			if ew != nil {
				return n, ew
			}
		}
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
}

// validName — имя файла без путей, как его выдал store.
func validName(filename string) bool {
	return filename != "" && !strings.Contains(filename, "..") && !strings.ContainsAny(filename, `/\`)
}

// Serve отдаёт файл по имени (для воспроизведения).
func (s *Service) Serve(w http.ResponseWriter, r *http.Request, filename string) {
	if !validName(filename) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	f, err := os.Open(filepath.Join(s.UploadDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	ct := "audio/ogg"
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".webm":
		ct = "audio/webm"
	case ".m4a", ".mp4":
		ct = "audio/mp4"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	http.ServeContent(w, r, filename, info.ModTime(), f)
}
