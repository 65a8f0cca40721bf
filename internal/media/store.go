// Package media хранит картинки и короткие видео историй на локальном диске.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/pulse/internal/logger"
)

// URLPrefix — публичный префикс файлов; content_ref истории начинается с него.
const URLPrefix = "/api/media/"

const defaultMaxSize = 20 << 20

// allowedExt — что можно выложить в историю, и Content-Type при раздаче.
var allowedExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

var (
	ErrNotAllowed = errors.New("media: file type not allowed")
	ErrMismatch   = errors.New("media: content does not match type")
)

// UploadResponse — ответ на загрузку. URL передаётся в content_ref при создании истории.
type UploadResponse struct {
	URL         string `json:"url"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

type Store struct {
	Dir     string
	MaxSize int64
}

func New(dir string, maxSize int64) *Store {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &Store{Dir: dir, MaxSize: maxSize}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("media writeJSON: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Upload принимает multipart/form-data с полем "file".
func (s *Store) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxSize)
	if err := r.ParseMultipartForm(s.MaxSize); err != nil {
		writeError(w, http.StatusBadRequest, "file too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	resp, err := s.Save(r.Context(), strings.ToLower(filepath.Ext(header.Filename)), file)
	switch {
	case errors.Is(err, ErrNotAllowed), errors.Is(err, ErrMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		if r.Context().Err() != nil {
			return
		}
		logger.Errorf("media upload: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Save проверяет сигнатуру файла и пишет его под новым именем.
func (s *Store) Save(ctx context.Context, ext string, src io.Reader) (UploadResponse, error) {
	ct, ok := allowedExt[ext]
	if !ok {
		return UploadResponse{}, ErrNotAllowed
	}
	head := make([]byte, 512)
	n, _ := io.ReadAtLeast(src, head, len(head))
	head = head[:n]
	if !matchMagic(ext, head) {
		return UploadResponse{}, ErrMismatch
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return UploadResponse{}, fmt.Errorf("media.Save mkdir: %w", err)
	}
	name := uuid.NewString() + ext
	path := filepath.Join(s.Dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("media.Save create: %w", err)
	}
	size, err := copyWithContext(ctx, dst, io.MultiReader(bytes.NewReader(head), src))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return UploadResponse{}, fmt.Errorf("media.Save write: %w", err)
	}
	return UploadResponse{URL: URLPrefix + name, FileSize: size, ContentType: ct}, nil
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".heic", ".mp4":
		return len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp"))
	case ".webm":
		return len(head) >= 4 && bytes.Equal(head[:4], []byte{0x1A, 0x45, 0xDF, 0xA3})
	}
	return false
}

func validName(name string) bool {
	return name != "" && !strings.Contains(name, "..") && !strings.ContainsAny(name, `/\`)
}

// Serve отдаёт файл по имени.
func (s *Store) Serve(w http.ResponseWriter, r *http.Request, name string) {
	ct, ok := allowedExt[strings.ToLower(filepath.Ext(name))]
	if !ok || !validName(name) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	f, err := os.Open(filepath.Join(s.Dir, name))
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", ct)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// Remove удаляет файлы по content_ref истёкших историй. Чужие ссылки пропускаются,
// уже удалённые файлы ошибкой не считаются.
func (s *Store) Remove(_ context.Context, refs []string) (int, error) {
	removed := 0
	var errs []error
	for _, ref := range refs {
		name, ok := strings.CutPrefix(ref, URLPrefix)
		if !ok || !validName(name) {
			continue
		}
		err := os.Remove(filepath.Join(s.Dir, name))
		switch {
		case err == nil:
			removed++
		case !errors.Is(err, os.ErrNotExist):
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("upload cancelled: %w", err)
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("write: %w", err)
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, fmt.Errorf("read: %w", readErr)
		}
	}
}
