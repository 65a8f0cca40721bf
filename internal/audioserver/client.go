package audioserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// ClipStore сохраняет клипы, записанные через WebSocket. Реализации: Service (локальный диск)
// и Client (микросервис audio).
type ClipStore interface {
	SaveClip(ctx context.Context, data []byte, mimeType string) (UploadResponse, error)
}

var (
	_ ClipStore = (*Service)(nil)
	_ ClipStore = (*Client)(nil)
)

// Client загружает клипы в микросервис audio тем же multipart-запросом, что и браузер.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewClient создаёт клиент. secret уходит в X-Internal-Secret: /upload закрыт для внешних адресов.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) SaveClip(ctx context.Context, data []byte, mimeType string) (UploadResponse, error) {
	ext, ok := extByMime[baseMime(mimeType)]
	if !ok {
		return UploadResponse{}, fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="voice`+ext+`"`)
	h.Set("Content-Type", baseMime(mimeType))
	part, err := mw.CreatePart(h)
	if err != nil {
		return UploadResponse{}, err
	}
	if _, err := part.Write(data); err != nil {
		return UploadResponse{}, err
	}
	if err := mw.Close(); err != nil {
		return UploadResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return UploadResponse{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.secret != "" {
		req.Header.Set("X-Internal-Secret", c.secret)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("audioserver client: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return UploadResponse{}, fmt.Errorf("audioserver client: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return UploadResponse{}, fmt.Errorf("audioserver client: decode: %w", err)
	}
	return out, nil
}
