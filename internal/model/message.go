package model

import "time"

type ContentType string

const (
	ContentTypeText   ContentType = "text"
	ContentTypeVoice  ContentType = "voice"
	ContentTypeSystem ContentType = "system"
)

type Message struct {
	ID          string      `json:"id"`
	ChatID      string      `json:"chat_id"`
	SenderID    string      `json:"sender_id"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	FileURL     string      `json:"file_url,omitempty"`
	DurationMs  int64       `json:"duration_ms,omitempty"`
	// Ephemeral — исчезающее сообщение, удаляется janitor после ExpiresAt.
	Ephemeral bool        `json:"ephemeral"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Sender    *UserPublic `json:"sender,omitempty"`
}

// MessageRef — удалённое сообщение (для рассылки message_deleted).
type MessageRef struct {
	ID     string `json:"message_id"`
	ChatID string `json:"chat_id"`
}
