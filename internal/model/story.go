package model

import "time"

type Story struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	ContentRef string    `json:"content_ref"`
	Caption    string    `json:"caption,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	ViewerIDs  []string  `json:"viewer_ids,omitempty"`
	Viewed     bool      `json:"viewed"`
}

// StoryViewer — кто и когда посмотрел историю (видно только владельцу).
type StoryViewer struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	ViewedAt time.Time `json:"viewed_at"`
}

// StoryGroup — активные истории одного автора в порядке публикации.
type StoryGroup struct {
	Owner   UserPublic `json:"owner"`
	Stories []Story    `json:"stories"`
}
