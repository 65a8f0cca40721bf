package model

import (
	"time"

	"github.com/pulse/internal/presence"
)

type User struct {
	ID             string          `json:"id"`
	Username       string          `json:"username"`
	Email          string          `json:"email"`
	AvatarURL      string          `json:"avatar_url"`
	PresenceStatus presence.Status `json:"presence_status"`
	LastSeenAt     time.Time       `json:"last_seen_at"`
	Mood           *Mood           `json:"mood,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Mood — короткий статус пользователя (эмодзи + текст), живёт 24 часа.
type Mood struct {
	Emoji     string    `json:"emoji"`
	Text      string    `json:"text"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active — настроение ещё не истекло.
func (m *Mood) Active(now time.Time) bool {
	return m != nil && now.Before(m.ExpiresAt)
}

// UserPublic — то, что видит другой пользователь. Presence вычисляется для конкретного зрителя,
// поэтому собственный статус и точное last_seen наружу не отдаются.
type UserPublic struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	AvatarURL string         `json:"avatar_url"`
	Mood      *Mood          `json:"mood,omitempty"`
	Presence  *presence.View `json:"presence,omitempty"`
}

// ToPublic собирает публичное представление для зрителя viewerStatus.
func (u *User) ToPublic(viewerStatus presence.Status, online bool, now time.Time) UserPublic {
	view := presence.Resolve(presence.Connected(u.PresenceStatus, online), viewerStatus, u.LastSeenAt, now)
	p := UserPublic{
		ID:        u.ID,
		Username:  u.Username,
		AvatarURL: u.AvatarURL,
		Presence:  &view,
	}
	if u.Mood.Active(now) {
		p.Mood = u.Mood
	}
	return p
}
