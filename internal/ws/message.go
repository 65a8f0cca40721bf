package ws

import (
	"time"

	"github.com/pulse/internal/model"
	"github.com/pulse/internal/presence"
	"github.com/pulse/internal/streak"
	"github.com/pulse/internal/typing"
)

type EventType string

const (
	EventNewMessage      EventType = "new_message"
	EventMessageDeleted  EventType = "message_deleted"
	EventTyping          EventType = "typing"
	EventPresenceChanged EventType = "presence_changed"
	EventMoodChanged     EventType = "mood_changed"
	EventStreakUpdated   EventType = "streak_updated"
	EventError           EventType = "error"

	EventStoryPosted EventType = "story_posted"
	EventStoryOpen   EventType = "story_open"
	EventStoryPause  EventType = "story_pause"
	EventStoryResume EventType = "story_resume"
	EventStoryNext   EventType = "story_next"
	EventStoryPrev   EventType = "story_prev"
	EventStoryClose  EventType = "story_close"
	EventStoryItem   EventType = "story_item"
	EventStoryClosed EventType = "story_closed"

	EventVoiceStart   EventType = "voice_start"
	EventVoiceChunk   EventType = "voice_chunk"
	EventVoiceMove    EventType = "voice_move"
	EventVoiceRelease EventType = "voice_release"
	EventVoiceCancel  EventType = "voice_cancel"
	EventVoiceState   EventType = "voice_state"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type    EventType `json:"type"`
	ChatID  string    `json:"chat_id,omitempty"`
	Content string    `json:"content,omitempty"`

	// Disappearing message; ExpiresInHours is clamped to 1..24.
	Ephemeral      bool `json:"ephemeral,omitempty"`
	ExpiresInHours int  `json:"expires_in_hours,omitempty"`

	IsTyping *bool `json:"is_typing,omitempty"`

	// For story playback
	OwnerID string `json:"owner_id,omitempty"`

	// For voice capture: base64 chunk and pointer offset from the press point.
	Data []byte  `json:"data,omitempty"`
	DX   float64 `json:"dx,omitempty"`
	DY   float64 `json:"dy,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// MessageDeletedPayload is broadcast when an ephemeral message expires.
type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}

// TypingPayload is broadcast to chat members other than the typer.
type TypingPayload struct {
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

func typingPayload(ev typing.Event) TypingPayload {
	return TypingPayload{ChatID: ev.ChatID, UserID: ev.UserID, Username: ev.Username, IsTyping: ev.IsTyping}
}

// PresencePayload carries the subject's presence as resolved for the receiving viewer.
type PresencePayload struct {
	UserID   string        `json:"user_id"`
	Presence presence.View `json:"presence"`
}

// MoodPayload is broadcast to contacts; Mood is nil when cleared or expired.
type MoodPayload struct {
	UserID string      `json:"user_id"`
	Mood   *model.Mood `json:"mood"`
}

// StoryPostedPayload notifies contacts about a new story.
type StoryPostedPayload struct {
	StoryID   string    `json:"story_id"`
	OwnerID   string    `json:"owner_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StoryItemPayload is sent when playback enters a story.
type StoryItemPayload struct {
	OwnerID    string       `json:"owner_id"`
	Index      int          `json:"index"`
	Total      int          `json:"total"`
	Story      *model.Story `json:"story"`
	DurationMs int64        `json:"duration_ms"`
}

// StoryClosedPayload is sent when playback ends.
type StoryClosedPayload struct {
	OwnerID string `json:"owner_id"`
}

// VoiceStatePayload reports recorder transitions and elapsed time.
type VoiceStatePayload struct {
	ChatID    string `json:"chat_id"`
	State     string `json:"state"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Sliding   bool   `json:"sliding,omitempty"`
	Reason    string `json:"reason,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// StreakPayload is sent to the sender after a message changed their streak.
type StreakPayload struct {
	Record    streak.Record `json:"streak"`
	Outcome   string        `json:"outcome"`
	Milestone bool          `json:"milestone,omitempty"`
}
