// Package events publishes domain events (story posted, streak milestone, ...) to a
// RabbitMQ topic exchange for downstream consumers.
package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeStoryPosted     = "story.posted"
	TypeStreakMilestone = "streak.milestone"
	TypeReviewSubmitted = "review.submitted"
	TypeVoiceSent       = "voice.sent"
)

// Producer is stamped on every envelope.
const Producer = "pulse-api"

type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Producer      string    `json:"producer,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

type Envelope struct {
	Meta    Meta `json:"meta"`
	Payload any  `json:"payload"`
}

// New wraps payload in a fresh envelope. The routing key is the event type.
func New(eventType string, payload any, at time.Time) Envelope {
	return Envelope{
		Meta: Meta{
			ID:         uuid.NewString(),
			Type:       eventType,
			Producer:   Producer,
			OccurredAt: at.UTC(),
		},
		Payload: payload,
	}
}

// WithCorrelation returns a copy carrying the request correlation id.
func (e Envelope) WithCorrelation(id string) Envelope {
	e.Meta.CorrelationID = id
	return e
}

type StoryPosted struct {
	StoryID   string    `json:"story_id"`
	OwnerID   string    `json:"owner_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type StreakMilestone struct {
	UserID string `json:"user_id"`
	Streak int    `json:"streak"`
}

type ReviewSubmitted struct {
	Username string `json:"username"`
	Rating   int    `json:"rating"`
}

type VoiceSent struct {
	MessageID  string `json:"message_id"`
	ChatID     string `json:"chat_id"`
	SenderID   string `json:"sender_id"`
	DurationMs int64  `json:"duration_ms"`
}
