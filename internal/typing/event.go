// Package typing implements "user X is typing" indicators: a throttled, self-expiring
// sender side (Broadcaster) and a watchdog-guarded receiver side (Tracker).
package typing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultThrottle bounds isTyping=true broadcasts per chat.
	DefaultThrottle = 1000 * time.Millisecond
	// DefaultDebounce is the inactivity window after which the sender stops by itself.
	DefaultDebounce = 2000 * time.Millisecond
	// DefaultWatchdog is how long a receiver keeps a typer without a fresh event.
	DefaultWatchdog = 3000 * time.Millisecond

	channelPrefix = "typing:"
)

// Event is a transient typing signal. It is never persisted.
type Event struct {
	ChatID   string    `json:"chat_id"`
	UserID   string    `json:"user_id"`
	Username string    `json:"username,omitempty"`
	IsTyping bool      `json:"is_typing"`
	SentAt   time.Time `json:"sent_at"`
}

// Publisher delivers events to everyone in the chat.
type Publisher interface {
	PublishTyping(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) PublishTyping(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Channel returns the pub/sub channel name for a chat.
func Channel(chatID string) string { return channelPrefix + chatID }

// ChannelPattern matches every typing channel.
func ChannelPattern() string { return channelPrefix + "*" }

// ChatFromChannel extracts the chat id from a channel name.
func ChatFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, channelPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(channel, channelPrefix)
	return id, id != ""
}

// Encode serializes an event for the bus.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode parses a bus payload. Events without chat or user are rejected.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("typing.Decode: %w", err)
	}
	if ev.ChatID == "" || ev.UserID == "" {
		return Event{}, fmt.Errorf("typing.Decode: chat_id and user_id required")
	}
	return ev, nil
}
