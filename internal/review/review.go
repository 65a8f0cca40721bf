// Package review validates app reviews and forwards them to a third-party webhook.
package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pulse/internal/events"
	"github.com/pulse/internal/logger"
)

const (
	MinRating     = 1
	MaxRating     = 5
	MinTextLength = 10

	MsgRating   = "Rating must be between 1 and 5"
	MsgTooShort = "Review must be at least 10 characters"
	MsgUsername = "Username is required"
	MsgDisabled = "Reviews are not accepted right now"
	MsgUpstream = "Failed to submit review"
)

type Submission struct {
	Username   string `json:"username"`
	Rating     int    `json:"rating"`
	ReviewText string `json:"reviewText"`
}

// Result is what callers get back; Submit never returns a Go error.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ValidationError is a user-facing rejection decided before any network call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validate checks a submission. Length counts characters of the trimmed text.
func Validate(s Submission) error {
	if s.Rating < MinRating || s.Rating > MaxRating {
		return &ValidationError{Message: MsgRating}
	}
	if utf8.RuneCountInString(strings.TrimSpace(s.ReviewText)) < MinTextLength {
		return &ValidationError{Message: MsgTooShort}
	}
	if strings.TrimSpace(s.Username) == "" {
		return &ValidationError{Message: MsgUsername}
	}
	return nil
}

// webhookPayload is the body posted to the webhook.
type webhookPayload struct {
	Username    string    `json:"username"`
	Rating      int       `json:"rating"`
	ReviewText  string    `json:"review_text"`
	Content     string    `json:"content"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Relay posts valid submissions to WebhookURL. An empty URL disables submissions.
type Relay struct {
	webhookURL string
	httpClient *http.Client
	events     events.Publisher
	now        func() time.Time
}

// NewRelay creates a relay; pub may be nil.
func NewRelay(webhookURL string, timeout time.Duration, pub events.Publisher) *Relay {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Relay{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
		events:     pub,
		now:        time.Now,
	}
}

// Submit validates and forwards s.
func (r *Relay) Submit(ctx context.Context, s Submission) Result {
	if err := Validate(s); err != nil {
		return Result{Error: err.Error()}
	}
	if r.webhookURL == "" {
		return Result{Error: MsgDisabled}
	}
	if err := r.post(ctx, s); err != nil {
		logger.Warnf("review: webhook: %v", err)
		return Result{Error: MsgUpstream}
	}
	events.Emit(r.events, events.New(events.TypeReviewSubmitted, events.ReviewSubmitted{
		Username: strings.TrimSpace(s.Username),
		Rating:   s.Rating,
	}, r.now()))
	return Result{Success: true}
}

func (r *Relay) post(ctx context.Context, s Submission) error {
	text := strings.TrimSpace(s.ReviewText)
	username := strings.TrimSpace(s.Username)
	body, err := json.Marshal(webhookPayload{
		Username:    username,
		Rating:      s.Rating,
		ReviewText:  text,
		Content:     fmt.Sprintf("%s %s\n%s: %s", strings.Repeat("★", s.Rating), strings.Repeat("☆", MaxRating-s.Rating), username, text),
		SubmittedAt: r.now().UTC(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
