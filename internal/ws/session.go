package ws

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/pulse/internal/ephemeral"
	"github.com/pulse/internal/events"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/model"
	"github.com/pulse/internal/recorder"
	"github.com/pulse/internal/typing"
)

var errClientGone = errors.New("connection closed")

// typer returns the client's broadcaster for chatID, creating it after a membership check.
func (h *Hub) typer(ctx context.Context, c *Client, chatID string) (*typing.Broadcaster, error) {
	c.mu.Lock()
	b, ok := c.typers[chatID]
	c.mu.Unlock()
	if ok {
		return b, nil
	}
	isMember, err := h.deps.Chats.IsMember(ctx, chatID, c.userID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, errNotMember
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return nil, errClientGone
	}
	if b, ok := c.typers[chatID]; ok {
		return b, nil
	}
	b = typing.NewBroadcaster(typing.BusPublisher{Bus: h.deps.Store}, chatID, c.userID, c.username, h.opts.Typing)
	c.typers[chatID] = b
	return b, nil
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ChatID == "" {
		return
	}
	b, err := h.typer(ctx, c, msg.ChatID)
	if err != nil {
		if errors.Is(err, errNotMember) {
			h.sendError(c, err.Error())
		} else if !errors.Is(err, errClientGone) {
			logger.Errorf("ws typing chat=%s user=%s: %v", msg.ChatID, c.userID, err)
		}
		return
	}
	if msg.IsTyping == nil || *msg.IsTyping {
		err = b.StartTyping(ctx)
	} else {
		err = b.StopTyping(ctx)
	}
	if err != nil {
		logger.Warnf("ws typing publish chat=%s user=%s: %v", msg.ChatID, c.userID, err)
	}
}

func (c *Client) stopTyping(ctx context.Context, chatID string) {
	c.mu.Lock()
	b, ok := c.typers[chatID]
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := b.StopTyping(ctx); err != nil {
		logger.Warnf("ws typing stop chat=%s user=%s: %v", chatID, c.userID, err)
	}
}

// canSeeStories: own stories and those of anyone sharing a chat.
func (h *Hub) canSeeStories(ctx context.Context, viewerID, ownerID string) (bool, error) {
	if viewerID == ownerID {
		return true, nil
	}
	contacts, err := h.deps.Users.GetContactIDs(ctx, viewerID)
	if err != nil {
		return false, err
	}
	return slices.Contains(contacts, ownerID), nil
}

func (h *Hub) handleStoryOpen(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.OwnerID == "" {
		h.sendError(c, "owner_id required")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ok, err := h.canSeeStories(ctx, c.userID, msg.OwnerID)
	if err != nil {
		logger.Errorf("ws story access owner=%s user=%s: %v", msg.OwnerID, c.userID, err)
		h.sendError(c, "internal error")
		return
	}
	if !ok {
		h.sendError(c, "stories not available")
		return
	}
	stories, err := h.deps.Stories.ListActiveByOwner(ctx, msg.OwnerID, h.clock.Now())
	if err != nil {
		logger.Errorf("ws list stories owner=%s: %v", msg.OwnerID, err)
		h.sendError(c, "internal error")
		return
	}

	items := make([]ephemeral.Item, len(stories))
	for i, s := range stories {
		items[i] = ephemeral.Item{ID: s.ID, ExpiresAt: s.ExpiresAt}
	}
	sess := &storySession{ownerID: msg.OwnerID}
	sess.viewer = ephemeral.NewViewer(items, ephemeral.Options{
		ViewWindow: h.opts.StoryViewWindow,
		Tick:       h.opts.StoryTick,
		Clock:      h.clock,
		OnEnter: func(i int, _ ephemeral.Item) {
			h.onStoryEnter(c, sess, &stories[i], i, len(stories))
		},
		OnClose: func() {
			h.onStoryClosed(c, sess)
		},
	})

	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	prev := c.story
	c.story = sess
	c.mu.Unlock()
	if prev != nil {
		prev.viewer.Close()
	}
	sess.viewer.Start()
}

func (h *Hub) onStoryEnter(c *Client, sess *storySession, s *model.Story, index, total int) {
	if c.userID != s.OwnerID {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if _, err := h.deps.Stories.MarkViewed(ctx, s.ID, c.userID, h.clock.Now().UTC()); err != nil {
			logger.Errorf("ws mark story viewed story=%s user=%s: %v", s.ID, c.userID, err)
		}
		cancel()
		s.Viewed = true
	}
	h.sendToClient(c, OutgoingMessage{Type: EventStoryItem, Payload: StoryItemPayload{
		OwnerID:    sess.ownerID,
		Index:      index,
		Total:      total,
		Story:      s,
		DurationMs: sess.viewer.Duration().Milliseconds(),
	}})
}

func (h *Hub) onStoryClosed(c *Client, sess *storySession) {
	c.mu.Lock()
	if c.story == sess {
		c.story = nil
	}
	c.mu.Unlock()
	h.sendToClient(c, OutgoingMessage{Type: EventStoryClosed, Payload: StoryClosedPayload{OwnerID: sess.ownerID}})
}

func (h *Hub) handleStoryControl(c *Client, ev EventType) {
	c.mu.Lock()
	sess := c.story
	c.mu.Unlock()
	if sess == nil {
		h.sendError(c, "no story open")
		return
	}
	switch ev {
	case EventStoryPause:
		sess.viewer.Pause()
	case EventStoryResume:
		sess.viewer.Resume()
	case EventStoryNext:
		sess.viewer.Advance()
	case EventStoryPrev:
		sess.viewer.GoBack()
	case EventStoryClose:
		sess.viewer.Close()
	}
}

// voiceSession returns the client's recorder, creating it on first use.
func (h *Hub) voiceSession(c *Client) (*recorder.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return nil, errClientGone
	}
	if c.voice != nil {
		return c.voice, nil
	}
	opts := h.opts.Recorder
	opts.Clock = h.clock
	opts.OnTransition = func(_, to recorder.State) {
		h.sendVoiceState(c, VoiceStatePayload{State: to.String()})
	}
	opts.OnTick = func(elapsed time.Duration) {
		h.sendVoiceState(c, VoiceStatePayload{State: recorder.Recording.String(), ElapsedMs: elapsed.Milliseconds()})
	}
	opts.OnLimit = func(out recorder.Outcome) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		h.sendVoice(ctx, c, out)
	}
	ttl := opts.MaxDuration
	if ttl <= 0 {
		ttl = recorder.DefaultMaxDuration
	}
	c.voice = recorder.NewSession(recorder.LeaseDevice{
		Store:  h.deps.Store,
		UserID: c.userID,
		TTL:    ttl + 30*time.Second,
	}, opts)
	return c.voice, nil
}

func (h *Hub) currentVoice(c *Client) *recorder.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voice
}

func (h *Hub) sendVoiceState(c *Client, p VoiceStatePayload) {
	c.mu.Lock()
	p.ChatID = c.voiceChat
	c.mu.Unlock()
	h.sendToClient(c, OutgoingMessage{Type: EventVoiceState, Payload: p})
}

func (h *Hub) handleVoiceStart(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ChatID == "" {
		h.sendError(c, "chat_id required")
		return
	}
	memberCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	ok := h.checkMember(memberCtx, c, msg.ChatID)
	cancel()
	if !ok {
		return
	}
	s, err := h.voiceSession(c)
	if err != nil {
		return
	}
	if s.State() == recorder.Recording {
		h.sendError(c, "already recording")
		return
	}
	c.mu.Lock()
	c.voiceChat = msg.ChatID
	c.mu.Unlock()

	switch err := s.Start(ctx); {
	case err == nil:
	case errors.Is(err, recorder.ErrDeviceBusy):
		h.sendError(c, "microphone is busy")
	case errors.Is(err, recorder.ErrPermissionDenied):
		h.sendError(c, "microphone permission denied")
	case errors.Is(err, recorder.ErrAlreadyRecording):
		h.sendError(c, "already recording")
	default:
		logger.Errorf("ws voice start user=%s: %v", c.userID, err)
		h.sendError(c, "failed to start recording")
	}
}

func (h *Hub) handleVoiceChunk(c *Client, msg IncomingMessage) {
	s := h.currentVoice(c)
	if s == nil {
		h.sendError(c, "not recording")
		return
	}
	if _, err := s.Write(msg.Data); err != nil {
		if errors.Is(err, recorder.ErrTooLarge) {
			out := s.Cancel()
			h.sendVoiceState(c, VoiceStatePayload{State: out.State.String(), Reason: "too_large"})
			return
		}
		h.sendError(c, "not recording")
	}
}

func (h *Hub) handleVoiceMove(c *Client, msg IncomingMessage) {
	s := h.currentVoice(c)
	if s == nil {
		return
	}
	was := s.Sliding()
	s.Track(msg.DX, msg.DY)
	if now := s.Sliding(); now != was {
		h.sendVoiceState(c, VoiceStatePayload{
			State:     recorder.Recording.String(),
			ElapsedMs: s.Elapsed().Milliseconds(),
			Sliding:   now,
		})
	}
}

func (h *Hub) handleVoiceRelease(ctx context.Context, c *Client) {
	s := h.currentVoice(c)
	if s == nil {
		h.sendError(c, "not recording")
		return
	}
	out, err := s.Release()
	if err != nil {
		h.sendError(c, "not recording")
		return
	}
	if out.State != recorder.Sending {
		h.sendVoiceState(c, VoiceStatePayload{State: out.State.String(), Reason: out.Reason})
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	h.sendVoice(ctx, c, out)
}

func (h *Hub) handleVoiceCancel(c *Client) {
	s := h.currentVoice(c)
	if s == nil {
		return
	}
	out := s.Cancel()
	if out.State == recorder.Cancelled {
		h.sendVoiceState(c, VoiceStatePayload{State: out.State.String(), Reason: out.Reason})
	}
}

// sendVoice stores the clip and posts it to the recording's chat as a voice message.
func (h *Hub) sendVoice(ctx context.Context, c *Client, out recorder.Outcome) {
	c.mu.Lock()
	chatID := c.voiceChat
	c.mu.Unlock()
	clip := out.Clip
	if clip == nil || chatID == "" {
		return
	}

	up, err := h.deps.Clips.SaveClip(ctx, clip.Data, clip.MIMEType)
	if err != nil {
		logger.Errorf("ws save voice clip user=%s: %v", c.userID, err)
		h.sendVoiceState(c, VoiceStatePayload{State: "failed", Reason: "upload_failed"})
		return
	}

	now := h.clock.Now().UTC()
	m := &model.Message{
		ID:          uuid.New().String(),
		ChatID:      chatID,
		SenderID:    c.userID,
		ContentType: model.ContentTypeVoice,
		FileURL:     up.URL,
		DurationMs:  clip.Duration.Milliseconds(),
		CreatedAt:   now,
	}
	if err := h.deps.Messages.Create(ctx, m); err != nil {
		logger.Errorf("ws save voice message chat=%s user=%s: %v", chatID, c.userID, err)
		h.sendVoiceState(c, VoiceStatePayload{State: "failed", Reason: "save_failed"})
		return
	}

	h.deliver(ctx, m)
	events.Emit(h.deps.Events, events.New(events.TypeVoiceSent, events.VoiceSent{
		MessageID:  m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		DurationMs: m.DurationMs,
	}, now))
	h.sendVoiceState(c, VoiceStatePayload{
		State:     "sent",
		ElapsedMs: m.DurationMs,
		Reason:    out.Reason,
		MessageID: m.ID,
	})
}
