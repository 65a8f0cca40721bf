package ws

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulse/internal/audioserver"
	"github.com/pulse/internal/ephemeral"
	"github.com/pulse/internal/events"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/model"
	"github.com/pulse/internal/presence"
	"github.com/pulse/internal/recorder"
	"github.com/pulse/internal/storage"
	"github.com/pulse/internal/streak"
	"github.com/pulse/internal/timers"
	"github.com/pulse/internal/typing"
)

// PushNotifier отправляет пуш-уведомления. Если nil — пуши не отправляются.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type ChatStore interface {
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	GetMemberIDs(ctx context.Context, chatID string) ([]string, error)
}

type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*model.User, error)
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
	GetContactIDs(ctx context.Context, userID string) ([]string, error)
}

type StoryStore interface {
	ListActiveByOwner(ctx context.Context, ownerID string, now time.Time) ([]model.Story, error)
	MarkViewed(ctx context.Context, storyID, viewerID string, at time.Time) (bool, error)
}

type StreakRecorder interface {
	RecordActivity(ctx context.Context, userID, content string) (streak.Record, streak.Result, error)
}

// Deps are the hub's collaborators. Streaks, Push and Events may be nil.
type Deps struct {
	Chats    ChatStore
	Messages MessageStore
	Users    UserStore
	Stories  StoryStore
	Streaks  StreakRecorder
	Clips    audioserver.ClipStore
	// Store carries typing events between API instances and holds microphone leases.
	Store  storage.Store
	Events events.Publisher
	Push   PushNotifier
	Clock  timers.Clock
}

type Options struct {
	MaxConns       int
	SendBuffer     int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64

	Typing          typing.Options
	StoryViewWindow time.Duration
	StoryTick       time.Duration
	// Recorder callbacks and clock are set by the hub.
	Recorder recorder.Options
}

func (o Options) withDefaults() Options {
	if o.MaxConns <= 0 {
		o.MaxConns = 10000
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	return o
}

const typingResubscribeDelay = 2 * time.Second

var errNotMember = errors.New("not a member")

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	deps     Deps
	opts     Options
	clock    timers.Clock
	registry *typing.Registry

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(deps Deps, opts Options) *Hub {
	opts = opts.withDefaults()
	clock := timers.OrReal(deps.Clock)
	opts.Typing.Clock = clock
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		deps:       deps,
		opts:       opts,
		clock:      clock,
		registry:   typing.NewRegistry(opts.Typing),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Run serves register/unregister until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.runTypingBus(ctx)
	}()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			wg.Wait()
			h.registry.Close()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// runTypingBus feeds typing events from every API instance into the registry and
// local chat members. A broken subscription clears all indicators and is re-established.
func (h *Hub) runTypingBus(ctx context.Context) {
	for ctx.Err() == nil {
		sub, err := h.deps.Store.PSubscribe(ctx, typing.ChannelPattern())
		if err != nil {
			h.registry.FailAll(err)
		} else {
			_ = typing.Pump(ctx, sub, h.onTyping, h.registry.FailAll)
			_ = sub.Close()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(typingResubscribeDelay):
		}
	}
}

func (h *Hub) onTyping(ev typing.Event) {
	h.registry.Handle(ev)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	memberIDs, err := h.deps.Chats.GetMemberIDs(ctx, ev.ChatID)
	if err != nil {
		logger.Errorf("ws get members for typing chat=%s: %v", ev.ChatID, err)
		return
	}
	out := OutgoingMessage{Type: EventTyping, Payload: typingPayload(ev)}
	for _, uid := range memberIDs {
		if uid != ev.UserID {
			h.sendToUser(uid, out)
		}
	}
}

// Typing lists who is typing in chatID as seen by viewerID.
func (h *Hub) Typing(chatID, viewerID string) []typing.Typer {
	return h.registry.Typing(chatID, viewerID)
}

// SweepTyping drops idle per-chat trackers.
func (h *Hub) SweepTyping() int {
	return h.registry.Sweep()
}

// Online reports whether the user has a live connection to this instance.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
		c.closeSessions()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.opts.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.opts.MaxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	first := len(h.clients[c.userID]) == 1
	h.mu.Unlock()

	if first {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.BroadcastPresence(ctx, c.userID)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
	c.closeSessions()

	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.deps.Users.TouchLastSeen(ctx, c.userID, h.clock.Now().UTC()); err != nil {
			logger.Errorf("ws touch last_seen user=%s: %v", c.userID, err)
		}
		h.BroadcastPresence(ctx, c.userID)
	}
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventNewMessage:
		h.handleNewMessage(ctx, c, msg)
	case EventTyping:
		h.handleTyping(ctx, c, msg)
	case EventStoryOpen:
		h.handleStoryOpen(ctx, c, msg)
	case EventStoryPause, EventStoryResume, EventStoryNext, EventStoryPrev, EventStoryClose:
		h.handleStoryControl(c, msg.Type)
	case EventVoiceStart:
		h.handleVoiceStart(ctx, c, msg)
	case EventVoiceChunk:
		h.handleVoiceChunk(c, msg)
	case EventVoiceMove:
		h.handleVoiceMove(c, msg)
	case EventVoiceRelease:
		h.handleVoiceRelease(ctx, c)
	case EventVoiceCancel:
		h.handleVoiceCancel(c)
	default:
		h.sendError(c, "unknown event type")
	}
}

func (h *Hub) sendError(c *Client, text string) {
	h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: text})
}

func (h *Hub) checkMember(ctx context.Context, c *Client, chatID string) bool {
	isMember, err := h.deps.Chats.IsMember(ctx, chatID, c.userID)
	if err != nil {
		logger.Errorf("ws check membership chat=%s user=%s: %v", chatID, c.userID, err)
		h.sendError(c, "internal error")
		return false
	}
	if !isMember {
		h.sendError(c, errNotMember.Error())
		return false
	}
	return true
}

func (h *Hub) handleNewMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleNewMessage", time.Now())()
	if msg.ChatID == "" || strings.TrimSpace(msg.Content) == "" {
		h.sendError(c, "chat_id and content required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if !h.checkMember(ctx, c, msg.ChatID) {
		return
	}

	now := h.clock.Now().UTC()
	m := &model.Message{
		ID:          uuid.New().String(),
		ChatID:      msg.ChatID,
		SenderID:    c.userID,
		Content:     msg.Content,
		ContentType: model.ContentTypeText,
		Ephemeral:   msg.Ephemeral,
		CreatedAt:   now,
	}
	if msg.Ephemeral {
		exp := ephemeral.ExpiresAt(now, ephemeral.ClampDuration(msg.ExpiresInHours))
		m.ExpiresAt = &exp
	}

	if err := h.deps.Messages.Create(ctx, m); err != nil {
		logger.Errorf("ws save message chat=%s user=%s: %v", msg.ChatID, c.userID, err)
		h.sendError(c, "failed to save message")
		return
	}

	// A sent message ends the sender's indicator in that chat.
	c.stopTyping(ctx, msg.ChatID)
	h.deliver(ctx, m)
	h.recordActivity(ctx, c, m.Content)
}

// deliver fans the message out to chat members, each with the sender's presence as
// resolved for that member, and pushes it to everyone but the sender.
func (h *Hub) deliver(ctx context.Context, m *model.Message) {
	memberIDs, err := h.deps.Chats.GetMemberIDs(ctx, m.ChatID)
	if err != nil {
		logger.Errorf("ws get members chat=%s: %v", m.ChatID, err)
		return
	}

	sender, err := h.deps.Users.GetByID(ctx, m.SenderID)
	if err != nil {
		logger.Errorf("ws get sender user=%s: %v", m.SenderID, err)
		for _, uid := range memberIDs {
			h.sendToUser(uid, OutgoingMessage{Type: EventNewMessage, Payload: m})
		}
	} else {
		members, err := h.deps.Users.GetByIDs(ctx, memberIDs)
		if err != nil {
			logger.Errorf("ws get members for presence chat=%s: %v", m.ChatID, err)
		}
		now := h.clock.Now()
		for _, uid := range memberIDs {
			viewerStatus := presence.StatusOnline
			if u, ok := members[uid]; ok && u.PresenceStatus != "" {
				viewerStatus = u.PresenceStatus
			}
			pub := sender.ToPublic(viewerStatus, true, now)
			cp := *m
			cp.Sender = &pub
			h.sendToUser(uid, OutgoingMessage{Type: EventNewMessage, Payload: &cp})
		}
	}

	if h.deps.Push == nil {
		return
	}
	title := "New message"
	if sender != nil && sender.Username != "" {
		title = sender.Username
	}
	body := m.Content
	switch {
	case m.ContentType == model.ContentTypeVoice:
		body = "Voice message"
	case m.Ephemeral:
		body = "Disappearing message"
	case len([]rune(body)) > 120:
		body = string([]rune(body)[:117]) + "..."
	}
	data := map[string]string{"chat_id": m.ChatID, "message_id": m.ID}
	for _, uid := range memberIDs {
		if uid != m.SenderID {
			uid := uid
			go h.deps.Push.Notify(context.Background(), uid, title, body, data)
		}
	}
}

func (h *Hub) recordActivity(ctx context.Context, c *Client, content string) {
	if h.deps.Streaks == nil {
		return
	}
	rec, res, err := h.deps.Streaks.RecordActivity(ctx, c.userID, content)
	if err != nil {
		logger.Errorf("ws record streak user=%s: %v", c.userID, err)
		return
	}
	if !res.Changed() {
		return
	}
	h.sendToUser(c.userID, OutgoingMessage{Type: EventStreakUpdated, Payload: StreakPayload{
		Record:    rec,
		Outcome:   res.Outcome.String(),
		Milestone: res.Milestone > 0,
	}})
}

// BroadcastPresence sends each locally connected contact the subject's presence as
// resolved for that contact.
func (h *Hub) BroadcastPresence(ctx context.Context, userID string) {
	subject, err := h.deps.Users.GetByID(ctx, userID)
	if err != nil {
		logger.Errorf("ws get user for presence user=%s: %v", userID, err)
		return
	}
	viewers := h.localContacts(ctx, userID)
	if len(viewers) == 0 {
		return
	}
	users, err := h.deps.Users.GetByIDs(ctx, viewers)
	if err != nil {
		logger.Errorf("ws get viewers for presence user=%s: %v", userID, err)
		return
	}
	now := h.clock.Now()
	status := presence.Connected(subject.PresenceStatus, h.Online(userID))
	for _, id := range viewers {
		viewerStatus := presence.StatusOnline
		if u, ok := users[id]; ok && u.PresenceStatus != "" {
			viewerStatus = u.PresenceStatus
		}
		h.sendToUser(id, OutgoingMessage{Type: EventPresenceChanged, Payload: PresencePayload{
			UserID:   userID,
			Presence: presence.Resolve(status, viewerStatus, subject.LastSeenAt, now),
		}})
	}
}

// BroadcastMood tells contacts about a new or cleared mood.
func (h *Hub) BroadcastMood(ctx context.Context, userID string, mood *model.Mood) {
	out := OutgoingMessage{Type: EventMoodChanged, Payload: MoodPayload{UserID: userID, Mood: mood}}
	for _, id := range h.localContacts(ctx, userID) {
		h.sendToUser(id, out)
	}
}

// BroadcastStoryPosted tells contacts about a new story.
func (h *Hub) BroadcastStoryPosted(ctx context.Context, s *model.Story) {
	out := OutgoingMessage{Type: EventStoryPosted, Payload: StoryPostedPayload{
		StoryID:   s.ID,
		OwnerID:   s.OwnerID,
		ExpiresAt: s.ExpiresAt,
	}}
	for _, id := range h.localContacts(ctx, s.OwnerID) {
		h.sendToUser(id, out)
	}
}

// BroadcastToChat sends a message to all members of a chat.
func (h *Hub) BroadcastToChat(ctx context.Context, chatID string, msg OutgoingMessage) {
	defer logger.DeferLogDuration("ws.BroadcastToChat", time.Now())()
	memberIDs, err := h.deps.Chats.GetMemberIDs(ctx, chatID)
	if err != nil {
		logger.Errorf("ws broadcast to chat %s: %v", chatID, err)
		return
	}
	for _, uid := range memberIDs {
		h.sendToUser(uid, msg)
	}
}

// MessagesDeleted broadcasts message_deleted for expired ephemeral messages.
func (h *Hub) MessagesDeleted(ctx context.Context, refs []model.MessageRef) {
	for _, ref := range refs {
		h.BroadcastToChat(ctx, ref.ChatID, OutgoingMessage{Type: EventMessageDeleted, Payload: MessageDeletedPayload{
			MessageID: ref.ID,
			ChatID:    ref.ChatID,
		}})
	}
}

// localContacts returns the user's contacts that are connected to this instance.
func (h *Hub) localContacts(ctx context.Context, userID string) []string {
	contactIDs, err := h.deps.Users.GetContactIDs(ctx, userID)
	if err != nil {
		logger.Errorf("ws get contacts user=%s: %v", userID, err)
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := contactIDs[:0]
	for _, id := range contactIDs {
		if id != userID && len(h.clients[id]) > 0 {
			out = append(out, id)
		}
	}
	return out
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
