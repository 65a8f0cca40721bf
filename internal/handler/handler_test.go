package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/internal/middleware"
	"github.com/pulse/internal/model"
	"github.com/pulse/internal/presence"
	"github.com/pulse/internal/repository"
	"github.com/pulse/internal/review"
	"github.com/pulse/internal/streak"
	"github.com/pulse/internal/timers/timerstest"
	"github.com/pulse/internal/typing"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeUsers struct {
	users    map[string]*model.User
	contacts map[string][]string
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByIDs(_ context.Context, ids []string) (map[string]*model.User, error) {
	out := make(map[string]*model.User, len(ids))
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (f *fakeUsers) Upsert(_ context.Context, u *model.User) error {
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeUsers) SearchByUsername(_ context.Context, q string, limit int) ([]model.User, error) {
	var out []model.User
	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		if u, ok := f.users[id]; ok && strings.HasPrefix(u.Username, q) && len(out) < limit {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUsers) SetPresenceStatus(_ context.Context, id string, status presence.Status) error {
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PresenceStatus = status
	return nil
}

func (f *fakeUsers) SetMood(_ context.Context, id string, mood *model.Mood) error {
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Mood = mood
	return nil
}

func (f *fakeUsers) GetContactIDs(_ context.Context, userID string) ([]string, error) {
	return f.contacts[userID], nil
}

type moodCall struct {
	userID string
	mood   *model.Mood
}

type fakeRealtime struct {
	online   map[string]bool
	typers   map[string][]typing.Typer
	presence []string
	moods    []moodCall
	stories  []*model.Story
}

func (f *fakeRealtime) Online(userID string) bool { return f.online[userID] }

func (f *fakeRealtime) Typing(chatID, viewerID string) []typing.Typer {
	var out []typing.Typer
	for _, t := range f.typers[chatID] {
		if t.UserID != viewerID {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeRealtime) BroadcastPresence(_ context.Context, userID string) {
	f.presence = append(f.presence, userID)
}

func (f *fakeRealtime) BroadcastMood(_ context.Context, userID string, mood *model.Mood) {
	f.moods = append(f.moods, moodCall{userID: userID, mood: mood})
}

func (f *fakeRealtime) BroadcastStoryPosted(_ context.Context, s *model.Story) {
	f.stories = append(f.stories, s)
}

type fakeChats struct {
	chats   map[string]*model.Chat
	members map[string][]string
}

func (f *fakeChats) GetUserChats(_ context.Context, userID string) ([]model.Chat, error) {
	var out []model.Chat
	for _, id := range []string{"chat1", "chat2", "new"} {
		if c, ok := f.chats[id]; ok && slices.Contains(f.members[id], userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeChats) FindPersonalChat(_ context.Context, a, b string) (*model.Chat, error) {
	for id, c := range f.chats {
		if c.ChatType == model.ChatTypePersonal && slices.Contains(f.members[id], a) && slices.Contains(f.members[id], b) {
			return c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeChats) CreatePersonal(_ context.Context, userID, peerID string, now time.Time) (*model.Chat, error) {
	c := &model.Chat{ID: "new", ChatType: model.ChatTypePersonal, CreatedBy: userID, CreatedAt: now}
	f.chats[c.ID] = c
	f.members[c.ID] = []string{userID, peerID}
	return c, nil
}

func (f *fakeChats) GetMemberIDs(_ context.Context, chatID string) ([]string, error) {
	return f.members[chatID], nil
}

func (f *fakeChats) IsMember(_ context.Context, chatID, userID string) (bool, error) {
	return slices.Contains(f.members[chatID], userID), nil
}

type fakeMessages struct {
	msgs       map[string][]model.Message
	lastLimit  int
	lastOffset int
}

func (f *fakeMessages) GetChatMessages(_ context.Context, chatID string, _ time.Time, limit, offset int) ([]model.Message, error) {
	f.lastLimit, f.lastOffset = limit, offset
	return f.msgs[chatID], nil
}

func (f *fakeMessages) GetLastMessage(_ context.Context, chatID string, _ time.Time) (*model.Message, error) {
	msgs := f.msgs[chatID]
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

type fakeStreaks struct {
	rec streak.Record
}

func (f *fakeStreaks) Get(context.Context, string) (streak.Record, error) { return f.rec, nil }

type fixture struct {
	users    *fakeUsers
	rt       *fakeRealtime
	chats    *fakeChats
	messages *fakeMessages
	stories  *fakeStories
	media    *fakeMedia
	relay    *fakeRelay
	clock    *timerstest.Clock
	router   chi.Router
}

func newFixture() *fixture {
	f := &fixture{
		users: &fakeUsers{
			users: map[string]*model.User{
				"u1": {ID: "u1", Username: "alice", PresenceStatus: presence.StatusOnline},
				"u2": {ID: "u2", Username: "bob", PresenceStatus: presence.StatusDND},
				"u3": {ID: "u3", Username: "carol", PresenceStatus: presence.StatusOnline, LastSeenAt: t0.Add(-2 * time.Minute)},
				"u4": {ID: "u4", Username: "dave", PresenceStatus: presence.StatusOnline},
			},
			contacts: map[string][]string{
				"u1": {"u2", "u3"},
				"u2": {"u1"},
				"u3": {"u1"},
			},
		},
		rt: &fakeRealtime{online: map[string]bool{"u1": true, "u2": true}},
		chats: &fakeChats{
			chats: map[string]*model.Chat{
				"chat1": {ID: "chat1", ChatType: model.ChatTypePersonal},
				"chat2": {ID: "chat2", ChatType: model.ChatTypePersonal},
			},
			members: map[string][]string{
				"chat1": {"u1", "u2"},
				"chat2": {"u1", "u3"},
			},
		},
		messages: &fakeMessages{msgs: map[string][]model.Message{
			"chat1": {{ID: "m2", ChatID: "chat1", Content: "later"}, {ID: "m1", ChatID: "chat1", Content: "first"}},
		}},
		stories: newFakeStories(),
		media:   &fakeMedia{},
		relay:   &fakeRelay{result: review.Result{Success: true}},
		clock:   timerstest.New(t0),
	}

	users := NewUserHandler(f.users, &fakeStreaks{rec: streak.Record{CurrentStreak: 3, LongestStreak: 8}}, f.rt, f.clock)
	chats := NewChatHandler(f.chats, f.users, f.messages, f.rt, f.clock)
	stories := NewStoryHandler(f.stories, f.users, f.users, f.media, f.rt, nil, f.clock, 24)
	reviews := NewReviewHandler(f.relay, f.users)

	r := chi.NewRouter()
	r.Use(middleware.DevAuth)
	r.Get("/api/users/me", users.GetProfile)
	r.Put("/api/users/me/status", users.UpdateStatus)
	r.Put("/api/users/me/mood", users.UpdateMood)
	r.Get("/api/users/me/streak", users.GetStreak)
	r.Get("/api/users/search", users.SearchUsers)
	r.Get("/api/users/{id}", users.GetUser)
	r.Get("/api/users/{id}/presence", users.GetPresence)
	r.Get("/api/chats", chats.GetChats)
	r.Post("/api/chats/personal", chats.CreatePersonalChat)
	r.Get("/api/chats/{chatId}/messages", chats.GetMessages)
	r.Get("/api/chats/{chatId}/typing", chats.GetTyping)
	r.Post("/api/stories", stories.CreateStory)
	r.Get("/api/stories", stories.GetStories)
	r.Post("/api/stories/{id}/view", stories.ViewStory)
	r.Get("/api/stories/{id}/viewers", stories.GetViewers)
	r.Delete("/api/stories/{id}", stories.DeleteStory)
	r.Post("/api/reviews", reviews.Submit)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-Id", userID)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestGetPresenceResolvedForViewer(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/api/users/u2/presence", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, presence.View{Status: presence.StatusDND, Text: presence.TextDND, Color: presence.ColorRed}, decode[presence.View](t, rec))

	f.users.users["u1"].PresenceStatus = presence.StatusInvisible
	rec = f.do(t, http.MethodGet, "/api/users/u2/presence", "u1", nil)
	assert.Equal(t, presence.View{Status: presence.StatusInvisible, Text: presence.TextHidden, Color: presence.ColorGray}, decode[presence.View](t, rec))
}

func TestGetPresenceOfflineShowsLastSeen(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/api/users/u3/presence", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, presence.View{Status: presence.StatusOffline, Text: presence.TextActiveNow, Color: presence.ColorGray}, decode[presence.View](t, rec))

	rec = f.do(t, http.MethodGet, "/api/users/nobody/presence", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetProfileAndUser(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/api/users/me", "u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[MeResponse](t, rec)
	assert.Equal(t, "bob", me.Username)
	assert.Equal(t, presence.StatusDND, me.PresenceStatus)

	rec = f.do(t, http.MethodGet, "/api/users/u2", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pub := decode[model.UserPublic](t, rec)
	require.NotNil(t, pub.Presence)
	assert.Equal(t, presence.StatusDND, pub.Presence.Status)
	assert.NotContains(t, rec.Body.String(), "presence_status")
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPut, "/api/users/me/status", "u1", UpdateStatusRequest{Status: "Idle"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, presence.StatusIdle, f.users.users["u1"].PresenceStatus)
	assert.Equal(t, []string{"u1"}, f.rt.presence)

	rec = f.do(t, http.MethodPut, "/api/users/me/status", "u1", UpdateStatusRequest{Status: "offline"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, presence.StatusIdle, f.users.users["u1"].PresenceStatus)
	assert.Len(t, f.rt.presence, 1)
}

func TestUpdateMood(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPut, "/api/users/me/mood", "u1", UpdateMoodRequest{Emoji: "🎧", Text: " focusing "})
	require.Equal(t, http.StatusOK, rec.Code)
	mood := f.users.users["u1"].Mood
	require.NotNil(t, mood)
	assert.Equal(t, "focusing", mood.Text)
	assert.Equal(t, t0.Add(MoodLifetime), mood.ExpiresAt)
	require.Len(t, f.rt.moods, 1)
	assert.Equal(t, mood, f.rt.moods[0].mood)

	rec = f.do(t, http.MethodPut, "/api/users/me/mood", "u1", UpdateMoodRequest{})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, f.users.users["u1"].Mood)
	require.Len(t, f.rt.moods, 2)
	assert.Nil(t, f.rt.moods[1].mood)

	rec = f.do(t, http.MethodPut, "/api/users/me/mood", "u1", UpdateMoodRequest{Text: strings.Repeat("x", maxMoodText+1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStreak(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/api/users/me/streak", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[streak.Record](t, rec)
	assert.Equal(t, 3, got.CurrentStreak)
	assert.Equal(t, 8, got.LongestStreak)
}

func TestSearchUsersSkipsSelf(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/api/users/search?q=a", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/users/search?q=bo", "u1", nil)
	got := decode[[]model.UserPublic](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "u2", got[0].ID)
}

func TestEnsureUserCreatesMissingProfile(t *testing.T) {
	f := newFixture()
	h := NewUserHandler(f.users, &fakeStreaks{}, f.rt, f.clock)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "u9"))
	rec := httptest.NewRecorder()
	h.EnsureUser(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	require.Contains(t, f.users.users, "u9")
	assert.Equal(t, "u9", f.users.users["u9"].Username)
}

func TestGetChats(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/api/chats", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	chats := decode[[]model.ChatWithLastMessage](t, rec)
	require.Len(t, chats, 2)
	assert.Equal(t, "chat1", chats[0].Chat.ID)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "m2", chats[0].LastMessage.ID)
	assert.Len(t, chats[0].Members, 2)
	assert.Nil(t, chats[1].LastMessage)
}

func TestCreatePersonalChat(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/chats/personal", "u1", CreatePersonalChatRequest{UserID: "u2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "chat1", decode[model.ChatWithLastMessage](t, rec).Chat.ID)

	rec = f.do(t, http.MethodPost, "/api/chats/personal", "u1", CreatePersonalChatRequest{UserID: "u4"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[model.ChatWithLastMessage](t, rec)
	assert.Equal(t, "new", created.Chat.ID)
	assert.True(t, t0.Equal(created.Chat.CreatedAt))
	assert.Len(t, created.Members, 2)

	rec = f.do(t, http.MethodPost, "/api/chats/personal", "u1", CreatePersonalChatRequest{UserID: "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chats/personal", "u1", CreatePersonalChatRequest{UserID: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chats/personal", "u1", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMessages(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/api/chats/chat1/messages?limit=1000&offset=-5", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Message](t, rec), 2)
	assert.Equal(t, defaultMessageLimit, f.messages.lastLimit)
	assert.Equal(t, 0, f.messages.lastOffset)

	f.do(t, http.MethodGet, "/api/chats/chat1/messages?limit=10&offset=20", "u1", nil)
	assert.Equal(t, 10, f.messages.lastLimit)
	assert.Equal(t, 20, f.messages.lastOffset)

	rec = f.do(t, http.MethodGet, "/api/chats/chat1/messages", "u3", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetTyping(t *testing.T) {
	f := newFixture()
	f.rt.typers = map[string][]typing.Typer{"chat1": {{UserID: "u2", Username: "bob", Since: t0}, {UserID: "u1", Username: "alice", Since: t0}}}

	rec := f.do(t, http.MethodGet, "/api/chats/chat1/typing", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]typing.Typer](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "u2", got[0].UserID)

	rec = f.do(t, http.MethodGet, "/api/chats/chat2/typing", "u1", nil)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/chats/chat1/typing", "u4", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
