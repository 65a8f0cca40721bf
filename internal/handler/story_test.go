package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/internal/config"
	"github.com/pulse/internal/model"
	"github.com/pulse/internal/repository"
	"github.com/pulse/internal/review"
)

type fakeStories struct {
	byID    map[string]*model.Story
	order   []string
	viewers map[string][]model.StoryViewer
}

func newFakeStories() *fakeStories {
	return &fakeStories{byID: map[string]*model.Story{}, viewers: map[string][]model.StoryViewer{}}
}

func (f *fakeStories) add(s model.Story) {
	f.byID[s.ID] = &s
	f.order = append(f.order, s.ID)
}

func (f *fakeStories) Create(_ context.Context, s *model.Story) error {
	f.add(*s)
	return nil
}

func (f *fakeStories) GetByID(_ context.Context, id string, now time.Time) (*model.Story, error) {
	s, ok := f.byID[id]
	if !ok || !now.Before(s.ExpiresAt) {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStories) ListActiveForViewer(_ context.Context, viewerID string, now time.Time) ([]model.Story, error) {
	var own, others []model.Story
	for _, id := range f.order {
		s, ok := f.byID[id]
		if !ok || !now.Before(s.ExpiresAt) {
			continue
		}
		cp := *s
		cp.Viewed = slices.ContainsFunc(f.viewers[id], func(v model.StoryViewer) bool { return v.UserID == viewerID })
		if s.OwnerID == viewerID {
			own = append(own, cp)
		} else {
			others = append(others, cp)
		}
	}
	slices.SortStableFunc(others, func(a, b model.Story) int { return strings.Compare(a.OwnerID, b.OwnerID) })
	return append(own, others...), nil
}

func (f *fakeStories) MarkViewed(_ context.Context, storyID, viewerID string, at time.Time) (bool, error) {
	if slices.ContainsFunc(f.viewers[storyID], func(v model.StoryViewer) bool { return v.UserID == viewerID }) {
		return false, nil
	}
	f.viewers[storyID] = append(f.viewers[storyID], model.StoryViewer{UserID: viewerID, ViewedAt: at})
	return true, nil
}

func (f *fakeStories) Viewers(_ context.Context, storyID string) ([]model.StoryViewer, error) {
	return f.viewers[storyID], nil
}

func (f *fakeStories) Delete(_ context.Context, id, ownerID string) (string, error) {
	s, ok := f.byID[id]
	if !ok || s.OwnerID != ownerID {
		return "", repository.ErrNotFound
	}
	delete(f.byID, id)
	return s.ContentRef, nil
}

type fakeMedia struct {
	removed []string
}

func (f *fakeMedia) Remove(_ context.Context, refs []string) (int, error) {
	f.removed = append(f.removed, refs...)
	return len(refs), nil
}

type fakeRelay struct {
	result review.Result
	got    []review.Submission
}

func (f *fakeRelay) Submit(_ context.Context, s review.Submission) review.Result {
	f.got = append(f.got, s)
	return f.result
}

func TestCreateStoryClampsLifetime(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/stories", "u1", CreateStoryRequest{ContentRef: "/api/media/a.jpg", ExpiresInHours: 48})
	require.Equal(t, http.StatusCreated, rec.Code)
	s := decode[model.Story](t, rec)
	assert.Equal(t, "u1", s.OwnerID)
	assert.Equal(t, 24*time.Hour, s.ExpiresAt.Sub(s.CreatedAt))
	require.Len(t, f.rt.stories, 1)
	assert.Equal(t, s.ID, f.rt.stories[0].ID)

	rec = f.do(t, http.MethodPost, "/api/stories", "u1", CreateStoryRequest{ContentRef: "/api/media/b.jpg"})
	require.Equal(t, http.StatusCreated, rec.Code)
	s = decode[model.Story](t, rec)
	assert.Equal(t, 24*time.Hour, s.ExpiresAt.Sub(s.CreatedAt))

	rec = f.do(t, http.MethodPost, "/api/stories", "u1", CreateStoryRequest{ContentRef: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/stories", "u1", CreateStoryRequest{ContentRef: "x", Caption: strings.Repeat("я", maxCaption+1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, f.rt.stories, 2)
}

func TestGetStoriesGroupsByOwner(t *testing.T) {
	f := newFixture()
	f.stories.add(model.Story{ID: "s1", OwnerID: "u2", CreatedAt: t0.Add(-3 * time.Hour), ExpiresAt: t0.Add(time.Hour)})
	f.stories.add(model.Story{ID: "s2", OwnerID: "u1", CreatedAt: t0.Add(-2 * time.Hour), ExpiresAt: t0.Add(time.Hour)})
	f.stories.add(model.Story{ID: "s3", OwnerID: "u2", CreatedAt: t0.Add(-time.Hour), ExpiresAt: t0.Add(time.Hour)})
	f.stories.add(model.Story{ID: "old", OwnerID: "u2", CreatedAt: t0.Add(-25 * time.Hour), ExpiresAt: t0.Add(-time.Hour)})
	f.stories.viewers["s1"] = []model.StoryViewer{{UserID: "u1", ViewedAt: t0}}

	rec := f.do(t, http.MethodGet, "/api/stories", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[[]model.StoryGroup](t, rec)
	require.Len(t, groups, 2)
	assert.Equal(t, "u1", groups[0].Owner.ID)
	assert.Equal(t, "u2", groups[1].Owner.ID)
	require.Len(t, groups[1].Stories, 2)
	assert.Equal(t, "s1", groups[1].Stories[0].ID)
	assert.True(t, groups[1].Stories[0].Viewed)
	assert.False(t, groups[1].Stories[1].Viewed)
}

func TestViewStory(t *testing.T) {
	f := newFixture()
	f.stories.add(model.Story{ID: "s1", OwnerID: "u2", CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)})

	rec := f.do(t, http.MethodPost, "/api/stories/s1/view", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ViewStoryResponse](t, rec).FirstView)

	rec = f.do(t, http.MethodPost, "/api/stories/s1/view", "u1", nil)
	assert.False(t, decode[ViewStoryResponse](t, rec).FirstView)

	rec = f.do(t, http.MethodPost, "/api/stories/s1/view", "u2", nil)
	assert.False(t, decode[ViewStoryResponse](t, rec).FirstView)

	rec = f.do(t, http.MethodPost, "/api/stories/s1/view", "u4", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Len(t, f.stories.viewers["s1"], 1)

	f.clock.Advance(time.Hour)
	rec = f.do(t, http.MethodPost, "/api/stories/s1/view", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetViewersOwnerOnly(t *testing.T) {
	f := newFixture()
	f.stories.add(model.Story{ID: "s1", OwnerID: "u2", CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)})
	f.stories.viewers["s1"] = []model.StoryViewer{{UserID: "u1", Username: "alice", ViewedAt: t0}}

	rec := f.do(t, http.MethodGet, "/api/stories/s1/viewers", "u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	viewers := decode[[]model.StoryViewer](t, rec)
	require.Len(t, viewers, 1)
	assert.Equal(t, "alice", viewers[0].Username)

	rec = f.do(t, http.MethodGet, "/api/stories/s1/viewers", "u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/stories/missing/viewers", "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteStory(t *testing.T) {
	f := newFixture()
	f.stories.add(model.Story{ID: "s1", OwnerID: "u2", ContentRef: "/api/media/s1.jpg", CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)})

	rec := f.do(t, http.MethodDelete, "/api/stories/s1", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, f.media.removed)

	rec = f.do(t, http.MethodDelete, "/api/stories/s1", "u2", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, f.stories.byID, "s1")
	assert.Equal(t, []string{"/api/media/s1.jpg"}, f.media.removed)

	rec = f.do(t, http.MethodDelete, "/api/stories/s1", "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, f.media.removed, 1)
}

func TestSubmitReview(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/reviews", "u1", review.Submission{Rating: 5, ReviewText: "Great little app!"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[review.Result](t, rec).Success)
	require.Len(t, f.relay.got, 1)
	assert.Equal(t, "alice", f.relay.got[0].Username)

	rec = f.do(t, http.MethodPost, "/api/reviews", "u1", review.Submission{Username: "x", Rating: 6, ReviewText: "Great little app!"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, review.Result{Error: review.MsgRating}, decode[review.Result](t, rec))

	rec = f.do(t, http.MethodPost, "/api/reviews", "u1", review.Submission{Username: "x", Rating: 4, ReviewText: " short "})
	assert.Equal(t, review.Result{Error: review.MsgTooShort}, decode[review.Result](t, rec))
	assert.Len(t, f.relay.got, 1)

	f.relay.result = review.Result{Error: review.MsgUpstream}
	rec = f.do(t, http.MethodPost, "/api/reviews", "u1", review.Submission{Rating: 3, ReviewText: "Okay-ish overall"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	f.relay.result = review.Result{Error: review.MsgDisabled}
	rec = f.do(t, http.MethodPost, "/api/reviews", "u1", review.Submission{Rating: 3, ReviewText: "Okay-ish overall"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, review.MsgDisabled, decode[review.Result](t, rec).Error)
}

func TestGetClientConfig(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("CONFIG_PATH", "/nonexistent.yaml")
	cfg := config.Load()
	h := NewConfigHandler(cfg)

	rec := httptest.NewRecorder()
	h.GetClientConfig(rec, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[ClientConfig](t, rec)
	assert.Equal(t, int64(1000), got.TypingThrottleMs)
	assert.Equal(t, int64(2000), got.TypingDebounceMs)
	assert.Equal(t, int64(3000), got.TypingWatchdogMs)
	assert.Equal(t, int64(5000), got.StoryViewWindowMs)
	assert.Equal(t, int64(500), got.VoiceMinMs)
	assert.Equal(t, "UTC", got.StreakTimezone)
}
