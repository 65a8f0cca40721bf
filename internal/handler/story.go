package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pulse/internal/ephemeral"
	"github.com/pulse/internal/events"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/middleware"
	"github.com/pulse/internal/model"
	"github.com/pulse/internal/repository"
	"github.com/pulse/internal/timers"
)

const maxCaption = 200

type StoryStore interface {
	Create(ctx context.Context, s *model.Story) error
	GetByID(ctx context.Context, id string, now time.Time) (*model.Story, error)
	ListActiveForViewer(ctx context.Context, viewerID string, now time.Time) ([]model.Story, error)
	MarkViewed(ctx context.Context, storyID, viewerID string, at time.Time) (bool, error)
	Viewers(ctx context.Context, storyID string) ([]model.StoryViewer, error)
	Delete(ctx context.Context, id, ownerID string) (string, error)
}

// MediaRemover удаляет загруженные файлы историй; чужие ссылки пропускает.
type MediaRemover interface {
	Remove(ctx context.Context, refs []string) (int, error)
}

// ContactLister — пользователи, с которыми есть общий чат.
type ContactLister interface {
	GetContactIDs(ctx context.Context, userID string) ([]string, error)
}

type StoryHandler struct {
	stories  StoryStore
	users    UserLookup
	contacts ContactLister
	media    MediaRemover
	rt       Realtime
	pub      events.Publisher
	clock    timers.Clock
	// defaultHours — срок жизни, если клиент его не указал.
	defaultHours int
}

// NewStoryHandler: media может быть nil — тогда файлы удалённых историй остаются на диске.
func NewStoryHandler(stories StoryStore, users UserLookup, contacts ContactLister, media MediaRemover, rt Realtime, pub events.Publisher, clock timers.Clock, defaultHours int) *StoryHandler {
	return &StoryHandler{
		stories:      stories,
		users:        users,
		contacts:     contacts,
		media:        media,
		rt:           rt,
		pub:          pub,
		clock:        timers.OrReal(clock),
		defaultHours: defaultHours,
	}
}

type CreateStoryRequest struct {
	ContentRef     string `json:"content_ref"`
	Caption        string `json:"caption"`
	ExpiresInHours int    `json:"expires_in_hours"`
}

// CreateStory публикует историю. Срок жизни зажимается в [1ч, 24ч].
func (h *StoryHandler) CreateStory(w http.ResponseWriter, r *http.Request) {
	var req CreateStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.ContentRef = strings.TrimSpace(req.ContentRef)
	if req.ContentRef == "" {
		writeError(w, http.StatusBadRequest, "content_ref required")
		return
	}
	if len([]rune(req.Caption)) > maxCaption {
		writeError(w, http.StatusBadRequest, "caption is too long")
		return
	}
	if req.ExpiresInHours <= 0 {
		req.ExpiresInHours = h.defaultHours
	}
	now := h.clock.Now().UTC()
	s := &model.Story{
		ID:         uuid.NewString(),
		OwnerID:    middleware.GetUserID(r.Context()),
		ContentRef: req.ContentRef,
		Caption:    req.Caption,
		CreatedAt:  now,
		ExpiresAt:  ephemeral.ExpiresAt(now, ephemeral.ClampDuration(req.ExpiresInHours)),
	}
	if err := h.stories.Create(r.Context(), s); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create story")
		return
	}
	h.rt.BroadcastStoryPosted(r.Context(), s)
	events.Emit(h.pub, events.New(events.TypeStoryPosted, events.StoryPosted{
		StoryID:   s.ID,
		OwnerID:   s.OwnerID,
		ExpiresAt: s.ExpiresAt,
	}, now))
	writeJSON(w, http.StatusCreated, s)
}

// GetStories — активные истории зрителя и его контактов, сгруппированные по авторам.
// Свои истории идут первой группой.
func (h *StoryHandler) GetStories(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	now := h.clock.Now()
	stories, err := h.stories.ListActiveForViewer(r.Context(), userID, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stories")
		return
	}
	var ownerIDs []string
	grouped := make(map[string][]model.Story)
	for _, s := range stories {
		if _, ok := grouped[s.OwnerID]; !ok {
			ownerIDs = append(ownerIDs, s.OwnerID)
		}
		grouped[s.OwnerID] = append(grouped[s.OwnerID], s)
	}
	owners, err := publicUsers(r.Context(), h.users, h.rt, ownerIDs, viewerStatus(r.Context(), h.users, userID), now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get story owners")
		return
	}
	result := make([]model.StoryGroup, 0, len(owners))
	for _, o := range owners {
		result = append(result, model.StoryGroup{Owner: o, Stories: grouped[o.ID]})
	}
	writeJSON(w, http.StatusOK, result)
}

type ViewStoryResponse struct {
	FirstView bool `json:"first_view"`
}

// ViewStory отмечает просмотр. Повторный просмотр не меняет ничего; свой — не считается.
func (h *StoryHandler) ViewStory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	s, ok := h.visibleStory(w, r, userID)
	if !ok {
		return
	}
	if s.OwnerID == userID {
		writeJSON(w, http.StatusOK, ViewStoryResponse{})
		return
	}
	first, err := h.stories.MarkViewed(r.Context(), s.ID, userID, h.clock.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark viewed")
		return
	}
	writeJSON(w, http.StatusOK, ViewStoryResponse{FirstView: first})
}

// GetViewers — список просмотревших, только для автора.
func (h *StoryHandler) GetViewers(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	s, err := h.stories.GetByID(r.Context(), chi.URLParam(r, "id"), h.clock.Now())
	if err != nil {
		h.storyError(w, err)
		return
	}
	if s.OwnerID != userID {
		writeError(w, http.StatusForbidden, "only the author can see viewers")
		return
	}
	viewers, err := h.stories.Viewers(r.Context(), s.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get viewers")
		return
	}
	writeJSON(w, http.StatusOK, viewers)
}

// DeleteStory удаляет историю автора вместе с её файлом. Ошибка удаления файла только логируется:
// запись уже удалена, клиенту отвечаем успехом.
func (h *StoryHandler) DeleteStory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ref, err := h.stories.Delete(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		h.storyError(w, err)
		return
	}
	if h.media != nil && ref != "" {
		if _, err := h.media.Remove(r.Context(), []string{ref}); err != nil {
			logger.Errorf("story delete media id=%s: %v", id, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// visibleStory загружает активную историю, если зритель — автор или его контакт.
func (h *StoryHandler) visibleStory(w http.ResponseWriter, r *http.Request, viewerID string) (*model.Story, bool) {
	s, err := h.stories.GetByID(r.Context(), chi.URLParam(r, "id"), h.clock.Now())
	if err != nil {
		h.storyError(w, err)
		return nil, false
	}
	if s.OwnerID == viewerID {
		return s, true
	}
	contacts, err := h.contacts.GetContactIDs(r.Context(), s.OwnerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check access")
		return nil, false
	}
	if !slices.Contains(contacts, viewerID) {
		writeError(w, http.StatusNotFound, "story not found")
		return nil, false
	}
	return s, true
}

func (h *StoryHandler) storyError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "story not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to load story")
}
