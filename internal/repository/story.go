package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/model"
)

const storyCols = `s.id, s.owner_id, s.content_ref, s.caption, s.created_at, s.expires_at`

type StoryRepository struct {
	pool *pgxpool.Pool
}

func NewStoryRepository(pool *pgxpool.Pool) *StoryRepository {
	return &StoryRepository{pool: pool}
}

func (r *StoryRepository) Create(ctx context.Context, s *model.Story) error {
	defer logger.DeferLogDuration("story.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO stories (id, owner_id, content_ref, caption, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.OwnerID, s.ContentRef, s.Caption, s.CreatedAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("storyRepo.Create: %w", err)
	}
	return nil
}

func scanStory(row pgx.CollectableRow) (model.Story, error) {
	var s model.Story
	err := row.Scan(&s.ID, &s.OwnerID, &s.ContentRef, &s.Caption, &s.CreatedAt, &s.ExpiresAt)
	return s, err
}

// scanStoryViewed — scanStory плюс флаг просмотра зрителем.
func scanStoryViewed(row pgx.CollectableRow) (model.Story, error) {
	var s model.Story
	err := row.Scan(&s.ID, &s.OwnerID, &s.ContentRef, &s.Caption, &s.CreatedAt, &s.ExpiresAt, &s.Viewed)
	return s, err
}

// GetByID возвращает активную историю. Истёкшая история не отличается от удалённой.
func (r *StoryRepository) GetByID(ctx context.Context, id string, now time.Time) (*model.Story, error) {
	defer logger.DeferLogDuration("story.GetByID", time.Now())()
	rows, _ := r.pool.Query(ctx,
		`SELECT `+storyCols+` FROM stories s WHERE s.id = $1 AND s.expires_at > $2`, id, now,
	)
	s, err := pgx.CollectExactlyOneRow(rows, scanStory)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storyRepo.GetByID: %w", err)
	}
	return &s, nil
}

// ListActiveForViewer — активные истории самого зрителя и его контактов, по авторам и времени
// публикации. Viewed отмечает истории, уже просмотренные зрителем.
func (r *StoryRepository) ListActiveForViewer(ctx context.Context, viewerID string, now time.Time) ([]model.Story, error) {
	defer logger.DeferLogDuration("story.ListActiveForViewer", time.Now())()
	rows, _ := r.pool.Query(ctx,
		`SELECT `+storyCols+`,
		        EXISTS (SELECT 1 FROM story_views v WHERE v.story_id = s.id AND v.viewer_id = $1)
		 FROM stories s
		 WHERE s.expires_at > $2
		   AND (s.owner_id = $1 OR s.owner_id IN (
		        SELECT other.user_id FROM chat_members me
		        JOIN chat_members other ON other.chat_id = me.chat_id
		        WHERE me.user_id = $1))
		 ORDER BY s.owner_id = $1 DESC, s.owner_id, s.created_at`, viewerID, now,
	)
	stories, err := pgx.CollectRows(rows, scanStoryViewed)
	if err != nil {
		return nil, fmt.Errorf("storyRepo.ListActiveForViewer: %w", err)
	}
	return stories, nil
}

// ListActiveByOwner — активные истории одного автора в порядке публикации (для просмотра подряд).
func (r *StoryRepository) ListActiveByOwner(ctx context.Context, ownerID string, now time.Time) ([]model.Story, error) {
	defer logger.DeferLogDuration("story.ListActiveByOwner", time.Now())()
	rows, _ := r.pool.Query(ctx,
		`SELECT `+storyCols+` FROM stories s WHERE s.owner_id = $1 AND s.expires_at > $2 ORDER BY s.created_at`,
		ownerID, now,
	)
	stories, err := pgx.CollectRows(rows, scanStory)
	if err != nil {
		return nil, fmt.Errorf("storyRepo.ListActiveByOwner: %w", err)
	}
	return stories, nil
}

// MarkViewed идемпотентна: повторный просмотр не меняет viewed_at. Возвращает true для первого просмотра.
func (r *StoryRepository) MarkViewed(ctx context.Context, storyID, viewerID string, at time.Time) (bool, error) {
	defer logger.DeferLogDuration("story.MarkViewed", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO story_views (story_id, viewer_id, viewed_at)
		 SELECT $1, $2, $3 WHERE EXISTS (SELECT 1 FROM stories WHERE id = $1 AND expires_at > $3)
		 ON CONFLICT (story_id, viewer_id) DO NOTHING`,
		storyID, viewerID, at,
	)
	if err != nil {
		return false, fmt.Errorf("storyRepo.MarkViewed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *StoryRepository) Viewers(ctx context.Context, storyID string) ([]model.StoryViewer, error) {
	defer logger.DeferLogDuration("story.Viewers", time.Now())()
	rows, _ := r.pool.Query(ctx,
		`SELECT v.viewer_id, u.username, v.viewed_at
		 FROM story_views v JOIN users u ON u.id = v.viewer_id
		 WHERE v.story_id = $1
		 ORDER BY v.viewed_at`, storyID,
	)
	viewers, err := pgx.CollectRows(rows, pgx.RowToStructByPos[model.StoryViewer])
	if err != nil {
		return nil, fmt.Errorf("storyRepo.Viewers: %w", err)
	}
	return viewers, nil
}

// Delete удаляет историю владельца и возвращает её content_ref; чужая или несуществующая — ErrNotFound.
func (r *StoryRepository) Delete(ctx context.Context, id, ownerID string) (string, error) {
	defer logger.DeferLogDuration("story.Delete", time.Now())()
	rows, _ := r.pool.Query(ctx,
		`DELETE FROM stories WHERE id = $1 AND owner_id = $2 RETURNING content_ref`, id, ownerID,
	)
	ref, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[string])
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storyRepo.Delete: %w", err)
	}
	return ref, nil
}

// DeleteExpired удаляет истории с expires_at <= before и возвращает их content_ref (для удаления файлов).
func (r *StoryRepository) DeleteExpired(ctx context.Context, before time.Time) ([]string, error) {
	defer logger.DeferLogDuration("story.DeleteExpired", time.Now())()
	rows, _ := r.pool.Query(ctx, `DELETE FROM stories WHERE expires_at <= $1 RETURNING content_ref`, before)
	refs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("storyRepo.DeleteExpired: %w", err)
	}
	return refs, nil
}
